package services

import "errors"

// Task errors
var (
	ErrTaskInvalidInput = errors.New("task: invalid input")
	ErrNilTask          = errors.New("task: nil task item")
	ErrTaskTimeout      = errors.New("task: execution timed out")
)

// Queue errors
var (
	ErrQueueClosed = errors.New("queue: closed")
)

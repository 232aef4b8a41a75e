package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUID generates a random UUID v4
func GenerateUUID() string {
	return uuid.New().String()
}

// GenerateShortID generates 8 random hex characters (4 bytes).
// Used to tag transport handles in logs.
func GenerateShortID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "deadbeef" // Fallback (should never happen)
	}
	return fmt.Sprintf("%x", b)
}

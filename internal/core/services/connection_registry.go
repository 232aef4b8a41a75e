package services

import (
	"context"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/taskstream/backend/internal/core/ports"
	"github.com/taskstream/backend/internal/infrastructure/logger"
	"github.com/taskstream/backend/pkg/utils/idgen"
)

// handleSet is the group of open handles sharing one client identifier.
// Each set carries its own lock, so traffic for one identifier never waits
// on another. A set is retired once it empties and is never reused.
type handleSet struct {
	mu      sync.Mutex
	conns   map[ports.Connection]struct{}
	retired bool
}

func (s *handleSet) snapshot() []ports.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ports.Connection, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// ConnectionRegistry maps client identifiers to their live handles and the
// handles back to their identifier.
type ConnectionRegistry struct {
	clients sync.Map // string -> *handleSet
	owners  sync.Map // ports.Connection -> string
	logger  *logger.Logger
}

func NewConnectionRegistry(log *logger.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{logger: log}
}

// Register adds conn under desiredID, or under a fresh identifier when
// desiredID is empty, and returns the identifier used.
func (r *ConnectionRegistry) Register(conn ports.Connection, desiredID string) string {
	id := strings.TrimSpace(desiredID)
	if id == "" {
		id = idgen.GenerateUUID()
	}

	// a handle belongs to exactly one identifier
	if _, ok := r.owners.Load(conn); ok {
		r.Unregister(conn)
	}

	for {
		v, _ := r.clients.LoadOrStore(id, &handleSet{conns: make(map[ports.Connection]struct{})})
		set := v.(*handleSet)

		set.mu.Lock()
		if set.retired {
			// lost a race with the last Unregister of this id; the retired
			// set is being removed, try again with a new one
			set.mu.Unlock()
			continue
		}
		set.conns[conn] = struct{}{}
		r.owners.Store(conn, id)
		count := len(set.conns)
		set.mu.Unlock()

		r.logger.Infow("connection_registered",
			"client_id", id,
			"connection_id", conn.ID(),
			"client_connections", count,
		)
		return id
	}
}

// Unregister removes conn from both maps and prunes its identifier when it
// was the last handle. It reports the identifier conn belonged to.
func (r *ConnectionRegistry) Unregister(conn ports.Connection) (string, bool) {
	v, ok := r.owners.LoadAndDelete(conn)
	if !ok {
		return "", false
	}
	id := v.(string)

	if sv, ok := r.clients.Load(id); ok {
		set := sv.(*handleSet)
		set.mu.Lock()
		delete(set.conns, conn)
		if len(set.conns) == 0 && !set.retired {
			set.retired = true
			r.clients.CompareAndDelete(id, set)
		}
		set.mu.Unlock()
	}

	r.logger.Infow("connection_unregistered", "client_id", id, "connection_id", conn.ID())
	return id, true
}

func (r *ConnectionRegistry) IdentifierFor(conn ports.Connection) (string, bool) {
	v, ok := r.owners.Load(conn)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// SendToID delivers payload to every open handle of id and returns how many
// accepted it. Unknown identifiers are logged and ignored.
func (r *ConnectionRegistry) SendToID(ctx context.Context, id string, payload []byte) int {
	v, ok := r.clients.Load(id)
	if !ok {
		r.logger.Warnw("send_to_client_no_connections", "client_id", id)
		return 0
	}

	conns := v.(*handleSet).snapshot()
	if len(conns) == 0 {
		r.logger.Warnw("send_to_client_no_connections", "client_id", id)
		return 0
	}

	delivered := r.fanOut(ctx, conns, payload)
	if delivered == 0 {
		r.logger.Warnw("send_to_client_no_open_connections", "client_id", id, "attempted", len(conns))
	}
	return delivered
}

// Broadcast delivers payload to every open handle of every identifier.
func (r *ConnectionRegistry) Broadcast(ctx context.Context, payload []byte) int {
	var conns []ports.Connection
	r.clients.Range(func(_, v any) bool {
		conns = append(conns, v.(*handleSet).snapshot()...)
		return true
	})
	if len(conns) == 0 {
		return 0
	}

	delivered := r.fanOut(ctx, conns, payload)
	r.logger.Debugw("broadcast_sent", "delivered", delivered, "attempted", len(conns))
	return delivered
}

// fanOut sends to all conns concurrently. A handle that is closed or fails
// is unregistered; it never affects its siblings.
func (r *ConnectionRegistry) fanOut(ctx context.Context, conns []ports.Connection, payload []byte) int {
	var (
		wg        conc.WaitGroup
		mu        sync.Mutex
		delivered int
	)

	for _, c := range conns {
		c := c
		wg.Go(func() {
			if !c.IsOpen() {
				r.Unregister(c)
				return
			}
			if err := c.Send(ctx, payload); err != nil {
				r.logger.Warnw("connection_send_failed", "connection_id", c.ID(), "error", err)
				r.Unregister(c)
				_ = c.Close()
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		})
	}

	if rec := wg.WaitAndRecover(); rec != nil {
		r.logger.Errorw("connection_send_panicked", "error", rec.AsError())
	}
	return delivered
}

// OpenCount reports handles currently open across all identifiers.
func (r *ConnectionRegistry) OpenCount() int {
	total := 0
	r.clients.Range(func(_, v any) bool {
		for _, c := range v.(*handleSet).snapshot() {
			if c.IsOpen() {
				total++
			}
		}
		return true
	})
	return total
}

// ClientCount reports identifiers with at least one registered handle.
func (r *ConnectionRegistry) ClientCount() int {
	total := 0
	r.clients.Range(func(_, _ any) bool {
		total++
		return true
	})
	return total
}

var _ ports.ConnectionRegistry = (*ConnectionRegistry)(nil)

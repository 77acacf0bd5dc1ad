package business

import (
	"context"
	"errors"

	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

var (
	// ErrRegistryFull is returned when the connection pool is at capacity.
	ErrRegistryFull = errors.New("connection registry full")

	// ErrConnectionNotFound is returned by Lookup for unknown identities.
	ErrConnectionNotFound = errors.New("connection not found")
)

// ConnectionRegistry is the addressing table for all fan-out: it maps an
// authenticated identity to its live connection. It holds transport
// mappings only; participant state belongs to the presence tracker.
type ConnectionRegistry struct {
	pool *connectionPool
}

// NewConnectionRegistry creates a registry bounded to maxConnections.
func NewConnectionRegistry(maxConnections int32) *ConnectionRegistry {
	const minPoolSize = 1024
	if maxConnections < minPoolSize {
		maxConnections = minPoolSize
	}
	return &ConnectionRegistry{pool: newConnectionPool(maxConnections)}
}

// Register maps identity to conn, overwriting any prior connection for the
// same identity (reconnect replaces the old session). The replaced
// transport is closed so its write pump terminates.
func (r *ConnectionRegistry) Register(ctx context.Context, identity string, conn Connection) error {
	replaced, err := r.pool.put(identity, conn)
	if err != nil {
		return err
	}

	if replaced != nil {
		replaced.Close()
		util.Log(ctx).WithField("identity", identity).Info("replaced existing connection")
	}
	return nil
}

// Unregister removes identity's entry. When conn is non-nil only that
// exact connection is removed, protecting a reconnected session from being
// torn down by its predecessor's late disconnect.
func (r *ConnectionRegistry) Unregister(identity string, conn Connection) {
	r.pool.remove(identity, conn)
}

// Lookup resolves identity to its live connection.
func (r *ConnectionRegistry) Lookup(identity string) (Connection, error) {
	conn, ok := r.pool.get(identity)
	if !ok {
		return nil, ErrConnectionNotFound
	}
	return conn, nil
}

// Broadcast delivers one frame to every identity in the set, returning the
// delivered count. A dead or slow recipient is logged and skipped; it never
// aborts delivery to the rest and never propagates to the sender.
func (r *ConnectionRegistry) Broadcast(ctx context.Context, identities []string, frame *models.ServerFrame) int {
	delivered := 0
	for _, identity := range identities {
		conn, ok := r.pool.get(identity)
		if !ok {
			util.Log(ctx).WithFields(map[string]any{
				"identity":   identity,
				"event_type": frame.Type,
			}).Debug("broadcast target has no live connection")
			continue
		}

		if !conn.Dispatch(frame) {
			util.Log(ctx).WithFields(map[string]any{
				"identity":   identity,
				"event_type": frame.Type,
			}).Warn("broadcast delivery failed: dispatch channel full or closed")
			continue
		}
		delivered++
	}
	return delivered
}

// Size returns the number of registered connections.
func (r *ConnectionRegistry) Size() int32 {
	return r.pool.size()
}

// Capacity returns the maximum number of registered connections.
func (r *ConnectionRegistry) Capacity() int32 {
	return r.pool.maxSize
}

// ForEach visits every registered connection outside any lock.
func (r *ConnectionRegistry) ForEach(fn func(identity string, conn Connection)) {
	r.pool.forEach(fn)
}

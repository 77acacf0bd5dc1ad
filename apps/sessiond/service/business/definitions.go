// Package business implements the session manager core: the connection
// registry, presence tracker, operation sequencer and session coordinator.
package business

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

// Metadata is the per-connection bookkeeping used for stale detection and
// reconnect-replaces-old-session semantics. Identity fields are immutable
// after creation; timestamps are updated atomically from the event loop and
// read by the background sweeper.
type Metadata struct {
	Identity    string
	DisplayName string
	GatewayID   string
	Connected   int64 // Unix timestamp

	lastActive    atomic.Int64 // Unix timestamp
	lastHeartbeat atomic.Int64 // Unix timestamp
}

// NewMetadata creates connection metadata stamped with the current time.
func NewMetadata(identity, displayName, gatewayID string) *Metadata {
	m := &Metadata{
		Identity:    identity,
		DisplayName: displayName,
		GatewayID:   gatewayID,
		Connected:   time.Now().Unix(),
	}
	m.Touch()
	return m
}

// Touch records inbound activity, refreshing both liveness timestamps.
func (m *Metadata) Touch() {
	now := time.Now().Unix()
	m.lastActive.Store(now)
	m.lastHeartbeat.Store(now)
}

// LastHeartbeat returns the Unix timestamp of the last liveness signal.
func (m *Metadata) LastHeartbeat() int64 {
	return m.lastHeartbeat.Load()
}

// LastActive returns the Unix timestamp of the last inbound event.
func (m *Metadata) LastActive() int64 {
	return m.lastActive.Load()
}

// Connection is one live client transport as seen by the registry and the
// coordinator. Outbound frames go through a bounded dispatch channel so a
// slow receiver can never stall the sender's event loop.
type Connection interface {
	Metadata() *Metadata

	// Dispatch queues an outbound frame, waiting at most the dispatch
	// timeout when the channel is full. Returns false if the frame was
	// dropped.
	Dispatch(frame *models.ServerFrame) bool

	// ConsumeDispatch blocks for the next outbound frame. Returns nil when
	// the context is cancelled or the connection is closed.
	ConsumeDispatch(ctx context.Context) *models.ServerFrame

	// AllowInbound applies the per-connection inbound rate limit.
	AllowInbound() bool

	// Close releases the dispatch channel. Idempotent.
	Close()
}

package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service/clients"
	"github.com/scribehub/service-collab/apps/sessiond/service/events"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultConnectionTimeout = 300 * time.Second

	// staleMultiplier times the heartbeat interval is how long a connection
	// may go silent before the sweeper closes it.
	staleMultiplier = 3

	metricsInterval = time.Minute
)

// NotificationEmitter dispatches fire-and-forget domain events. Satisfied by
// the frame events manager in production and by fakes in tests.
type NotificationEmitter interface {
	Emit(ctx context.Context, name string, payload any) error
}

// CoordinatorOptions tune the session coordinator. Zero values fall back to
// the defaults above.
type CoordinatorOptions struct {
	MaxConnections    int32
	OperationLogSize  int
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	EventsPerSecond   int
	EventBurst        int
}

// SessionCoordinator is the orchestration hub: it owns the connection
// registry, presence tracker and operation sequencer, drives the session
// state machine for every connection, and runs the background sweeper and
// metrics tasks. All external collaborator calls happen here, outside any
// presence or sequencer lock.
type SessionCoordinator struct {
	gatewayID string
	opts      CoordinatorOptions

	registry  *ConnectionRegistry
	presence  *PresenceTracker
	sequencer *OperationSequencer

	verifier clients.IdentityVerifier
	store    clients.DocumentStore
	emitter  NotificationEmitter

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewSessionCoordinator wires the coordinator and starts its background
// tasks. rawCache may be nil to disable presence snapshot caching; emitter
// may be nil to disable the notification trigger.
func NewSessionCoordinator(
	ctx context.Context,
	opts CoordinatorOptions,
	verifier clients.IdentityVerifier,
	store clients.DocumentStore,
	emitter NotificationEmitter,
	rawCache cache.RawCache,
) *SessionCoordinator {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ConnectionTimeout <= 0 {
		opts.ConnectionTimeout = defaultConnectionTimeout
	}

	c := &SessionCoordinator{
		gatewayID:  util.IDString(),
		opts:       opts,
		registry:   NewConnectionRegistry(opts.MaxConnections),
		presence:   NewPresenceTracker(rawCache),
		sequencer:  NewOperationSequencer(opts.OperationLogSize),
		verifier:   verifier,
		store:      store,
		emitter:    emitter,
		shutdownCh: make(chan struct{}),
	}

	c.wg.Add(2)
	go c.runStaleSweeper(ctx)
	go c.runMetricsTask(ctx)

	util.Log(ctx).WithFields(map[string]any{
		"gateway_id":      c.gatewayID,
		"max_connections": c.registry.Capacity(),
	}).Info("session coordinator started")
	return c
}

// GatewayID identifies this coordinator instance in connection metadata and
// notification events.
func (c *SessionCoordinator) GatewayID() string {
	return c.gatewayID
}

// Registry exposes the connection registry for health checks.
func (c *SessionCoordinator) Registry() *ConnectionRegistry {
	return c.registry
}

// NewSession creates the per-connection state machine for a freshly accepted
// transport. The connection starts unauthenticated and outside the registry;
// it is registered once the authenticate handshake succeeds.
func (c *SessionCoordinator) NewSession() *Session {
	md := NewMetadata("", "", c.gatewayID)
	conn := NewConnectionWithRate(md, c.opts.EventsPerSecond, c.opts.EventBurst)
	return &Session{coord: c, conn: conn, md: md}
}

// Shutdown stops the background tasks and closes every live connection.
func (c *SessionCoordinator) Shutdown(ctx context.Context) {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
	})
	c.wg.Wait()

	closed := 0
	c.registry.ForEach(func(_ string, conn Connection) {
		conn.Close()
		closed++
	})
	util.Log(ctx).WithField("connections_closed", closed).
		Info("session coordinator stopped")
}

// runStaleSweeper closes connections whose last liveness signal is older
// than three heartbeat intervals. Closing the transport unwinds the session
// through the normal disconnect path, so presence cleanup stays in one
// place.
func (c *SessionCoordinator) runStaleSweeper(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	threshold := int64((staleMultiplier * c.opts.HeartbeatInterval).Seconds())
	if timeout := int64(c.opts.ConnectionTimeout.Seconds()); timeout > threshold {
		threshold = timeout
	}

	for {
		select {
		case <-c.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweepStale(ctx, threshold)
		}
	}
}

func (c *SessionCoordinator) sweepStale(ctx context.Context, thresholdSec int64) {
	now := time.Now().Unix()
	swept := 0

	c.registry.ForEach(func(identity string, conn Connection) {
		idle := now - conn.Metadata().LastHeartbeat()
		if idle <= thresholdSec {
			return
		}
		util.Log(ctx).WithFields(map[string]any{
			"identity":  identity,
			"idle_secs": idle,
		}).Info("closing stale connection")
		conn.Close()
		swept++
	})

	if swept > 0 {
		util.Log(ctx).WithField("count", swept).Info("stale connection sweep complete")
	}
}

func (c *SessionCoordinator) runMetricsTask(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdownCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			util.Log(ctx).WithFields(map[string]any{
				"gateway_id":  c.gatewayID,
				"connections": c.registry.Size(),
				"sessions":    c.presence.SessionCount(),
			}).Info("session coordinator metrics")
		}
	}
}

// emitNotification publishes a domain event through the events manager.
// Fire and forget: failures are logged and never affect the session path.
func (c *SessionCoordinator) emitNotification(ctx context.Context, n events.Notification) {
	if c.emitter == nil {
		return
	}

	n.GatewayID = c.gatewayID
	n.At = time.Now()
	if err := c.emitter.Emit(ctx, events.NotificationEventName, n); err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"kind":        n.Kind,
			"document_id": n.DocumentID,
		}).Warn("failed to emit notification event")
	}
}

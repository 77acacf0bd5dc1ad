package business

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

const (
	// dispatchChannelSize bounds the outbound frames buffered per connection.
	dispatchChannelSize = 256

	// dispatchTimeout is how long Dispatch waits on a full channel before
	// dropping the frame. Keeps broadcast fan-out from blocking on one slow
	// receiver.
	dispatchTimeout = 100 * time.Millisecond

	// Default inbound rate limit, overridable per connection.
	defaultRateLimit  = 100
	defaultRateBurst  = 20
	nanosecondsPerSec = 1e9
)

// tokenBucket is a minimal lock-based token bucket for inbound rate
// limiting. Refills continuously at ratePerSec, capped at burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	ratePerSec float64
	lastRefill int64 // monotonic nanoseconds
}

func newTokenBucket(ratePerSec, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		burst:      float64(burst),
		ratePerSec: float64(ratePerSec),
		lastRefill: time.Now().UnixNano(),
	}
}

// Allow consumes one token if available.
func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now().UnixNano()
	elapsed := float64(now-tb.lastRefill) / nanosecondsPerSec
	tb.lastRefill = now

	tb.tokens += elapsed * tb.ratePerSec
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// connection is the default Connection implementation.
type connection struct {
	metadata *Metadata
	limiter  *tokenBucket

	dispatchCh chan *models.ServerFrame
	closeCh    chan struct{}
	closeOnce  sync.Once

	// Metrics (atomic for lock-free reads)
	dispatched  atomic.Uint64
	dropped     atomic.Uint64
	rateLimited atomic.Uint64
}

// NewConnection creates a connection with the default rate limit.
func NewConnection(metadata *Metadata) Connection {
	return NewConnectionWithRate(metadata, defaultRateLimit, defaultRateBurst)
}

// NewConnectionWithRate creates a connection with an explicit inbound rate
// limit and burst.
func NewConnectionWithRate(metadata *Metadata, ratePerSec, burst int) Connection {
	if ratePerSec <= 0 {
		ratePerSec = defaultRateLimit
	}
	if burst <= 0 {
		burst = defaultRateBurst
	}
	return &connection{
		metadata:   metadata,
		limiter:    newTokenBucket(ratePerSec, burst),
		dispatchCh: make(chan *models.ServerFrame, dispatchChannelSize),
		closeCh:    make(chan struct{}),
	}
}

func (c *connection) Metadata() *Metadata {
	return c.metadata
}

func (c *connection) Dispatch(frame *models.ServerFrame) bool {
	// A closed connection must never report a frame as delivered. Checked
	// before the timed select: with buffer space free and closeCh closed,
	// both cases are ready and select would pick one at random.
	select {
	case <-c.closeCh:
		c.dropped.Add(1)
		return false
	default:
	}

	select {
	case c.dispatchCh <- frame:
		c.dispatched.Add(1)
		return true
	case <-c.closeCh:
		c.dropped.Add(1)
		return false
	case <-time.After(dispatchTimeout):
		c.dropped.Add(1)
		return false
	}
}

func (c *connection) ConsumeDispatch(ctx context.Context) *models.ServerFrame {
	select {
	case frame := <-c.dispatchCh:
		return frame
	case <-c.closeCh:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (c *connection) AllowInbound() bool {
	if c.limiter.Allow() {
		return true
	}
	c.rateLimited.Add(1)
	return false
}

func (c *connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
}

// DispatchedFrames returns how many frames were queued for delivery.
func (c *connection) DispatchedFrames() uint64 {
	return c.dispatched.Load()
}

// DroppedFrames returns how many frames were dropped on a full channel.
func (c *connection) DroppedFrames() uint64 {
	return c.dropped.Load()
}

// RateLimitedCount returns how many inbound events the limiter rejected.
func (c *connection) RateLimitedCount() uint64 {
	return c.rateLimited.Load()
}

// ChannelUtilization reports dispatch buffer fill in [0, 1].
func (c *connection) ChannelUtilization() float64 {
	return float64(len(c.dispatchCh)) / float64(cap(c.dispatchCh))
}

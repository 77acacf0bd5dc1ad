package business

import (
	"context"
	"testing"
	"time"

	"github.com/scribehub/service-collab/apps/sessiond/service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestConnection(identity string) Connection {
	return NewConnection(NewMetadata(identity, identity, "gw-test"))
}

func makeTestFrame(t *testing.T, eventType string) *models.ServerFrame {
	t.Helper()
	frame, err := models.NewServerFrame(eventType, nil)
	require.NoError(t, err)
	return frame
}

func TestTokenBucket_InitialBurst(t *testing.T) {
	tb := newTokenBucket(10, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, tb.Allow(), "request %d within burst should pass", i)
	}
	assert.False(t, tb.Allow(), "request beyond burst should be limited")
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := newTokenBucket(100, 1)

	require.True(t, tb.Allow())
	require.False(t, tb.Allow())

	time.Sleep(25 * time.Millisecond)
	assert.True(t, tb.Allow(), "bucket should refill over time")
}

func TestConnection_DispatchAndConsume(t *testing.T) {
	conn := makeTestConnection("alice")
	defer conn.Close()

	frame := makeTestFrame(t, models.ServerTypeOperationAck)
	require.True(t, conn.Dispatch(frame))

	got := conn.ConsumeDispatch(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, frame.Type, got.Type)
	assert.Equal(t, frame.Data, got.Data)
}

func TestConnection_ConsumeDispatch_CancelledContext(t *testing.T) {
	conn := makeTestConnection("alice")
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Nil(t, conn.ConsumeDispatch(ctx))
}

func TestConnection_ConsumeDispatch_Closed(t *testing.T) {
	conn := makeTestConnection("alice")
	conn.Close()

	done := make(chan *models.ServerFrame, 1)
	go func() {
		done <- conn.ConsumeDispatch(context.Background())
	}()

	select {
	case got := <-done:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("ConsumeDispatch did not return after Close")
	}
}

func TestConnection_DispatchAfterClose(t *testing.T) {
	conn := makeTestConnection("alice")
	conn.Close()

	assert.False(t, conn.Dispatch(makeTestFrame(t, models.ServerTypeError)))

	// With buffer space free both the send and the closed channel are ready;
	// repeated dispatches must still all report the frame as dropped.
	frame := makeTestFrame(t, models.ServerTypeOperation)
	for range 100 {
		assert.False(t, conn.Dispatch(frame))
	}
	assert.Equal(t, uint64(101), conn.(*connection).DroppedFrames())
	assert.Zero(t, conn.(*connection).ChannelUtilization())
}

func TestConnection_DispatchDropsWhenFull(t *testing.T) {
	conn := makeTestConnection("alice")
	defer conn.Close()

	frame := makeTestFrame(t, models.ServerTypeOperation)
	delivered := 0
	for i := 0; i < dispatchChannelSize+1; i++ {
		if conn.Dispatch(frame) {
			delivered++
		}
	}
	assert.Equal(t, dispatchChannelSize, delivered)

	impl, ok := conn.(*connection)
	require.True(t, ok)
	assert.Equal(t, uint64(1), impl.DroppedFrames())
	assert.Equal(t, uint64(dispatchChannelSize), impl.DispatchedFrames())
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn := makeTestConnection("alice")
	conn.Close()
	conn.Close()
}

func TestConnection_AllowInbound(t *testing.T) {
	conn := NewConnectionWithRate(NewMetadata("alice", "Alice", "gw-test"), 1, 2)
	defer conn.Close()

	assert.True(t, conn.AllowInbound())
	assert.True(t, conn.AllowInbound())
	assert.False(t, conn.AllowInbound())
}

func TestMetadata_Touch(t *testing.T) {
	md := NewMetadata("alice", "Alice", "gw-test")

	before := md.LastHeartbeat()
	assert.Greater(t, before, int64(0))
	assert.Equal(t, md.LastActive(), before)

	md.Touch()
	assert.GreaterOrEqual(t, md.LastHeartbeat(), before)
}

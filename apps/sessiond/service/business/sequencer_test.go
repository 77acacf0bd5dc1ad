package business

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/scribehub/service-collab/apps/sessiond/service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOperation(documentID, author string) models.Operation {
	return models.Operation{
		DocumentID: documentID,
		Author:     author,
		Payload:    json.RawMessage(`{"insert":"x"}`),
	}
}

func TestOperationSequencer_SequencesFromOne(t *testing.T) {
	seq := NewOperationSequencer(10)
	ctx := context.Background()

	op := seq.Append(ctx, testOperation("doc1", "alice"))
	assert.Equal(t, uint64(1), op.Sequence)
	assert.False(t, op.CreatedAt.IsZero())

	op = seq.Append(ctx, testOperation("doc1", "bob"))
	assert.Equal(t, uint64(2), op.Sequence)
}

func TestOperationSequencer_DocumentsAreIndependent(t *testing.T) {
	seq := NewOperationSequencer(10)
	ctx := context.Background()

	seq.Append(ctx, testOperation("doc1", "alice"))
	seq.Append(ctx, testOperation("doc1", "alice"))

	op := seq.Append(ctx, testOperation("doc2", "bob"))
	assert.Equal(t, uint64(1), op.Sequence)
}

func TestOperationSequencer_Recent(t *testing.T) {
	seq := NewOperationSequencer(10)
	ctx := context.Background()

	for range 5 {
		seq.Append(ctx, testOperation("doc1", "alice"))
	}

	ops, truncated := seq.Recent("doc1", 2)
	assert.False(t, truncated)
	require.Len(t, ops, 3)
	assert.Equal(t, uint64(3), ops[0].Sequence)
	assert.Equal(t, uint64(5), ops[2].Sequence)

	ops, truncated = seq.Recent("doc1", 5)
	assert.False(t, truncated)
	assert.Empty(t, ops)
}

func TestOperationSequencer_SequenceSurvivesEviction(t *testing.T) {
	seq := NewOperationSequencer(3)
	ctx := context.Background()

	for range 10 {
		seq.Append(ctx, testOperation("doc1", "alice"))
	}

	// The counter keeps advancing even though old entries fell out.
	assert.Equal(t, uint64(10), seq.LastSequence("doc1"))

	ops, truncated := seq.Recent("doc1", 0)
	assert.True(t, truncated)
	require.Len(t, ops, 3)
	assert.Equal(t, uint64(8), ops[0].Sequence)
	assert.Equal(t, uint64(10), ops[2].Sequence)
}

func TestOperationSequencer_RecentWithinWindow(t *testing.T) {
	seq := NewOperationSequencer(3)
	ctx := context.Background()

	for range 5 {
		seq.Append(ctx, testOperation("doc1", "alice"))
	}

	// Watermark 3 still has its successor retained: no truncation.
	ops, truncated := seq.Recent("doc1", 3)
	assert.False(t, truncated)
	require.Len(t, ops, 2)
}

func TestOperationSequencer_RecentUnknownDocument(t *testing.T) {
	seq := NewOperationSequencer(10)

	ops, truncated := seq.Recent("ghost", 0)
	assert.Empty(t, ops)
	assert.False(t, truncated)

	// A non-zero watermark for an unknown document means the log is gone.
	_, truncated = seq.Recent("ghost", 7)
	assert.True(t, truncated)
}

func TestOperationSequencer_Drop(t *testing.T) {
	seq := NewOperationSequencer(10)
	ctx := context.Background()

	seq.Append(ctx, testOperation("doc1", "alice"))
	seq.Drop("doc1")

	assert.Equal(t, uint64(0), seq.LastSequence("doc1"))

	op := seq.Append(ctx, testOperation("doc1", "alice"))
	assert.Equal(t, uint64(1), op.Sequence)
}

func TestOperationSequencer_ConcurrentAppends(t *testing.T) {
	seq := NewOperationSequencer(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for range 10 {
				seq.Append(ctx, testOperation("doc1", fmt.Sprintf("user%d", n)))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(100), seq.LastSequence("doc1"))

	// Every sequence number was assigned exactly once.
	ops, truncated := seq.Recent("doc1", 0)
	assert.False(t, truncated)
	require.Len(t, ops, 100)
	for i, op := range ops {
		assert.Equal(t, uint64(i+1), op.Sequence)
	}
}

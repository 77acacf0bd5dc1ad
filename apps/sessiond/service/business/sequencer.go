package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

// DefaultOperationLogSize bounds the per-document replay window.
const DefaultOperationLogSize = 100

// documentLog holds the sequencing state for one document. The mutex is the
// per-document serialization point: operations for the same document are
// numbered and appended one at a time, operations for different documents
// proceed independently.
type documentLog struct {
	mu      sync.Mutex
	nextSeq uint64
	entries []models.Operation
}

// OperationSequencer assigns monotonically increasing sequence numbers to
// edit operations and keeps a bounded tail of recent operations per document
// for reconnect catch-up. Sequence counters keep advancing even as old
// entries fall out of the log.
type OperationSequencer struct {
	mu      sync.Mutex
	logs    map[string]*documentLog
	logSize int
}

// NewOperationSequencer creates a sequencer retaining up to logSize
// operations per document. Non-positive sizes fall back to the default.
func NewOperationSequencer(logSize int) *OperationSequencer {
	if logSize <= 0 {
		logSize = DefaultOperationLogSize
	}
	return &OperationSequencer{
		logs:    make(map[string]*documentLog),
		logSize: logSize,
	}
}

func (os *OperationSequencer) logFor(documentID string) *documentLog {
	os.mu.Lock()
	defer os.mu.Unlock()

	dl, ok := os.logs[documentID]
	if !ok {
		dl = &documentLog{nextSeq: 1}
		os.logs[documentID] = dl
	}
	return dl
}

// Append assigns the next sequence number for the document, stamps the
// operation and appends it to the log, evicting the oldest entry when the
// log is full. The returned operation carries its assigned sequence.
func (os *OperationSequencer) Append(ctx context.Context, op models.Operation) models.Operation {
	dl := os.logFor(op.DocumentID)

	dl.mu.Lock()
	defer dl.mu.Unlock()

	op.Sequence = dl.nextSeq
	op.CreatedAt = time.Now()
	dl.nextSeq++

	dl.entries = append(dl.entries, op)
	if len(dl.entries) > os.logSize {
		overflow := len(dl.entries) - os.logSize
		dl.entries = append(dl.entries[:0], dl.entries[overflow:]...)
	}

	util.Log(ctx).WithFields(map[string]any{
		"document_id": op.DocumentID,
		"sequence":    op.Sequence,
		"author":      op.Author,
	}).Debug("operation sequenced")
	return op
}

// Recent returns the retained operations with sequence numbers strictly
// greater than since, oldest first. truncated reports whether operations in
// (since, first-retained) have already been evicted, in which case the
// caller should advise a full document refetch.
func (os *OperationSequencer) Recent(documentID string, since uint64) (ops []models.Operation, truncated bool) {
	os.mu.Lock()
	dl, ok := os.logs[documentID]
	os.mu.Unlock()
	if !ok {
		return nil, since > 0
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if len(dl.entries) == 0 {
		// The log is empty but the counter may have advanced past the
		// client's watermark through eviction.
		return nil, since < dl.nextSeq-1
	}

	oldest := dl.entries[0].Sequence
	if since+1 < oldest {
		truncated = true
	}

	for _, op := range dl.entries {
		if op.Sequence > since {
			ops = append(ops, op)
		}
	}
	return ops, truncated
}

// LastSequence returns the highest sequence number assigned for the
// document, zero if none.
func (os *OperationSequencer) LastSequence(documentID string) uint64 {
	os.mu.Lock()
	dl, ok := os.logs[documentID]
	os.mu.Unlock()
	if !ok {
		return 0
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.nextSeq - 1
}

// Drop discards the document's log and counter. Called when the last
// participant leaves a session so a future session starts numbering afresh.
func (os *OperationSequencer) Drop(documentID string) {
	os.mu.Lock()
	defer os.mu.Unlock()
	delete(os.logs, documentID)
}

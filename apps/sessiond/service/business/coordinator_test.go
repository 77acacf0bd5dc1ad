package business

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/scribehub/service-collab/apps/sessiond/service"
	"github.com/scribehub/service-collab/apps/sessiond/service/clients"
	"github.com/scribehub/service-collab/apps/sessiond/service/events"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier struct {
	claims map[string]*clients.Claims
}

func (f *fakeVerifier) Verify(_ context.Context, token string) (*clients.Claims, error) {
	c, ok := f.claims[token]
	if !ok {
		return nil, errors.New("signature invalid")
	}
	return c, nil
}

type fakeDocumentStore struct {
	mu         sync.Mutex
	denyAccess map[string]bool
	accessErr  error
	commentErr error
	tagErr     error
	comments   map[string]string
	tags       map[string][]string
	nextID     int
}

func newFakeDocumentStore() *fakeDocumentStore {
	return &fakeDocumentStore{
		denyAccess: map[string]bool{},
		comments:   map[string]string{},
		tags:       map[string][]string{},
	}
}

func (f *fakeDocumentStore) CanAccess(_ context.Context, documentID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accessErr != nil {
		return false, f.accessErr
	}
	return !f.denyAccess[documentID], nil
}

func (f *fakeDocumentStore) CreateComment(
	_ context.Context,
	documentID, _ string,
	_ json.RawMessage,
	_ any,
) (*clients.StoredComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return nil, f.commentErr
	}
	f.nextID++
	id := fmt.Sprintf("cmt_%d", f.nextID)
	f.comments[id] = documentID
	return &clients.StoredComment{ID: id, CreatedAt: time.Now()}, nil
}

func (f *fakeDocumentStore) DeleteComment(_ context.Context, commentID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentErr != nil {
		return f.commentErr
	}
	delete(f.comments, commentID)
	return nil
}

func (f *fakeDocumentStore) AddTag(_ context.Context, documentID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagErr != nil {
		return f.tagErr
	}
	f.tags[documentID] = append(f.tags[documentID], tag)
	return nil
}

func (f *fakeDocumentStore) RemoveTag(_ context.Context, documentID, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tagErr != nil {
		return f.tagErr
	}
	kept := f.tags[documentID][:0]
	for _, existing := range f.tags[documentID] {
		if existing != tag {
			kept = append(kept, existing)
		}
	}
	f.tags[documentID] = kept
	return nil
}

type fakeEmitter struct {
	mu      sync.Mutex
	emitted []events.Notification
}

func (f *fakeEmitter) Emit(_ context.Context, _ string, payload any) error {
	n, ok := payload.(events.Notification)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, n)
	return nil
}

func (f *fakeEmitter) notifications() []events.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Notification(nil), f.emitted...)
}

func newTestCoordinator(t *testing.T, opts CoordinatorOptions) (*SessionCoordinator, *fakeDocumentStore, *fakeEmitter) {
	t.Helper()

	verifier := &fakeVerifier{claims: map[string]*clients.Claims{
		"token-alice": {Identity: "alice", DisplayName: "Alice"},
		"token-bob":   {Identity: "bob", DisplayName: "Bob"},
		"token-carol": {Identity: "carol", DisplayName: "Carol"},
	}}
	store := newFakeDocumentStore()
	emitter := &fakeEmitter{}

	coord := NewSessionCoordinator(context.Background(), opts, verifier, store, emitter, nil)
	t.Cleanup(func() { coord.Shutdown(context.Background()) })
	return coord, store, emitter
}

func readFrame(t *testing.T, conn Connection) (string, json.RawMessage) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame := conn.ConsumeDispatch(ctx)
	require.NotNil(t, frame, "expected a frame")

	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame.Data, &env))
	return env.Type, env.Payload
}

func expectNoFrame(t *testing.T, conn Connection) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.Nil(t, conn.ConsumeDispatch(ctx), "expected no frame")
}

func authedSession(t *testing.T, coord *SessionCoordinator, token string) *Session {
	t.Helper()

	s := coord.NewSession()
	s.HandleEvent(context.Background(), &models.AuthenticateEvent{Token: token})
	typ, _ := readFrame(t, s.Connection())
	require.Equal(t, models.ServerTypeAuthenticated, typ)
	return s
}

func joinedSession(t *testing.T, coord *SessionCoordinator, token, documentID string) *Session {
	t.Helper()

	s := authedSession(t, coord, token)
	s.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: documentID})
	typ, _ := readFrame(t, s.Connection())
	require.Equal(t, models.ServerTypeJoined, typ)
	return s
}

func TestSessionCoordinator_AuthenticateSuccess(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := coord.NewSession()
	s.HandleEvent(context.Background(), &models.AuthenticateEvent{Token: "token-alice"})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeAuthenticated, typ)

	var authed models.AuthenticatedPayload
	require.NoError(t, json.Unmarshal(payload, &authed))
	assert.Equal(t, "alice", authed.Identity)
	assert.Equal(t, "Alice", authed.DisplayName)

	assert.Equal(t, int32(1), coord.Registry().Size())
}

func TestSessionCoordinator_AuthenticateFailureKeepsConnection(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := coord.NewSession()
	s.HandleEvent(context.Background(), &models.AuthenticateEvent{Token: "bogus"})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeAuthError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeAuthenticationFailed, errPayload.Code)
	assert.Equal(t, int32(0), coord.Registry().Size())

	// The connection survives and a retry with a valid token succeeds.
	s.HandleEvent(context.Background(), &models.AuthenticateEvent{Token: "token-alice"})
	typ, _ = readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeAuthenticated, typ)
}

func TestSessionCoordinator_JoinRequiresAuthentication(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := coord.NewSession()
	s.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeNotAuthenticated, errPayload.Code)
}

func TestSessionCoordinator_JoinAccessDenied(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, CoordinatorOptions{})
	store.denyAccess["doc1"] = true

	s := authedSession(t, coord, "token-alice")
	s.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeAccessDenied, errPayload.Code)
}

func TestSessionCoordinator_JoinAccessCheckUnavailable(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, CoordinatorOptions{})
	store.accessErr = errors.New("connection refused")

	s := authedSession(t, coord, "token-alice")
	s.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeCollaboratorUnavailable, errPayload.Code)
}

func TestSessionCoordinator_JoinBroadcastsToOthers(t *testing.T) {
	coord, _, emitter := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")

	typ, payload := readFrame(t, alice.Connection())
	assert.Equal(t, models.ServerTypeParticipantJoined, typ)

	var joined struct {
		DocumentID string `json:"document_id"`
		Identity   string `json:"identity"`
	}
	require.NoError(t, json.Unmarshal(payload, &joined))
	assert.Equal(t, "doc1", joined.DocumentID)
	assert.Equal(t, "bob", joined.Identity)

	// Bob's own joined reply listed both participants in join order.
	_ = bob

	notes := emitter.notifications()
	require.Len(t, notes, 2)
	assert.Equal(t, events.KindParticipantJoined, notes[1].Kind)
	assert.Equal(t, "bob", notes[1].Identity)
}

func TestSessionCoordinator_JoinedReplyListsParticipantsInOrder(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	joinedSession(t, coord, "token-alice", "doc1")

	bob := authedSession(t, coord, "token-bob")
	bob.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})

	typ, payload := readFrame(t, bob.Connection())
	require.Equal(t, models.ServerTypeJoined, typ)

	var reply models.JoinedPayload
	require.NoError(t, json.Unmarshal(payload, &reply))
	require.Len(t, reply.Participants, 2)
	assert.Equal(t, "alice", reply.Participants[0].Identity)
	assert.Equal(t, "bob", reply.Participants[1].Identity)
	assert.NotEmpty(t, reply.Participants[1].Color)
}

func TestSessionCoordinator_SwitchDocumentLeftBeforeJoined(t *testing.T) {
	coord, _, emitter := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	carol := joinedSession(t, coord, "token-carol", "doc2")

	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	// Bob switches documents: doc1 observers hear the departure, doc2
	// observers hear the arrival, in that order.
	bob.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc2"})

	typ, payload := readFrame(t, alice.Connection())
	assert.Equal(t, models.ServerTypeParticipantLeft, typ)

	var left models.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(payload, &left))
	assert.Equal(t, "doc1", left.DocumentID)
	assert.Equal(t, "bob", left.Identity)

	typ, _ = readFrame(t, carol.Connection())
	assert.Equal(t, models.ServerTypeParticipantJoined, typ)

	notes := emitter.notifications()
	require.GreaterOrEqual(t, len(notes), 2)
	last := notes[len(notes)-1]
	beforeLast := notes[len(notes)-2]
	assert.Equal(t, events.KindParticipantLeft, beforeLast.Kind)
	assert.Equal(t, "doc1", beforeLast.DocumentID)
	assert.Equal(t, events.KindParticipantJoined, last.Kind)
	assert.Equal(t, "doc2", last.DocumentID)
}

func TestSessionCoordinator_EditSequenceAndAck(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	alice.HandleEvent(context.Background(), &models.EditEvent{
		Payload:       json.RawMessage(`{"insert":"hello"}`),
		ClientVersion: 4,
	})

	// Author gets the ack.
	typ, payload := readFrame(t, alice.Connection())
	assert.Equal(t, models.ServerTypeOperationAck, typ)

	var ack models.OperationAckPayload
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, uint64(1), ack.Sequence)

	// Everyone else gets the sequenced operation.
	typ, payload = readFrame(t, bob.Connection())
	assert.Equal(t, models.ServerTypeOperation, typ)

	var op models.Operation
	require.NoError(t, json.Unmarshal(payload, &op))
	assert.Equal(t, uint64(1), op.Sequence)
	assert.Equal(t, "alice", op.Author)
	assert.Equal(t, int64(4), op.ClientVersion)
	assert.JSONEq(t, `{"insert":"hello"}`, string(op.Payload))

	// The author's own connection never sees the broadcast copy.
	expectNoFrame(t, alice.Connection())
}

func TestSessionCoordinator_EventsBeforeJoinRejected(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := authedSession(t, coord, "token-alice")
	s.HandleEvent(context.Background(), &models.CursorEvent{Cursor: models.CursorState{Start: 1}})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeNotJoined, errPayload.Code)
}

func TestSessionCoordinator_EmptyEditRejected(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := joinedSession(t, coord, "token-alice", "doc1")
	s.HandleEvent(context.Background(), &models.EditEvent{})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeValidationFailed, errPayload.Code)
}

func TestSessionCoordinator_SyncReportsTruncation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{OperationLogSize: 2})

	s := joinedSession(t, coord, "token-alice", "doc1")
	for i := range 4 {
		s.HandleEvent(context.Background(), &models.EditEvent{
			Payload: json.RawMessage(fmt.Sprintf(`{"rev":%d}`, i)),
		})
		typ, _ := readFrame(t, s.Connection())
		require.Equal(t, models.ServerTypeOperationAck, typ)
	}

	s.HandleEvent(context.Background(), &models.SyncEvent{SinceSequence: 0})

	typ, payload := readFrame(t, s.Connection())
	assert.Equal(t, models.ServerTypeOperations, typ)

	var ops models.OperationsPayload
	require.NoError(t, json.Unmarshal(payload, &ops))
	assert.True(t, ops.Truncated)
	require.Len(t, ops.Operations, 2)
	assert.Equal(t, uint64(3), ops.Operations[0].Sequence)
	assert.Equal(t, uint64(4), ops.Operations[1].Sequence)
}

func TestSessionCoordinator_CommentPersistThenBroadcast(t *testing.T) {
	coord, store, emitter := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	alice.HandleEvent(context.Background(), &models.CommentEvent{
		Content: json.RawMessage(`"looks good"`),
		Anchor:  &models.CommentAnchor{Start: 3, End: 9},
	})

	// Both participants, author included, receive the persisted comment.
	for _, s := range []*Session{alice, bob} {
		frameType, payload := readFrame(t, s.Connection())
		assert.Equal(t, models.ServerTypeComment, frameType)

		var comment models.Comment
		require.NoError(t, json.Unmarshal(payload, &comment))
		assert.Equal(t, "cmt_1", comment.ID)
		assert.Equal(t, "alice", comment.Author)
		assert.False(t, comment.CreatedAt.IsZero())
		require.NotNil(t, comment.Anchor)
		assert.Equal(t, 3, comment.Anchor.Start)
	}

	store.mu.Lock()
	assert.Equal(t, "doc1", store.comments["cmt_1"])
	store.mu.Unlock()

	notes := emitter.notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, events.KindCommentCreated, last.Kind)
	assert.Equal(t, "cmt_1", last.CommentID)
}

func TestSessionCoordinator_CommentFailureSurfacedToAuthorOnly(t *testing.T) {
	coord, store, _ := newTestCoordinator(t, CoordinatorOptions{})
	store.commentErr = errors.New("store is down")

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	alice.HandleEvent(context.Background(), &models.CommentEvent{Content: json.RawMessage(`"hi"`)})

	typ, payload := readFrame(t, alice.Connection())
	assert.Equal(t, models.ServerTypeError, typ)

	var errPayload models.ErrorPayload
	require.NoError(t, json.Unmarshal(payload, &errPayload))
	assert.Equal(t, service.CodeCollaboratorUnavailable, errPayload.Code)

	expectNoFrame(t, bob.Connection())
}

func TestSessionCoordinator_TagPersistThenBroadcast(t *testing.T) {
	coord, store, emitter := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	bob.HandleEvent(context.Background(), &models.AddTagEvent{Tag: "urgent"})

	for _, s := range []*Session{alice, bob} {
		frameType, payload := readFrame(t, s.Connection())
		assert.Equal(t, models.ServerTypeTagAdded, frameType)

		var tag models.TagPayload
		require.NoError(t, json.Unmarshal(payload, &tag))
		assert.Equal(t, "urgent", tag.Tag)
		assert.Equal(t, "bob", tag.Author)
	}

	store.mu.Lock()
	assert.Equal(t, []string{"urgent"}, store.tags["doc1"])
	store.mu.Unlock()

	notes := emitter.notifications()
	last := notes[len(notes)-1]
	assert.Equal(t, events.KindTagAdded, last.Kind)
	assert.Equal(t, "urgent", last.Tag)
}

func TestSessionCoordinator_DisconnectExactlyOnce(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	bob.Disconnect(context.Background())
	bob.Disconnect(context.Background())

	typ, payload := readFrame(t, alice.Connection())
	assert.Equal(t, models.ServerTypeParticipantLeft, typ)

	var left models.ParticipantLeftPayload
	require.NoError(t, json.Unmarshal(payload, &left))
	assert.Equal(t, "bob", left.Identity)

	// The duplicate disconnect produced no second departure.
	expectNoFrame(t, alice.Connection())
	assert.Equal(t, int32(1), coord.Registry().Size())
}

func TestSessionCoordinator_ReplacedSessionDisconnectKeepsPresence(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	first := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, first.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	// Alice reconnects: the new session replaces the old one in the
	// registry and rejoins the same document.
	second := joinedSession(t, coord, "token-alice", "doc1")

	typ, _ = readFrame(t, bob.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)

	// The superseded session's disconnect arrives late. It must not evict
	// the reconnected identity or announce a departure.
	first.Disconnect(context.Background())

	participants := coord.presence.ListParticipants("doc1")
	identities := make([]string, 0, len(participants))
	for _, p := range participants {
		identities = append(identities, p.Identity)
	}
	assert.Contains(t, identities, "alice")
	assert.Contains(t, identities, "bob")

	expectNoFrame(t, bob.Connection())
	assert.Equal(t, int32(2), coord.Registry().Size())

	// The reconnected session still works.
	second.HandleEvent(context.Background(), &models.CursorEvent{})
	typ, _ = readFrame(t, bob.Connection())
	assert.Equal(t, models.ServerTypeCursorMoved, typ)
}

func TestSessionCoordinator_RejoinSameDocumentOnlyRefreshesSnapshot(t *testing.T) {
	coord, _, emitter := newTestCoordinator(t, CoordinatorOptions{})

	alice := joinedSession(t, coord, "token-alice", "doc1")
	bob := joinedSession(t, coord, "token-bob", "doc1")
	typ, _ := readFrame(t, alice.Connection())
	require.Equal(t, models.ServerTypeParticipantJoined, typ)
	notesBefore := len(emitter.notifications())

	bob.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})

	typ, payload := readFrame(t, bob.Connection())
	require.Equal(t, models.ServerTypeJoined, typ)

	var reply models.JoinedPayload
	require.NoError(t, json.Unmarshal(payload, &reply))
	require.Len(t, reply.Participants, 2)

	// The others hear nothing about a participant they already know.
	expectNoFrame(t, alice.Connection())
	assert.Len(t, emitter.notifications(), notesBefore)
}

func TestSessionCoordinator_LeaveAndRejoinResetsSequencing(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := joinedSession(t, coord, "token-alice", "doc1")
	s.HandleEvent(context.Background(), &models.EditEvent{Payload: json.RawMessage(`{}`)})
	typ, _ := readFrame(t, s.Connection())
	require.Equal(t, models.ServerTypeOperationAck, typ)

	// Last participant leaving discards the document's operation log.
	s.HandleEvent(context.Background(), &models.LeaveEvent{DocumentID: "doc1"})

	s.HandleEvent(context.Background(), &models.JoinEvent{DocumentID: "doc1"})
	typ, _ = readFrame(t, s.Connection())
	require.Equal(t, models.ServerTypeJoined, typ)

	s.HandleEvent(context.Background(), &models.EditEvent{Payload: json.RawMessage(`{}`)})
	typ, payload := readFrame(t, s.Connection())
	require.Equal(t, models.ServerTypeOperationAck, typ)

	var ack models.OperationAckPayload
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, uint64(1), ack.Sequence)
}

func TestSessionCoordinator_LeaveWrongDocumentIsNoOp(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := joinedSession(t, coord, "token-alice", "doc1")
	s.HandleEvent(context.Background(), &models.LeaveEvent{DocumentID: "doc2"})

	expectNoFrame(t, s.Connection())

	// Still joined: cursor updates go through.
	s.HandleEvent(context.Background(), &models.CursorEvent{})
	expectNoFrame(t, s.Connection())
}

func TestSessionCoordinator_HeartbeatRefreshesLiveness(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, CoordinatorOptions{})

	s := authedSession(t, coord, "token-alice")
	before := s.Connection().Metadata().LastHeartbeat()

	time.Sleep(1100 * time.Millisecond)
	s.HandleEvent(context.Background(), &models.HeartbeatEvent{})

	assert.Greater(t, s.Connection().Metadata().LastHeartbeat(), before)
	expectNoFrame(t, s.Connection())
}

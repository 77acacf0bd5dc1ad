package business

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service"
	"github.com/scribehub/service-collab/apps/sessiond/service/events"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
)

// sessionState is the lifecycle position of one connection.
type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticated
	stateJoined
	stateDisconnected
)

// Session is the per-connection state machine. Events arrive serially from
// the transport's read loop; Disconnect may additionally fire from the write
// loop, so all state transitions happen under the session mutex and
// disconnect effects run exactly once.
type Session struct {
	coord *SessionCoordinator
	conn  Connection
	md    *Metadata

	mu         sync.Mutex
	state      sessionState
	documentID string
	color      string
	avatarRef  string

	disconnectOnce sync.Once
}

// Connection exposes the session's transport connection to the gateway
// handler.
func (s *Session) Connection() Connection {
	return s.conn
}

// HandleEvent runs one decoded client event through the state machine.
// Failures are reported to the author only, as an error frame; they never
// tear down the connection and never reach other participants.
func (s *Session) HandleEvent(ctx context.Context, evt models.ClientEvent) {
	s.md.Touch()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateDisconnected {
		return
	}

	var err error
	switch e := evt.(type) {
	case *models.AuthenticateEvent:
		err = s.handleAuthenticate(ctx, e)
	case *models.JoinEvent:
		err = s.handleJoin(ctx, e)
	case *models.LeaveEvent:
		err = s.handleLeave(ctx, e)
	case *models.StartEditingEvent:
		err = s.handleStartEditing(ctx, e)
	case *models.StopEditingEvent:
		err = s.handleStopEditing(ctx)
	case *models.CursorEvent:
		err = s.handleCursor(ctx, e)
	case *models.EditEvent:
		err = s.handleEdit(ctx, e)
	case *models.CommentEvent:
		err = s.handleComment(ctx, e)
	case *models.DeleteCommentEvent:
		err = s.handleDeleteComment(ctx, e)
	case *models.AddTagEvent:
		err = s.handleAddTag(ctx, e)
	case *models.RemoveTagEvent:
		err = s.handleRemoveTag(ctx, e)
	case *models.SyncEvent:
		err = s.handleSync(ctx, e)
	case *models.HeartbeatEvent:
		// Touch above is the whole effect.
	default:
		err = fmt.Errorf("%w: unhandled event type %T", service.ErrValidationFailed, evt)
	}

	if err != nil {
		s.sendError(ctx, evt, err)
	}
}

// Disconnect unwinds the session: implicit leave with a departure broadcast,
// registry removal and transport close. Safe to call from both transport
// loops and the sweeper path; only the first call has any effect.
func (s *Session) Disconnect(ctx context.Context) {
	s.disconnectOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		identity := s.md.Identity
		if s.state == stateJoined && s.isCurrentConnection(identity) {
			s.leaveCurrentDocument(ctx)
		}
		s.state = stateDisconnected

		if identity != "" {
			s.coord.registry.Unregister(identity, s.conn)
		}
		s.conn.Close()

		util.Log(ctx).WithFields(map[string]any{
			"identity":   identity,
			"gateway_id": s.coord.gatewayID,
		}).Info("session disconnected")
	})
}

// isCurrentConnection reports whether this session still owns the identity's
// registry slot. A reconnect replaces the slot before the old session's
// disconnect runs; the superseded session must not touch presence, or it
// would evict the identity the new session just joined with.
func (s *Session) isCurrentConnection(identity string) bool {
	if identity == "" {
		return false
	}
	current, err := s.coord.registry.Lookup(identity)
	return err == nil && current == s.conn
}

func (s *Session) handleAuthenticate(ctx context.Context, e *models.AuthenticateEvent) error {
	if s.state != stateUnauthenticated {
		return fmt.Errorf("%w: connection is already authenticated", service.ErrValidationFailed)
	}

	claims, err := s.coord.verifier.Verify(ctx, e.Token)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("token verification failed")
		return service.ErrAuthenticationFailed
	}

	// Plain writes are safe here: the connection is not yet in the registry,
	// and Register's lock publishes them to the sweeper.
	s.md.Identity = claims.Identity
	s.md.DisplayName = claims.DisplayName
	s.avatarRef = claims.AvatarRef

	if err = s.coord.registry.Register(ctx, claims.Identity, s.conn); err != nil {
		return err
	}
	s.state = stateAuthenticated

	s.dispatchSelf(ctx, models.ServerTypeAuthenticated, models.AuthenticatedPayload{
		Identity:    claims.Identity,
		DisplayName: claims.DisplayName,
		AvatarRef:   claims.AvatarRef,
	})
	return nil
}

func (s *Session) handleJoin(ctx context.Context, e *models.JoinEvent) error {
	if s.state == stateUnauthenticated {
		return service.ErrNotAuthenticated
	}
	if e.DocumentID == "" {
		return service.ErrDocumentIDRequired
	}
	identity := s.md.Identity

	allowed, err := s.coord.store.CanAccess(ctx, e.DocumentID, identity)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("document_id", e.DocumentID).
			Error("document access check failed")
		return service.ErrCollaboratorUnavailable
	}
	if !allowed {
		return service.ErrAccessDenied
	}

	rejoin := s.state == stateJoined && s.documentID == e.DocumentID

	snap, leftDoc, leftRemaining := s.coord.presence.Join(ctx, e.DocumentID, models.Participant{
		Identity:    identity,
		DisplayName: s.md.DisplayName,
		AvatarRef:   s.avatarRef,
	})

	// Departure from the previous document is announced before anyone hears
	// about the new membership.
	if leftDoc != "" {
		s.announceLeft(ctx, leftDoc, identity, leftRemaining)
	}

	s.state = stateJoined
	s.documentID = e.DocumentID

	var self models.Participant
	for _, p := range snap.Participants {
		if p.Identity == identity {
			self = p
			break
		}
	}
	s.color = self.Color

	s.dispatchSelf(ctx, models.ServerTypeJoined, models.JoinedPayload{
		DocumentID:   e.DocumentID,
		Participants: snap.Participants,
	})

	// A rejoin of the current document only refreshes the snapshot; the
	// others already know this participant.
	if rejoin {
		return nil
	}

	s.broadcastToOthers(ctx, models.ServerTypeParticipantJoined, models.ParticipantPayload{
		DocumentID:  e.DocumentID,
		Participant: self,
	})

	s.coord.emitNotification(ctx, events.Notification{
		Kind:       events.KindParticipantJoined,
		DocumentID: e.DocumentID,
		Identity:   identity,
	})
	return nil
}

func (s *Session) handleLeave(ctx context.Context, e *models.LeaveEvent) error {
	if s.state == stateUnauthenticated {
		return service.ErrNotAuthenticated
	}
	if e.DocumentID == "" {
		return service.ErrDocumentIDRequired
	}

	if s.state != stateJoined || s.documentID != e.DocumentID {
		util.Log(ctx).WithFields(map[string]any{
			"identity":    s.md.Identity,
			"document_id": e.DocumentID,
		}).Warn("leave for document the identity is not joined to")
		return nil
	}

	s.leaveCurrentDocument(ctx)
	s.state = stateAuthenticated
	return nil
}

// leaveCurrentDocument removes the identity from its joined document and
// announces the departure. Caller holds s.mu and owns the state transition.
func (s *Session) leaveCurrentDocument(ctx context.Context) {
	docID := s.documentID
	identity := s.md.Identity
	s.documentID = ""
	s.color = ""

	remaining, wasMember := s.coord.presence.Leave(ctx, docID, identity)
	if !wasMember {
		return
	}
	s.announceLeft(ctx, docID, identity, remaining)
}

// announceLeft broadcasts the departure, emits the notification event and
// discards the document's operation log once the session is empty.
func (s *Session) announceLeft(ctx context.Context, docID, identity string, remaining []string) {
	if len(remaining) > 0 {
		s.coord.broadcast(ctx, remaining, models.ServerTypeParticipantLeft, models.ParticipantLeftPayload{
			DocumentID: docID,
			Identity:   identity,
		})
	} else {
		s.coord.sequencer.Drop(docID)
	}

	s.coord.emitNotification(ctx, events.Notification{
		Kind:       events.KindParticipantLeft,
		DocumentID: docID,
		Identity:   identity,
	})
}

func (s *Session) handleStartEditing(ctx context.Context, e *models.StartEditingEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}

	s.coord.presence.StartEditing(ctx, docID, s.md.Identity, e.Section)
	s.broadcastToOthers(ctx, models.ServerTypeEditingStarted, models.EditingPayload{
		DocumentID: docID,
		Identity:   s.md.Identity,
		Section:    e.Section,
	})
	return nil
}

func (s *Session) handleStopEditing(ctx context.Context) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}

	s.coord.presence.StopEditing(ctx, docID, s.md.Identity)
	s.broadcastToOthers(ctx, models.ServerTypeEditingStopped, models.EditingPayload{
		DocumentID: docID,
		Identity:   s.md.Identity,
	})
	return nil
}

func (s *Session) handleCursor(ctx context.Context, e *models.CursorEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}

	s.coord.presence.UpdateCursor(ctx, docID, s.md.Identity, e.Cursor)
	s.broadcastToOthers(ctx, models.ServerTypeCursorMoved, models.CursorMovedPayload{
		DocumentID: docID,
		Identity:   s.md.Identity,
		Color:      s.color,
		Cursor:     e.Cursor,
	})
	return nil
}

func (s *Session) handleEdit(ctx context.Context, e *models.EditEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}
	if len(e.Payload) == 0 {
		return service.ErrEmptyEditPayload
	}

	op := s.coord.sequencer.Append(ctx, models.Operation{
		DocumentID:    docID,
		Author:        s.md.Identity,
		Payload:       e.Payload,
		ClientVersion: e.ClientVersion,
	})

	s.broadcastToOthers(ctx, models.ServerTypeOperation, op)
	s.dispatchSelf(ctx, models.ServerTypeOperationAck, models.OperationAckPayload{
		DocumentID: docID,
		Sequence:   op.Sequence,
	})
	return nil
}

func (s *Session) handleComment(ctx context.Context, e *models.CommentEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}
	if len(e.Content) == 0 {
		return service.ErrEmptyComment
	}

	var anchor any
	if e.Anchor != nil {
		anchor = e.Anchor
	}

	// Persist first; nothing is broadcast for a comment the store rejected.
	stored, err := s.coord.store.CreateComment(ctx, docID, s.md.Identity, e.Content, anchor)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("document_id", docID).
			Error("comment persistence failed")
		return service.ErrCollaboratorUnavailable
	}

	comment := models.Comment{
		ID:         stored.ID,
		DocumentID: docID,
		Author:     s.md.Identity,
		Content:    e.Content,
		Anchor:     e.Anchor,
		CreatedAt:  stored.CreatedAt,
	}
	s.broadcastToAll(ctx, models.ServerTypeComment, comment)

	s.coord.emitNotification(ctx, events.Notification{
		Kind:       events.KindCommentCreated,
		DocumentID: docID,
		Identity:   s.md.Identity,
		CommentID:  stored.ID,
	})
	return nil
}

func (s *Session) handleDeleteComment(ctx context.Context, e *models.DeleteCommentEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}
	if e.CommentID == "" {
		return service.ErrCommentIDRequired
	}

	if err = s.coord.store.DeleteComment(ctx, e.CommentID, s.md.Identity); err != nil {
		util.Log(ctx).WithError(err).WithField("comment_id", e.CommentID).
			Error("comment deletion failed")
		return service.ErrCollaboratorUnavailable
	}

	s.broadcastToAll(ctx, models.ServerTypeCommentDeleted, models.CommentDeletedPayload{
		DocumentID: docID,
		CommentID:  e.CommentID,
		Author:     s.md.Identity,
	})

	s.coord.emitNotification(ctx, events.Notification{
		Kind:       events.KindCommentDeleted,
		DocumentID: docID,
		Identity:   s.md.Identity,
		CommentID:  e.CommentID,
	})
	return nil
}

func (s *Session) handleAddTag(ctx context.Context, e *models.AddTagEvent) error {
	return s.handleTag(ctx, e.Tag, true)
}

func (s *Session) handleRemoveTag(ctx context.Context, e *models.RemoveTagEvent) error {
	return s.handleTag(ctx, e.Tag, false)
}

func (s *Session) handleTag(ctx context.Context, tag string, add bool) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}
	if tag == "" {
		return service.ErrTagRequired
	}

	if add {
		err = s.coord.store.AddTag(ctx, docID, tag)
	} else {
		err = s.coord.store.RemoveTag(ctx, docID, tag)
	}
	if err != nil {
		util.Log(ctx).WithError(err).WithFields(map[string]any{
			"document_id": docID,
			"tag":         tag,
		}).Error("tag persistence failed")
		return service.ErrCollaboratorUnavailable
	}

	eventType, kind := models.ServerTypeTagAdded, events.KindTagAdded
	if !add {
		eventType, kind = models.ServerTypeTagRemoved, events.KindTagRemoved
	}

	s.broadcastToAll(ctx, eventType, models.TagPayload{
		DocumentID: docID,
		Tag:        tag,
		Author:     s.md.Identity,
		At:         time.Now(),
	})

	s.coord.emitNotification(ctx, events.Notification{
		Kind:       kind,
		DocumentID: docID,
		Identity:   s.md.Identity,
		Tag:        tag,
	})
	return nil
}

func (s *Session) handleSync(ctx context.Context, e *models.SyncEvent) error {
	docID, err := s.requireJoined()
	if err != nil {
		return err
	}

	ops, truncated := s.coord.sequencer.Recent(docID, e.SinceSequence)
	s.dispatchSelf(ctx, models.ServerTypeOperations, models.OperationsPayload{
		DocumentID: docID,
		Operations: ops,
		Truncated:  truncated,
	})
	return nil
}

func (s *Session) requireJoined() (string, error) {
	switch s.state {
	case stateUnauthenticated:
		return "", service.ErrNotAuthenticated
	case stateJoined:
		return s.documentID, nil
	default:
		return "", service.ErrNotJoined
	}
}

// dispatchSelf queues a frame on the session's own connection.
func (s *Session) dispatchSelf(ctx context.Context, eventType string, payload any) {
	frame, err := models.NewServerFrame(eventType, payload)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("event_type", eventType).
			Error("failed to encode frame")
		return
	}
	if !s.conn.Dispatch(frame) {
		util.Log(ctx).WithFields(map[string]any{
			"identity":   s.md.Identity,
			"event_type": eventType,
		}).Warn("frame dropped on own connection")
	}
}

// broadcastToOthers fans a frame out to every other session participant.
func (s *Session) broadcastToOthers(ctx context.Context, eventType string, payload any) {
	identities := s.coord.presence.ParticipantIdentities(s.documentID, s.md.Identity)
	s.coord.broadcast(ctx, identities, eventType, payload)
}

// broadcastToAll fans a frame out to every session participant, author
// included.
func (s *Session) broadcastToAll(ctx context.Context, eventType string, payload any) {
	identities := s.coord.presence.ParticipantIdentities(s.documentID, "")
	s.coord.broadcast(ctx, identities, eventType, payload)
}

func (c *SessionCoordinator) broadcast(ctx context.Context, identities []string, eventType string, payload any) {
	if len(identities) == 0 {
		return
	}

	frame, err := models.NewServerFrame(eventType, payload)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("event_type", eventType).
			Error("failed to encode broadcast frame")
		return
	}
	c.registry.Broadcast(ctx, identities, frame)
}

// sendError reports a failed event to its author. Authentication failures go
// out as auth_error, everything else as a generic error frame.
func (s *Session) sendError(ctx context.Context, evt models.ClientEvent, err error) {
	code := service.CodeFor(err)
	util.Log(ctx).WithError(err).WithFields(map[string]any{
		"identity": s.md.Identity,
		"code":     code,
	}).Warn("client event rejected")

	eventType := models.ServerTypeError
	if _, ok := evt.(*models.AuthenticateEvent); ok {
		eventType = models.ServerTypeAuthError
	}
	s.dispatchSelf(ctx, eventType, models.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

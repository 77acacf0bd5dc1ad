package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client frames arrive as {"type": "...", "payload": {...}} and are decoded
// into one variant of a closed union. Dispatching on the decoded type gives
// exhaustive compile-time coverage instead of a string-keyed lookup.

// Inbound event type tags.
const (
	ClientTypeAuthenticate  = "authenticate"
	ClientTypeJoin          = "join"
	ClientTypeLeave         = "leave"
	ClientTypeStartEditing  = "start_editing"
	ClientTypeStopEditing   = "stop_editing"
	ClientTypeCursor        = "cursor"
	ClientTypeEdit          = "edit"
	ClientTypeComment       = "comment"
	ClientTypeDeleteComment = "delete_comment"
	ClientTypeAddTag        = "add_tag"
	ClientTypeRemoveTag     = "remove_tag"
	ClientTypeSync          = "sync"
	ClientTypeHeartbeat     = "heartbeat"
)

// ClientEvent is the closed union of inbound client events.
type ClientEvent interface {
	clientEvent()
}

type AuthenticateEvent struct {
	Token string `json:"token"`
}

type JoinEvent struct {
	DocumentID string `json:"document_id"`
}

type LeaveEvent struct {
	DocumentID string `json:"document_id"`
}

type StartEditingEvent struct {
	Section string `json:"section"`
}

type StopEditingEvent struct{}

type CursorEvent struct {
	Cursor CursorState `json:"cursor"`
}

type EditEvent struct {
	Payload       json.RawMessage `json:"payload"`
	ClientVersion int64           `json:"client_version"`
}

type CommentEvent struct {
	Content json.RawMessage `json:"content"`
	Anchor  *CommentAnchor  `json:"anchor,omitempty"`
}

type DeleteCommentEvent struct {
	CommentID string `json:"comment_id"`
}

type AddTagEvent struct {
	Tag string `json:"tag"`
}

type RemoveTagEvent struct {
	Tag string `json:"tag"`
}

// SyncEvent asks for operations appended after SinceSequence. Soft catch-up
// only; there is no acknowledgement or retransmission protocol.
type SyncEvent struct {
	SinceSequence uint64 `json:"since_sequence"`
}

type HeartbeatEvent struct{}

func (*AuthenticateEvent) clientEvent()  {}
func (*JoinEvent) clientEvent()          {}
func (*LeaveEvent) clientEvent()         {}
func (*StartEditingEvent) clientEvent()  {}
func (*StopEditingEvent) clientEvent()   {}
func (*CursorEvent) clientEvent()        {}
func (*EditEvent) clientEvent()          {}
func (*CommentEvent) clientEvent()       {}
func (*DeleteCommentEvent) clientEvent() {}
func (*AddTagEvent) clientEvent()        {}
func (*RemoveTagEvent) clientEvent()     {}
func (*SyncEvent) clientEvent()          {}
func (*HeartbeatEvent) clientEvent()     {}

type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UnknownEventError reports an inbound frame whose type tag is not part of
// the protocol. The connection survives; the client gets an error frame.
type UnknownEventError struct {
	Type string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("unknown client event type %q", e.Type)
}

// DecodeClientEvent parses a raw inbound frame into its typed variant.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed client frame: %w", err)
	}

	var evt ClientEvent
	switch env.Type {
	case ClientTypeAuthenticate:
		evt = &AuthenticateEvent{}
	case ClientTypeJoin:
		evt = &JoinEvent{}
	case ClientTypeLeave:
		evt = &LeaveEvent{}
	case ClientTypeStartEditing:
		evt = &StartEditingEvent{}
	case ClientTypeStopEditing:
		evt = &StopEditingEvent{}
	case ClientTypeCursor:
		evt = &CursorEvent{}
	case ClientTypeEdit:
		evt = &EditEvent{}
	case ClientTypeComment:
		evt = &CommentEvent{}
	case ClientTypeDeleteComment:
		evt = &DeleteCommentEvent{}
	case ClientTypeAddTag:
		evt = &AddTagEvent{}
	case ClientTypeRemoveTag:
		evt = &RemoveTagEvent{}
	case ClientTypeSync:
		evt = &SyncEvent{}
	case ClientTypeHeartbeat:
		evt = &HeartbeatEvent{}
	default:
		return nil, &UnknownEventError{Type: env.Type}
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, evt); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
	}
	return evt, nil
}

// Outbound event type tags.
const (
	ServerTypeAuthenticated     = "authenticated"
	ServerTypeAuthError         = "auth_error"
	ServerTypeJoined            = "joined"
	ServerTypeParticipantJoined = "participant_joined"
	ServerTypeParticipantLeft   = "participant_left"
	ServerTypeEditingStarted    = "editing_started"
	ServerTypeEditingStopped    = "editing_stopped"
	ServerTypeCursorMoved       = "cursor_moved"
	ServerTypeOperation         = "operation"
	ServerTypeOperationAck      = "operation_ack"
	ServerTypeOperations        = "operations"
	ServerTypeComment           = "comment"
	ServerTypeCommentDeleted    = "comment_deleted"
	ServerTypeTagAdded          = "tag_added"
	ServerTypeTagRemoved        = "tag_removed"
	ServerTypeError             = "error"
)

// ServerFrame is one encoded outbound event, ready for the write pump.
// Encoding happens once per broadcast, not once per recipient.
type ServerFrame struct {
	Type string
	Data []byte
}

type serverEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// NewServerFrame encodes an outbound event of the given type.
func NewServerFrame(eventType string, payload any) (*ServerFrame, error) {
	data, err := json.Marshal(serverEnvelope{Type: eventType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", eventType, err)
	}
	return &ServerFrame{Type: eventType, Data: data}, nil
}

// Outbound payload bodies.

type AuthenticatedPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

type JoinedPayload struct {
	DocumentID   string        `json:"document_id"`
	Participants []Participant `json:"participants"`
}

type ParticipantPayload struct {
	DocumentID  string `json:"document_id"`
	Participant Participant
}

// MarshalJSON flattens the participant into the payload body so clients see
// {"document_id": ..., "identity": ..., ...}.
func (p ParticipantPayload) MarshalJSON() ([]byte, error) {
	type flat struct {
		DocumentID string `json:"document_id"`
		Participant
	}
	return json.Marshal(flat{DocumentID: p.DocumentID, Participant: p.Participant})
}

type ParticipantLeftPayload struct {
	DocumentID string `json:"document_id"`
	Identity   string `json:"identity"`
}

type EditingPayload struct {
	DocumentID string `json:"document_id"`
	Identity   string `json:"identity"`
	Section    string `json:"section,omitempty"`
}

type CursorMovedPayload struct {
	DocumentID string      `json:"document_id"`
	Identity   string      `json:"identity"`
	Color      string      `json:"color"`
	Cursor     CursorState `json:"cursor"`
}

type OperationAckPayload struct {
	DocumentID string `json:"document_id"`
	Sequence   uint64 `json:"sequence"`
}

// OperationsPayload answers a sync request. Truncated tells the client that
// part of the requested range has already been evicted from the replay
// window and a full document refetch is needed.
type OperationsPayload struct {
	DocumentID string      `json:"document_id"`
	Operations []Operation `json:"operations"`
	Truncated  bool        `json:"truncated,omitempty"`
}

type CommentDeletedPayload struct {
	DocumentID string `json:"document_id"`
	CommentID  string `json:"comment_id"`
	Author     string `json:"author"`
}

type TagPayload struct {
	DocumentID string    `json:"document_id"`
	Tag        string    `json:"tag"`
	Author     string    `json:"author"`
	At         time.Time `json:"at"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

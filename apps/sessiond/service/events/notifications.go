// Package events bridges session domain events to the notification queue.
// The coordinator emits through the service events manager; the handler here
// validates and republishes to the configured queue so downstream consumers
// (digest mailers, activity feeds) stay decoupled from the live session
// path.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/queue"
	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/internal"
)

// NotificationEventName is the events-manager topic for session
// notifications.
const NotificationEventName = "collab.session.notification"

// Notification kinds.
const (
	KindParticipantJoined = "participant_joined"
	KindParticipantLeft   = "participant_left"
	KindCommentCreated    = "comment_created"
	KindCommentDeleted    = "comment_deleted"
	KindTagAdded          = "tag_added"
	KindTagRemoved        = "tag_removed"
)

// Notification is one fire-and-forget session domain event.
type Notification struct {
	Kind       string    `json:"kind"`
	DocumentID string    `json:"document_id"`
	Identity   string    `json:"identity"`
	GatewayID  string    `json:"gateway_id,omitempty"`
	CommentID  string    `json:"comment_id,omitempty"`
	Tag        string    `json:"tag,omitempty"`
	At         time.Time `json:"at"`
}

// PublisherResolver is the slice of the queue manager the handler needs.
type PublisherResolver interface {
	GetPublisher(reference string) (queue.Publisher, error)
}

// NotificationHandler receives emitted session notifications and publishes
// them to the notification queue. Implements the service events handler
// contract. The publisher is resolved lazily by reference so registration
// order against the queue manager does not matter.
type NotificationHandler struct {
	qManager  PublisherResolver
	queueName string
}

// NewNotificationHandler creates the handler publishing to the named queue.
func NewNotificationHandler(qManager PublisherResolver, queueName string) *NotificationHandler {
	return &NotificationHandler{qManager: qManager, queueName: queueName}
}

func (h *NotificationHandler) Name() string {
	return NotificationEventName
}

func (h *NotificationHandler) PayloadType() any {
	return &Notification{}
}

func (h *NotificationHandler) Validate(_ context.Context, payload any) error {
	n, err := notificationFromPayload(payload)
	if err != nil {
		return err
	}
	if n.Kind == "" {
		return errors.New("notification kind is required")
	}
	if n.DocumentID == "" {
		return errors.New("notification document ID is required")
	}
	return nil
}

func (h *NotificationHandler) Execute(ctx context.Context, payload any) error {
	n, err := notificationFromPayload(payload)
	if err != nil {
		return err
	}

	publisher, err := h.qManager.GetPublisher(h.queueName)
	if err != nil {
		return fmt.Errorf("resolve notification publisher %s: %w", h.queueName, err)
	}

	headers := map[string]string{
		internal.HeaderDocumentID: n.DocumentID,
		internal.HeaderIdentity:   n.Identity,
		internal.HeaderEventKind:  n.Kind,
	}

	if err = publisher.Publish(ctx, n, headers); err != nil {
		return fmt.Errorf("publish %s notification: %w", n.Kind, err)
	}

	util.Log(ctx).WithFields(map[string]any{
		"kind":        n.Kind,
		"document_id": n.DocumentID,
		"identity":    n.Identity,
	}).Debug("notification published")
	return nil
}

// notificationFromPayload accepts both the typed struct handed straight from
// the emitter and the JSON bytes a queue-backed events manager delivers.
func notificationFromPayload(payload any) (*Notification, error) {
	switch p := payload.(type) {
	case *Notification:
		return p, nil
	case Notification:
		return &p, nil
	case []byte:
		n := &Notification{}
		if err := json.Unmarshal(p, n); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unexpected notification payload type %T", payload)
	}
}

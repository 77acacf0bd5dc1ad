// Package models holds the in-memory domain entities of the session manager
// and the wire frames exchanged with collaborating clients.
package models

import (
	"encoding/json"
	"time"
)

// CursorState is the advisory cursor/selection of a participant.
// Never authoritative; it only drives remote cursor rendering.
type CursorState struct {
	Start   int     `json:"start"`
	End     int     `json:"end"`
	ScreenX float64 `json:"screen_x"`
	ScreenY float64 `json:"screen_y"`
}

// Participant is one joined identity within a document session.
// Owned exclusively by the presence tracker.
type Participant struct {
	Identity    string      `json:"identity"`
	DisplayName string      `json:"display_name"`
	AvatarRef   string      `json:"avatar_ref,omitempty"`
	Color       string      `json:"color,omitempty"`
	DocumentID  string      `json:"document_id,omitempty"`
	Section     string      `json:"section,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	Cursor      CursorState `json:"cursor"`
}

// Clone returns a copy safe to hand out of the tracker's critical section.
func (p *Participant) Clone() Participant {
	return *p
}

// PresenceSnapshot is the cache representation of a participant's presence,
// written with a short TTL so that stale entries age out on their own.
type PresenceSnapshot struct {
	Identity   string    `json:"identity"`
	DocumentID string    `json:"document_id,omitempty"`
	Section    string    `json:"section,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
}

// SessionSnapshot is a point-in-time view of one document session,
// returned from presence joins and participant listings.
type SessionSnapshot struct {
	DocumentID   string        `json:"document_id"`
	Participants []Participant `json:"participants"`
	LastActivity time.Time     `json:"last_activity"`
}

// Operation is one broadcastable edit descriptor with its server-assigned
// sequence number. The payload is opaque to the session manager: it is
// relayed verbatim and reconciled by the receiving clients.
type Operation struct {
	Sequence      uint64          `json:"sequence"`
	DocumentID    string          `json:"document_id"`
	Author        string          `json:"author"`
	Payload       json.RawMessage `json:"payload"`
	ClientVersion int64           `json:"client_version"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CommentAnchor optionally pins a comment to a highlight range or a parent
// comment (threaded reply).
type CommentAnchor struct {
	Start     int    `json:"start,omitempty"`
	End       int    `json:"end,omitempty"`
	ReplyToID string `json:"reply_to_id,omitempty"`
}

// Comment is an annotation event relayed to live participants. Persistence
// is owned by the external annotation store; ID and CreatedAt are assigned
// there.
type Comment struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Author     string          `json:"author"`
	Content    json.RawMessage `json:"content"`
	Anchor     *CommentAnchor  `json:"anchor,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

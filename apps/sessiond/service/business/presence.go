package business

import (
	"context"
	"sync"
	"time"

	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/util"
	"github.com/scribehub/service-collab/apps/sessiond/service/models"
	"github.com/scribehub/service-collab/internal"
)

// presenceSnapshotTTL keeps cached presence entries short-lived so they age
// out on their own if a disconnect is missed.
const presenceSnapshotTTL = time.Minute

// documentSession is the ephemeral in-memory state of one document's
// collaboration session. All mutation goes through its mutex: that is the
// per-document critical section, so edits to different documents never
// contend.
type documentSession struct {
	documentID   string
	joinOrder    []string
	participants map[string]*models.Participant
	lastActivity time.Time
}

func (ds *documentSession) snapshot() models.SessionSnapshot {
	participants := make([]models.Participant, 0, len(ds.joinOrder))
	for _, identity := range ds.joinOrder {
		if p, ok := ds.participants[identity]; ok {
			participants = append(participants, p.Clone())
		}
	}
	return models.SessionSnapshot{
		DocumentID:   ds.documentID,
		Participants: participants,
		LastActivity: ds.lastActivity,
	}
}

func (ds *documentSession) removeParticipant(identity string) {
	delete(ds.participants, identity)
	for i, id := range ds.joinOrder {
		if id == identity {
			ds.joinOrder = append(ds.joinOrder[:i], ds.joinOrder[i+1:]...)
			break
		}
	}
}

// PresenceTracker owns all Participant state, keyed per document. Sessions
// are created lazily on first join and destroyed when the last participant
// leaves; nothing survives a process restart.
type PresenceTracker struct {
	mu          sync.Mutex
	sessions    map[string]*documentSession
	identityDoc map[string]string

	snapshots cache.Cache[string, models.PresenceSnapshot]
}

// NewPresenceTracker creates a tracker. rawCache receives short-TTL
// presence snapshots for out-of-band last-seen queries; pass nil to skip
// snapshot caching.
func NewPresenceTracker(rawCache cache.RawCache) *PresenceTracker {
	pt := &PresenceTracker{
		sessions:    make(map[string]*documentSession),
		identityDoc: make(map[string]string),
	}
	if rawCache != nil {
		pt.snapshots = cache.NewGenericCache[string, models.PresenceSnapshot](rawCache, func(s string) string {
			return s
		})
	}
	return pt
}

// Join adds participant to documentID's session, creating it lazily. If the
// identity is already joined to a different document, an implicit leave of
// that document happens first (single-document-membership invariant); the
// returned leftDoc names it, with leftRemaining the identities still in it,
// so the caller can broadcast the departure before the arrival.
func (pt *PresenceTracker) Join(
	ctx context.Context,
	documentID string,
	participant models.Participant,
) (snap models.SessionSnapshot, leftDoc string, leftRemaining []string) {
	now := time.Now()
	participant.DocumentID = documentID
	participant.LastSeen = now
	if participant.Color == "" {
		participant.Color = internal.ColorForIdentity(participant.Identity)
	}

	pt.mu.Lock()

	if prevDoc, ok := pt.identityDoc[participant.Identity]; ok && prevDoc != documentID {
		leftDoc = prevDoc
		leftRemaining = pt.leaveLocked(prevDoc, participant.Identity)
	}

	session, ok := pt.sessions[documentID]
	if !ok {
		session = &documentSession{
			documentID:   documentID,
			participants: make(map[string]*models.Participant),
		}
		pt.sessions[documentID] = session
	}

	if _, rejoining := session.participants[participant.Identity]; !rejoining {
		session.joinOrder = append(session.joinOrder, participant.Identity)
	}
	session.participants[participant.Identity] = &participant
	session.lastActivity = now
	pt.identityDoc[participant.Identity] = documentID

	snap = session.snapshot()
	pt.mu.Unlock()

	pt.cacheSnapshot(ctx, &participant)
	return snap, leftDoc, leftRemaining
}

// Leave removes identity from documentID's session. Returns the identities
// remaining in the session and whether the identity was actually a member.
// The session itself is destroyed when its last participant leaves.
func (pt *PresenceTracker) Leave(ctx context.Context, documentID, identity string) (remaining []string, wasMember bool) {
	pt.mu.Lock()

	session, ok := pt.sessions[documentID]
	if !ok || session.participants[identity] == nil {
		pt.mu.Unlock()
		util.Log(ctx).WithFields(map[string]any{
			"document_id": documentID,
			"identity":    identity,
		}).Warn("leave for identity not joined to document")
		return nil, false
	}

	remaining = pt.leaveLocked(documentID, identity)
	pt.mu.Unlock()

	if pt.snapshots != nil {
		_ = pt.snapshots.Delete(ctx, identity)
	}
	return remaining, true
}

// leaveLocked removes the identity and tears down the session if it became
// empty. Must be called with pt.mu held.
func (pt *PresenceTracker) leaveLocked(documentID, identity string) []string {
	session, ok := pt.sessions[documentID]
	if !ok {
		return nil
	}

	session.removeParticipant(identity)
	session.lastActivity = time.Now()
	delete(pt.identityDoc, identity)

	if len(session.participants) == 0 {
		delete(pt.sessions, documentID)
		return nil
	}

	remaining := make([]string, len(session.joinOrder))
	copy(remaining, session.joinOrder)
	return remaining
}

// StartEditing marks identity as editing the given section. Multiple
// participants may edit the same section at once; no lock is acquired.
func (pt *PresenceTracker) StartEditing(ctx context.Context, documentID, identity, section string) bool {
	return pt.mutateParticipant(ctx, documentID, identity, "start_editing", func(p *models.Participant) {
		p.Section = section
	})
}

// StopEditing clears identity's editing section.
func (pt *PresenceTracker) StopEditing(ctx context.Context, documentID, identity string) bool {
	return pt.mutateParticipant(ctx, documentID, identity, "stop_editing", func(p *models.Participant) {
		p.Section = ""
	})
}

// UpdateCursor records the advisory cursor/selection state.
func (pt *PresenceTracker) UpdateCursor(ctx context.Context, documentID, identity string, cursor models.CursorState) bool {
	return pt.mutateParticipant(ctx, documentID, identity, "cursor", func(p *models.Participant) {
		p.Cursor = cursor
	})
}

// mutateParticipant applies fn to a joined participant under the tracker
// lock. Not-joined identities are a warn-level no-op: they are usually
// out-of-order messages from a client that disconnected mid-flight.
func (pt *PresenceTracker) mutateParticipant(
	ctx context.Context,
	documentID, identity, what string,
	fn func(p *models.Participant),
) bool {
	pt.mu.Lock()

	session, ok := pt.sessions[documentID]
	if !ok || session.participants[identity] == nil {
		pt.mu.Unlock()
		util.Log(ctx).WithFields(map[string]any{
			"document_id": documentID,
			"identity":    identity,
			"event":       what,
		}).Warn("presence update for identity not joined to document")
		return false
	}

	p := session.participants[identity]
	fn(p)
	p.LastSeen = time.Now()
	session.lastActivity = p.LastSeen

	updated := p.Clone()
	pt.mu.Unlock()

	pt.cacheSnapshot(ctx, &updated)
	return true
}

// ListParticipants returns the session's participants in stable join order.
func (pt *PresenceTracker) ListParticipants(documentID string) []models.Participant {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	session, ok := pt.sessions[documentID]
	if !ok {
		return nil
	}
	return session.snapshot().Participants
}

// ParticipantIdentities returns the identities joined to documentID in join
// order, excluding the given identity (empty string excludes nothing).
func (pt *PresenceTracker) ParticipantIdentities(documentID, excluding string) []string {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	session, ok := pt.sessions[documentID]
	if !ok {
		return nil
	}

	identities := make([]string, 0, len(session.joinOrder))
	for _, identity := range session.joinOrder {
		if identity == excluding {
			continue
		}
		identities = append(identities, identity)
	}
	return identities
}

// SessionCount returns the number of live document sessions.
func (pt *PresenceTracker) SessionCount() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return len(pt.sessions)
}

func (pt *PresenceTracker) cacheSnapshot(ctx context.Context, p *models.Participant) {
	if pt.snapshots == nil {
		return
	}

	err := pt.snapshots.Set(ctx, p.Identity, models.PresenceSnapshot{
		Identity:   p.Identity,
		DocumentID: p.DocumentID,
		Section:    p.Section,
		LastSeen:   p.LastSeen,
	}, presenceSnapshotTTL)
	if err != nil {
		util.Log(ctx).WithError(err).WithField("identity", p.Identity).
			Debug("failed to cache presence snapshot")
	}
}

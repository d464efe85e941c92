package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/domain"
)

// PresenceTracker maintains per-user online state with reference-counted
// sessions: a user is online while at least one session is registered and
// flips offline only when the last one disconnects or the heartbeat timer
// expires. Presence changes fan out to conversation peers only, never as a
// global broadcast.
type PresenceTracker struct {
	mu      sync.Mutex
	entries map[int64]*presenceEntry

	users        domain.UserRepository
	participants domain.ParticipantRepository
	sink         Sink
	timeout      time.Duration
	logger       *zap.Logger
}

type presenceEntry struct {
	sessions map[string]struct{}
	timer    *time.Timer

	// expired marks a user forced offline by heartbeat silence while their
	// sessions are still registered. A resumed heartbeat or a new session
	// flips them back online.
	expired bool
}

func NewPresenceTracker(
	users domain.UserRepository,
	participants domain.ParticipantRepository,
	sink Sink,
	timeout time.Duration,
	logger *zap.Logger,
) *PresenceTracker {
	return &PresenceTracker{
		entries:      make(map[int64]*presenceEntry),
		users:        users,
		participants: participants,
		sink:         sink,
		timeout:      timeout,
		logger:       logger,
	}
}

// MarkOnline registers a session for the user. The first session flips the
// user online and notifies peers; further sessions only bump the refcount.
func (p *PresenceTracker) MarkOnline(ctx context.Context, userID int64, sessionID string) error {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok {
		e = &presenceEntry{sessions: make(map[string]struct{})}
		p.entries[userID] = e
	}
	wasOffline := len(e.sessions) == 0 || e.expired
	e.sessions[sessionID] = struct{}{}
	e.expired = false
	p.resetTimerLocked(userID, e)
	p.mu.Unlock()

	if !wasOffline {
		return nil
	}
	if err := p.users.SetOnlineStatus(ctx, userID, true, nil); err != nil {
		return err
	}
	p.notifyPeers(ctx, userID, true, nil)
	return nil
}

// MarkOffline drops one session. The user only goes offline once the last
// session is gone; last-seen is set to the transition time.
func (p *PresenceTracker) MarkOffline(ctx context.Context, userID int64, sessionID string) error {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if ok {
		delete(e.sessions, sessionID)
	}
	if !ok || len(e.sessions) > 0 {
		p.mu.Unlock()
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	wasExpired := e.expired
	delete(p.entries, userID)
	p.mu.Unlock()

	// Already persisted and announced offline when the heartbeat lapsed.
	if wasExpired {
		return nil
	}

	now := time.Now().UTC()
	if err := p.users.SetOnlineStatus(ctx, userID, false, &now); err != nil {
		return err
	}
	p.notifyPeers(ctx, userID, false, &now)
	return nil
}

// Heartbeat refreshes the user's idle timer. Sessions send these
// periodically; silence beyond the timeout forces the user offline, which
// guards against silently dropped connections. A heartbeat arriving after
// expiry proves the session is alive after all and flips the user back
// online.
func (p *PresenceTracker) Heartbeat(userID int64) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.resetTimerLocked(userID, e)
	if !e.expired || len(e.sessions) == 0 {
		p.mu.Unlock()
		return
	}
	e.expired = false
	p.mu.Unlock()

	ctx := context.Background()
	if err := p.users.SetOnlineStatus(ctx, userID, true, nil); err != nil {
		p.logger.Error("persist online after resumed heartbeat", zap.Int64("user_id", userID), zap.Error(err))
	}
	p.notifyPeers(ctx, userID, true, nil)
}

// IsOnline reports whether the user has at least one registered session
// whose heartbeat has not lapsed.
func (p *PresenceTracker) IsOnline(userID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[userID]
	return ok && len(e.sessions) > 0 && !e.expired
}

// Shutdown stops all pending timers.
func (p *PresenceTracker) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	p.entries = make(map[int64]*presenceEntry)
}

// resetTimerLocked (re)arms the heartbeat expiry as a cancellable scheduled
// callback rather than a polling loop. Caller holds p.mu.
func (p *PresenceTracker) resetTimerLocked(userID int64, e *presenceEntry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(p.timeout, func() {
		p.expire(userID)
	})
}

func (p *PresenceTracker) expire(userID int64) {
	p.mu.Lock()
	e, ok := p.entries[userID]
	if !ok || len(e.sessions) == 0 || e.expired {
		p.mu.Unlock()
		return
	}
	p.logger.Warn("presence heartbeat expired, forcing offline",
		zap.Int64("user_id", userID),
		zap.Int("sessions", len(e.sessions)))
	// The sessions stay registered: the sockets may still be alive, and a
	// resumed heartbeat from one of them restores the user.
	e.expired = true
	p.mu.Unlock()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := p.users.SetOnlineStatus(ctx, userID, false, &now); err != nil {
		p.logger.Error("persist forced offline", zap.Int64("user_id", userID), zap.Error(err))
	}
	p.notifyPeers(ctx, userID, false, &now)
}

func (p *PresenceTracker) notifyPeers(ctx context.Context, userID int64, isOnline bool, lastSeen *time.Time) {
	peers, err := p.participants.ListPeerIDs(ctx, userID)
	if err != nil {
		p.logger.Error("list presence peers", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if len(peers) == 0 {
		return
	}
	p.sink.SendToUsers(peers, PresenceEvent(userID, isOnline, lastSeen))
}

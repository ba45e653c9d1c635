package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"certquiz-service/internal/domain"
)

// SessionRepository is an in-memory event store implementing
// app.SessionRepository. It keeps the same shape as the Postgres store: an
// append-only event stream per session, periodic JSON snapshots, and a head
// row used for version checks and queries. Reads always rebuild the aggregate
// from snapshot + replay, never by handing out live head references.
type SessionRepository struct {
	snapshotInterval int64

	mu      sync.RWMutex
	streams map[string]*stream
}

type stream struct {
	head            domain.QuizSession
	events          []domain.Event
	snapshot        []byte
	snapshotVersion int64
}

// NewSessionRepository creates a store that snapshots every snapshotInterval
// events (0 picks a default).
func NewSessionRepository(snapshotInterval int64) *SessionRepository {
	if snapshotInterval <= 0 {
		snapshotInterval = 20
	}
	return &SessionRepository{
		snapshotInterval: snapshotInterval,
		streams:          make(map[string]*stream),
	}
}

func (r *SessionRepository) Save(ctx context.Context, session domain.QuizSession, expectedVersion int64, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("save without events for session %s", session.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate before touching the map so a rejected save leaves no stream
	// behind.
	for i, event := range events {
		if want := expectedVersion + int64(i) + 1; event.Version != want {
			return fmt.Errorf("%w: appending version %d after %d", domain.ErrCorruptStream, event.Version, want-1)
		}
	}

	st, exists := r.streams[session.ID]
	if !exists {
		if expectedVersion != 0 {
			return domain.ErrSessionNotFound
		}
		// Partial-unique analogue: one in-progress session per user.
		for _, other := range r.streams {
			if other.head.UserID == session.UserID && other.head.State == domain.StateInProgress {
				return domain.ErrActiveSessionExists
			}
		}
		st = &stream{}
		r.streams[session.ID] = st
	} else if st.head.Version != expectedVersion {
		return domain.ErrConcurrentModification
	}

	st.events = append(st.events, events...)
	st.head = session

	if session.Version-st.snapshotVersion >= r.snapshotInterval {
		blob, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal snapshot: %w", err)
		}
		st.snapshot = blob
		st.snapshotVersion = session.Version
	}
	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (domain.QuizSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.streams[id]
	if !ok {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return rebuild(st)
}

func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID string) (domain.QuizSession, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, st := range r.streams {
		if st.head.UserID != userID || st.head.State != domain.StateInProgress {
			continue
		}
		session, err := rebuild(st)
		if err != nil {
			return domain.QuizSession{}, false, err
		}
		return session, true, nil
	}
	return domain.QuizSession{}, false, nil
}

func (r *SessionRepository) FindExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.QuizSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.QuizSession
	for _, st := range r.streams {
		if st.head.State != domain.StateInProgress || !st.head.TimedOut(now) {
			continue
		}
		session, err := rebuild(st)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SessionRepository) CountTotalSessions(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams), nil
}

func (r *SessionRepository) CountActiveSessions(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := 0
	for _, st := range r.streams {
		if st.head.State == domain.StateInProgress {
			active++
		}
	}
	return active, nil
}

func rebuild(st *stream) (domain.QuizSession, error) {
	var baseline *domain.QuizSession
	if st.snapshot != nil {
		var snap domain.QuizSession
		if err := json.Unmarshal(st.snapshot, &snap); err != nil {
			return domain.QuizSession{}, fmt.Errorf("%w: decode snapshot: %v", domain.ErrCorruptStream, err)
		}
		baseline = &snap
	}

	tail := st.events
	if baseline != nil {
		idx := sort.Search(len(tail), func(i int) bool { return tail[i].Version > st.snapshotVersion })
		tail = tail[idx:]
	}
	return domain.Replay(baseline, tail)
}

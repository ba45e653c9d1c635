package app

import (
	"sync"

	"certquiz-service/internal/domain"
)

// SessionUpdate is the progress view pushed to watchers after every persisted
// state change.
type SessionUpdate struct {
	SessionID     string           `json:"sessionId"`
	State         domain.QuizState `json:"state"`
	Version       int64            `json:"version"`
	AnsweredCount int              `json:"answeredCount"`
	QuestionCount int              `json:"questionCount"`
	Score         *domain.Score    `json:"score,omitempty"`
}

func updateFor(session domain.QuizSession, score *domain.Score) SessionUpdate {
	return SessionUpdate{
		SessionID:     session.ID,
		State:         session.State,
		Version:       session.Version,
		AnsweredCount: session.AnsweredCount(),
		QuestionCount: session.Config.QuestionCount,
		Score:         score,
	}
}

// watchHub fans session updates out to websocket watchers.
type watchHub struct {
	mu       sync.Mutex
	watchers map[string]map[chan SessionUpdate]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[chan SessionUpdate]struct{})}
}

// subscribe registers a watcher and seeds it with the current state. The seed
// happens under the hub lock so every send on a watcher channel is serialized
// with broadcast's drain-and-resend fallback.
func (h *watchHub) subscribe(sessionID string, initial SessionUpdate) (chan SessionUpdate, func()) {
	ch := make(chan SessionUpdate, 8)

	h.mu.Lock()
	set, ok := h.watchers[sessionID]
	if !ok {
		set = make(map[chan SessionUpdate]struct{})
		h.watchers[sessionID] = set
	}
	set[ch] = struct{}{}
	ch <- initial
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.watchers[sessionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.watchers, sessionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *watchHub) broadcast(session domain.QuizSession, score *domain.Score) {
	update := updateFor(session, score)

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.watchers[session.ID] {
		select {
		case ch <- update:
		default:
			// Drop the oldest update rather than blocking on a slow watcher.
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}

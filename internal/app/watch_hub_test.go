package app

import (
	"testing"

	"certquiz-service/internal/domain"
)

func watchedSession(version int64) domain.QuizSession {
	return domain.QuizSession{
		ID:      "s1",
		UserID:  "u1",
		State:   domain.StateInProgress,
		Config:  domain.QuizConfig{ExamType: domain.ExamCCNA, QuestionCount: 3, Difficulty: domain.DifficultyMixed},
		Version: version,
	}
}

func TestSubscribeSeedsInitialUpdate(t *testing.T) {
	hub := newWatchHub()
	ch, cancel := hub.subscribe("s1", updateFor(watchedSession(1), nil))
	defer cancel()

	select {
	case update := <-ch:
		if update.Version != 1 || update.SessionID != "s1" {
			t.Fatalf("unexpected seed update: %+v", update)
		}
	default:
		t.Fatalf("subscribe did not seed the initial update")
	}
}

func TestBroadcastNeverBlocksOnSlowWatcher(t *testing.T) {
	hub := newWatchHub()
	ch, cancel := hub.subscribe("s1", updateFor(watchedSession(1), nil))
	defer cancel()

	// The watcher never reads; each broadcast past the buffer drops the
	// oldest pending update instead of blocking.
	for v := int64(2); v <= 50; v++ {
		hub.broadcast(watchedSession(v), nil)
	}

	var last SessionUpdate
	for {
		select {
		case update := <-ch:
			last = update
			continue
		default:
		}
		break
	}
	if last.Version != 50 {
		t.Fatalf("expected the newest update to survive, got version %d", last.Version)
	}
}

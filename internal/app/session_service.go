package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"certquiz-service/internal/domain"
	"github.com/google/uuid"
)

// SessionRepository abstracts the event-store persistence for quiz sessions
// (in-memory, Postgres, etc).
//
// Save appends the given events and advances the head to session, but only if
// the stored version still equals expectedVersion (0 for a brand-new
// session); otherwise it reports domain.ErrConcurrentModification. The append
// and the head update are atomic.
type SessionRepository interface {
	FindByID(ctx context.Context, id string) (domain.QuizSession, error)
	Save(ctx context.Context, session domain.QuizSession, expectedVersion int64, events []domain.Event) error
	FindActiveByUser(ctx context.Context, userID string) (domain.QuizSession, bool, error)
	FindExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.QuizSession, error)
	CountTotalSessions(ctx context.Context) (int, error)
	CountActiveSessions(ctx context.Context) (int, error)
}

// QuestionBank draws question references for a new session from the bank
// (cached Redis/memory layers over a Postgres loader).
type QuestionBank interface {
	Draw(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty, count int) ([]domain.QuestionReference, error)
}

// SessionService contains the session lifecycle use cases.
type SessionService struct {
	sessions SessionRepository
	bank     QuestionBank
	clock    domain.Clock
	hub      *watchHub
}

func NewSessionService(sessions SessionRepository, bank QuestionBank, clock domain.Clock) *SessionService {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SessionService{
		sessions: sessions,
		bank:     bank,
		clock:    clock,
		hub:      newWatchHub(),
	}
}

// StartSession draws a question set and opens a new session for the user.
// A user may hold at most one in-progress session; a stale one whose time
// limit already passed is expired here rather than blocking the new start.
func (s *SessionService) StartSession(ctx context.Context, userID string, config domain.QuizConfig) (domain.QuizSession, error) {
	if userID == "" {
		return domain.QuizSession{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	active, ok, err := s.sessions.FindActiveByUser(ctx, userID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if ok {
		if !active.TimedOut(s.clock.Now()) {
			return domain.QuizSession{}, domain.ErrActiveSessionExists
		}
		if err := s.expireStale(ctx, active); err != nil {
			return domain.QuizSession{}, err
		}
	}

	questions, err := s.bank.Draw(ctx, config.ExamType, config.Difficulty, config.QuestionCount)
	if err != nil {
		return domain.QuizSession{}, err
	}

	session, event, err := domain.StartSession(uuid.NewString(), userID, config, questions, s.clock)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if err := s.sessions.Save(ctx, session, 0, []domain.Event{event}); err != nil {
		return domain.QuizSession{}, err
	}
	s.hub.broadcast(session, nil)
	return session, nil
}

// SubmitAnswer records one answer. When the time limit is already breached
// the expiry transition is persisted and domain.ErrSessionExpired is returned
// along with the expired session, so transports can report the specific
// failure while the store converges.
func (s *SessionService) SubmitAnswer(ctx context.Context, sessionID, userID string, questionIndex int, selectedOptionIDs []string) (domain.QuizSession, error) {
	session, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return domain.QuizSession{}, err
	}

	next, event, cmdErr := session.SubmitAnswer(questionIndex, selectedOptionIDs, s.clock)
	if cmdErr != nil && !errors.Is(cmdErr, domain.ErrSessionExpired) {
		return domain.QuizSession{}, cmdErr
	}
	if err := s.sessions.Save(ctx, next, session.Version, []domain.Event{event}); err != nil {
		return domain.QuizSession{}, err
	}
	s.hub.broadcast(next, nil)
	return next, cmdErr
}

// Complete grades and closes the session, returning the final score. As with
// SubmitAnswer, a session past its time limit expires instead: the transition
// is persisted and domain.ErrSessionExpired is returned.
func (s *SessionService) Complete(ctx context.Context, sessionID, userID string) (domain.QuizSession, domain.Score, error) {
	session, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return domain.QuizSession{}, domain.Score{}, err
	}
	next, event, cmdErr := session.Complete(s.clock)
	if cmdErr != nil && !errors.Is(cmdErr, domain.ErrSessionExpired) {
		return domain.QuizSession{}, domain.Score{}, cmdErr
	}
	if err := s.sessions.Save(ctx, next, session.Version, []domain.Event{event}); err != nil {
		return domain.QuizSession{}, domain.Score{}, err
	}
	if cmdErr != nil {
		s.hub.broadcast(next, nil)
		return next, domain.Score{}, cmdErr
	}
	score := next.Score()
	s.hub.broadcast(next, &score)
	return next, score, nil
}

// ExpireSession forces the expiry transition, regardless of the time limit.
// Used by the sweep and by administrative tooling.
func (s *SessionService) ExpireSession(ctx context.Context, sessionID string) (domain.QuizSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	next, event, err := session.Expire(s.clock)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if err := s.sessions.Save(ctx, next, session.Version, []domain.Event{event}); err != nil {
		return domain.QuizSession{}, err
	}
	s.hub.broadcast(next, nil)
	return next, nil
}

// GetSession returns the session as persisted. A timed-out session may still
// read as in-progress until a mutating call or the sweep applies expiry;
// callers can derive the effective state via TimedOut.
func (s *SessionService) GetSession(ctx context.Context, sessionID, userID string) (domain.QuizSession, error) {
	return s.load(ctx, sessionID, userID)
}

// SweepExpired runs one sweep cycle: every in-progress session past its
// deadline at now is expired, up to limit. Losing a race to another writer is
// fine; that session is already handled.
func (s *SessionService) SweepExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.sessions.FindExpiredSessions(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for _, session := range expired {
		if _, err := s.ExpireSession(ctx, session.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidState) ||
				errors.Is(err, domain.ErrConcurrentModification) ||
				errors.Is(err, domain.ErrSessionNotFound) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// Stats reports total and in-progress session counts.
func (s *SessionService) Stats(ctx context.Context) (total, active int, err error) {
	if total, err = s.sessions.CountTotalSessions(ctx); err != nil {
		return 0, 0, err
	}
	if active, err = s.sessions.CountActiveSessions(ctx); err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

// Watch returns a channel of progress updates for a session. The caller must
// invoke the returned cancel function to avoid leaks.
func (s *SessionService) Watch(ctx context.Context, sessionID, userID string) (<-chan SessionUpdate, func(), error) {
	session, err := s.load(ctx, sessionID, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.subscribe(sessionID, updateFor(session, nil))
	return ch, cancel, nil
}

func (s *SessionService) load(ctx context.Context, sessionID, userID string) (domain.QuizSession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return domain.QuizSession{}, err
	}
	// Ownership check: sessions of other users read as not found.
	if userID != "" && session.UserID != userID {
		return domain.QuizSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionService) expireStale(ctx context.Context, session domain.QuizSession) error {
	_, err := s.ExpireSession(ctx, session.ID)
	if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrConcurrentModification) {
		// Another writer already closed it.
		return nil
	}
	return err
}

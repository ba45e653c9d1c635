package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"certquiz-service/internal/app"
	"certquiz-service/internal/domain"
	"certquiz-service/internal/infra/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService() (*app.SessionService, *memory.SessionRepository, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	repo := memory.NewSessionRepository(3)
	bank := memory.NewQuestionBank(memory.NewStaticQuestionLoader(testBanks()), 5*time.Minute)
	return app.NewSessionService(repo, bank, clock), repo, clock
}

func testBanks() map[memory.BankKey][]domain.QuestionReference {
	return map[memory.BankKey][]domain.QuestionReference{
		{ExamType: domain.ExamCCNA, Difficulty: domain.DifficultyEasy}: {
			{QuestionID: "q1", CorrectOptionIDs: []string{"a"}},
			{QuestionID: "q2", CorrectOptionIDs: []string{"b"}},
			{QuestionID: "q3", CorrectOptionIDs: []string{"c"}},
			{QuestionID: "q4", CorrectOptionIDs: []string{"d"}},
			{QuestionID: "q5", CorrectOptionIDs: []string{"a", "b"}},
		},
	}
}

func mustConfig(t *testing.T, timeLimitSeconds int) domain.QuizConfig {
	t.Helper()
	cfg, err := domain.NewQuizConfig(domain.ExamCCNA, 5, timeLimitSeconds, domain.DifficultyEasy)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestStartAnswerCompleteFlow(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	session, err := service.StartSession(ctx, "u1", mustConfig(t, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != domain.StateInProgress || session.Version != 1 {
		t.Fatalf("unexpected fresh session: %+v", session)
	}
	if len(session.Questions) != 5 {
		t.Fatalf("expected 5 drawn questions, got %d", len(session.Questions))
	}

	// Answer question 0 correctly using the captured correct set.
	session, err = service.SubmitAnswer(ctx, session.ID, "u1", 0, session.Questions[0].CorrectOptionIDs)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if session.AnsweredCount() != 1 || session.Version != 2 {
		t.Fatalf("unexpected session after submit: %+v", session)
	}

	completed, score, err := service.Complete(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s", completed.State)
	}
	if score.CorrectCount != 1 || score.Percent != 20 {
		t.Fatalf("expected 1/5 = 20%%, got %+v", score)
	}
}

func TestSingleActiveSessionPerUser(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	if _, err := service.StartSession(ctx, "u1", mustConfig(t, 0)); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := service.StartSession(ctx, "u1", mustConfig(t, 0)); !errors.Is(err, domain.ErrActiveSessionExists) {
		t.Fatalf("expected active session conflict, got %v", err)
	}

	// A different user is unaffected.
	if _, err := service.StartSession(ctx, "u2", mustConfig(t, 0)); err != nil {
		t.Fatalf("other user start: %v", err)
	}
}

func TestStartExpiresStaleTimedSession(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newTestService()

	stale, err := service.StartSession(ctx, "u1", mustConfig(t, 60))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(2 * time.Minute)
	fresh, err := service.StartSession(ctx, "u1", mustConfig(t, 60))
	if err != nil {
		t.Fatalf("restart after timeout: %v", err)
	}
	if fresh.ID == stale.ID {
		t.Fatalf("expected a new session")
	}

	reloaded, err := service.GetSession(ctx, stale.ID, "u1")
	if err != nil {
		t.Fatalf("reload stale: %v", err)
	}
	if reloaded.State != domain.StateExpired {
		t.Fatalf("stale session should be expired, got %s", reloaded.State)
	}
}

func TestSubmitAfterDeadlinePersistsExpiry(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newTestService()

	session, err := service.StartSession(ctx, "u1", mustConfig(t, 60))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(61 * time.Second)
	expired, err := service.SubmitAnswer(ctx, session.ID, "u1", 0, []string{"a"})
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	if expired.State != domain.StateExpired {
		t.Fatalf("expected expired session returned, got %s", expired.State)
	}

	reloaded, err := service.GetSession(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != domain.StateExpired || reloaded.Version != session.Version+1 {
		t.Fatalf("expiry was not persisted: %+v", reloaded)
	}
}

func TestCompleteAfterDeadlinePersistsExpiry(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newTestService()

	session, err := service.StartSession(ctx, "u1", mustConfig(t, 60))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(2 * time.Minute)
	expired, _, err := service.Complete(ctx, session.ID, "u1")
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	if expired.State != domain.StateExpired || expired.CompletedAt != nil {
		t.Fatalf("expected expired session without completedAt, got %+v", expired)
	}

	reloaded, err := service.GetSession(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.State != domain.StateExpired || reloaded.Version != session.Version+1 {
		t.Fatalf("expiry was not persisted: %+v", reloaded)
	}
}

func TestSubmitOnForeignSessionReadsAsNotFound(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	session, err := service.StartSession(ctx, "u1", mustConfig(t, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, session.ID, "u2", 0, []string{"a"}); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found for foreign user, got %v", err)
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newTestService()

	if _, err := service.StartSession(ctx, "u1", mustConfig(t, 60)); err != nil {
		t.Fatalf("start u1: %v", err)
	}
	if _, err := service.StartSession(ctx, "u2", mustConfig(t, 60)); err != nil {
		t.Fatalf("start u2: %v", err)
	}
	// Untimed sessions are never swept.
	if _, err := service.StartSession(ctx, "u3", mustConfig(t, 0)); err != nil {
		t.Fatalf("start u3: %v", err)
	}

	clock.Advance(2 * time.Minute)
	swept, err := service.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 swept, got %d", swept)
	}

	swept, err = service.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("re-sweep must be a no-op, got %d", swept)
	}

	total, active, err := service.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if total != 3 || active != 1 {
		t.Fatalf("expected 3 total / 1 active, got %d/%d", total, active)
	}
}

func TestWatchReceivesUpdates(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService()

	session, err := service.StartSession(ctx, "u1", mustConfig(t, 0))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	updates, cancel, err := service.Watch(ctx, session.ID, "u1")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	initial := <-updates
	if initial.Version != 1 || initial.AnsweredCount != 0 {
		t.Fatalf("unexpected initial update: %+v", initial)
	}

	if _, err := service.SubmitAnswer(ctx, session.ID, "u1", 0, []string{"a"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	update := <-updates
	if update.Version != 2 || update.AnsweredCount != 1 {
		t.Fatalf("unexpected update: %+v", update)
	}

	if _, _, err := service.Complete(ctx, session.ID, "u1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	final := <-updates
	if final.State != domain.StateCompleted || final.Score == nil {
		t.Fatalf("expected completion update with score, got %+v", final)
	}
}

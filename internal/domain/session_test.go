package domain_test

import (
	"errors"
	"testing"
	"time"

	"certquiz-service/internal/domain"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func threeQuestions() []domain.QuestionReference {
	return []domain.QuestionReference{
		{QuestionID: "q0", CorrectOptionIDs: []string{"opt-correct"}},
		{QuestionID: "q1", CorrectOptionIDs: []string{"opt-correct"}},
		{QuestionID: "q2", CorrectOptionIDs: []string{"opt-correct"}},
	}
}

// Domain tests build configs as literals; NewQuizConfig constrains the sizes
// offered over the API and has its own tests.
func untimedConfig(count int) domain.QuizConfig {
	return domain.QuizConfig{
		ExamType:      domain.ExamCCNA,
		QuestionCount: count,
		Difficulty:    domain.DifficultyMixed,
	}
}

func timedConfig(count, seconds int) domain.QuizConfig {
	cfg := untimedConfig(count)
	cfg.TimeLimitSeconds = seconds
	return cfg
}

func TestStartSessionInitialState(t *testing.T) {
	clock := newFakeClock()
	session, event, err := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.State != domain.StateInProgress {
		t.Fatalf("expected in_progress, got %s", session.State)
	}
	if session.Version != 1 {
		t.Fatalf("expected version 1, got %d", session.Version)
	}
	if len(session.Answers) != 0 {
		t.Fatalf("expected no answers, got %d", len(session.Answers))
	}
	if !session.StartedAt.Equal(clock.Now()) {
		t.Fatalf("expected startedAt %v, got %v", clock.Now(), session.StartedAt)
	}
	if event.Type != domain.EventSessionStarted || event.Version != 1 {
		t.Fatalf("unexpected start event %+v", event)
	}
}

func TestStartSessionQuestionCountMismatch(t *testing.T) {
	_, _, err := domain.StartSession("s1", "u1", untimedConfig(5), threeQuestions(), newFakeClock())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStartSessionRejectsEmptyCorrectOptions(t *testing.T) {
	questions := threeQuestions()
	questions[1].CorrectOptionIDs = nil
	_, _, err := domain.StartSession("s1", "u1", untimedConfig(3), questions, newFakeClock())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitAnswerRecordsAndIncrementsVersion(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)

	next, event, err := session.SubmitAnswer(0, []string{"opt-correct"}, clock)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("expected version 2, got %d", next.Version)
	}
	if next.AnsweredCount() != 1 {
		t.Fatalf("expected 1 answer, got %d", next.AnsweredCount())
	}
	if event.Type != domain.EventAnswerSubmitted || event.Version != 2 {
		t.Fatalf("unexpected event %+v", event)
	}
	// The original value is untouched.
	if session.AnsweredCount() != 0 || session.Version != 1 {
		t.Fatalf("command mutated its receiver: %+v", session)
	}
}

func TestSubmitAnswerDuplicateIndex(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)
	session, _, _ = session.SubmitAnswer(1, []string{"opt-a"}, clock)

	dup, _, err := session.SubmitAnswer(1, []string{"opt-b"}, clock)
	if !errors.Is(err, domain.ErrDuplicateAnswer) {
		t.Fatalf("expected duplicate answer error, got %v", err)
	}
	if got := dup.Answers[1].SelectedOptionIDs[0]; got != "opt-a" {
		t.Fatalf("duplicate submit overwrote answer: %s", got)
	}
	if dup.Version != session.Version {
		t.Fatalf("duplicate submit changed version: %d", dup.Version)
	}
}

func TestSubmitAnswerIndexOutOfRange(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)

	for _, idx := range []int{-1, 3, 100} {
		if _, _, err := session.SubmitAnswer(idx, []string{"opt-a"}, clock); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("index %d: expected validation error, got %v", idx, err)
		}
	}
}

func TestCompletePartialAnswersScoresUnansweredAsWrong(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)
	session, _, _ = session.SubmitAnswer(0, []string{"opt-correct"}, clock)
	session, _, _ = session.SubmitAnswer(1, []string{"opt-wrong"}, clock)
	// index 2 left unanswered

	completed, event, err := session.Complete(clock)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.State != domain.StateCompleted {
		t.Fatalf("expected completed, got %s", completed.State)
	}
	if completed.CompletedAt == nil || !completed.CompletedAt.Equal(clock.Now()) {
		t.Fatalf("expected completedAt %v, got %v", clock.Now(), completed.CompletedAt)
	}

	score := completed.Score()
	if score.CorrectCount != 1 || score.QuestionCount != 3 {
		t.Fatalf("expected 1/3 correct, got %+v", score)
	}
	if score.Percent != 33 {
		t.Fatalf("expected 33%%, got %d", score.Percent)
	}
	if event.Type != domain.EventSessionCompleted {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestScoreRequiresExactOptionSetMatch(t *testing.T) {
	clock := newFakeClock()
	questions := []domain.QuestionReference{
		{QuestionID: "q0", CorrectOptionIDs: []string{"opt-a", "opt-c"}},
		{QuestionID: "q1", CorrectOptionIDs: []string{"opt-a", "opt-c"}},
		{QuestionID: "q2", CorrectOptionIDs: []string{"opt-a", "opt-c"}},
	}
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), questions, clock)
	session, _, _ = session.SubmitAnswer(0, []string{"opt-a"}, clock)                   // subset: wrong
	session, _, _ = session.SubmitAnswer(1, []string{"opt-a", "opt-b", "opt-c"}, clock) // superset: wrong
	session, _, _ = session.SubmitAnswer(2, []string{"opt-c", "opt-a"}, clock)          // order-free match

	if score := session.Score(); score.CorrectCount != 1 {
		t.Fatalf("expected exactly the set-equal answer to count, got %+v", score)
	}
}

func TestScoreIsOrderIndependent(t *testing.T) {
	clock := newFakeClock()
	answers := map[int][]string{0: {"opt-correct"}, 1: {"opt-wrong"}, 2: {"opt-correct"}}

	scoreFor := func(order []int) domain.Score {
		session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)
		for _, idx := range order {
			var err error
			session, _, err = session.SubmitAnswer(idx, answers[idx], clock)
			if err != nil {
				t.Fatalf("submit %d: %v", idx, err)
			}
		}
		completed, _, err := session.Complete(clock)
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		return completed.Score()
	}

	want := scoreFor([]int{0, 1, 2})
	for _, order := range [][]int{{2, 1, 0}, {1, 0, 2}, {2, 0, 1}} {
		if got := scoreFor(order); got != want {
			t.Fatalf("order %v: score %+v differs from %+v", order, got, want)
		}
	}
}

func TestTimedSubmitAfterDeadlineExpiresSession(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", timedConfig(3, 60), threeQuestions(), clock)

	clock.Advance(61 * time.Second)
	expired, event, err := session.SubmitAnswer(0, []string{"opt-correct"}, clock)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	if expired.State != domain.StateExpired {
		t.Fatalf("expected expired state, got %s", expired.State)
	}
	if expired.Version != session.Version+1 {
		t.Fatalf("expected version bump to %d, got %d", session.Version+1, expired.Version)
	}
	if event.Type != domain.EventSessionExpired {
		t.Fatalf("expected expired event, got %+v", event)
	}
	if expired.AnsweredCount() != 0 {
		t.Fatalf("expired submit must not record the answer")
	}
	if expired.CompletedAt != nil {
		t.Fatalf("expiry must not set completedAt")
	}
}

func TestTimedCompleteAfterDeadlineExpiresSession(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", timedConfig(3, 60), threeQuestions(), clock)
	session, _, _ = session.SubmitAnswer(0, []string{"opt-correct"}, clock)

	clock.Advance(120 * time.Second)
	expired, event, err := session.Complete(clock)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expected expiry error, got %v", err)
	}
	if expired.State != domain.StateExpired {
		t.Fatalf("expected expired state, got %s", expired.State)
	}
	if expired.CompletedAt != nil {
		t.Fatalf("expiry must not set completedAt")
	}
	if event.Type != domain.EventSessionExpired || event.Version != session.Version+1 {
		t.Fatalf("expected expired event at version %d, got %+v", session.Version+1, event)
	}
}

func TestSubmitExactlyAtDeadlineExpires(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", timedConfig(3, 60), threeQuestions(), clock)

	clock.Advance(60 * time.Second)
	if _, _, err := session.SubmitAnswer(0, []string{"opt-correct"}, clock); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("deadline is inclusive, expected expiry, got %v", err)
	}
}

func TestTerminalStatesAbsorbAllCommands(t *testing.T) {
	clock := newFakeClock()

	start := func() domain.QuizSession {
		s, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)
		return s
	}

	completed, _, _ := start().Complete(clock)
	expired, _, _ := start().Expire(clock)

	for name, session := range map[string]domain.QuizSession{"completed": completed, "expired": expired} {
		version := session.Version
		if _, _, err := session.SubmitAnswer(0, []string{"x"}, clock); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("%s submit: expected invalid state, got %v", name, err)
		}
		if _, _, err := session.Complete(clock); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("%s complete: expected invalid state, got %v", name, err)
		}
		if _, _, err := session.Expire(clock); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("%s expire: expected invalid state, got %v", name, err)
		}
		if session.Version != version {
			t.Fatalf("%s: terminal command changed version", name)
		}
	}
}

func TestUntimedSessionNeverTimesOut(t *testing.T) {
	clock := newFakeClock()
	session, _, _ := domain.StartSession("s1", "u1", untimedConfig(3), threeQuestions(), clock)

	if _, ok := session.Deadline(); ok {
		t.Fatalf("untimed session must not report a deadline")
	}
	clock.Advance(1000 * time.Hour)
	if session.TimedOut(clock.Now()) {
		t.Fatalf("untimed session must never time out")
	}
	if _, _, err := session.SubmitAnswer(0, []string{"opt-correct"}, clock); err != nil {
		t.Fatalf("submit on untimed session: %v", err)
	}
}

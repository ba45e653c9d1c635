package domain

import (
	"fmt"
	"math"
	"time"
)

// Answer records one submitted answer. Entries are append-only; an index is
// answered at most once for the lifetime of the session.
type Answer struct {
	SelectedOptionIDs []string  `json:"selectedOptionIds"`
	SubmittedAt       time.Time `json:"submittedAt"`
}

// QuizSession is the aggregate root and unit of consistency. Commands never
// mutate the receiver; each returns a new session value plus the event that
// produced it. Version increases by one per command and orders the stream.
type QuizSession struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Config      QuizConfig          `json:"config"`
	Questions   []QuestionReference `json:"questions"`
	State       QuizState           `json:"state"`
	Answers     map[int]Answer      `json:"answers"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
	Version     int64               `json:"version"`
}

// Score is the result of grading a session.
type Score struct {
	CorrectCount  int `json:"correctCount"`
	QuestionCount int `json:"questionCount"`
	Percent       int `json:"percent"`
}

// StartSession creates a new in-progress session at version 1.
// The question list must match the configured count exactly and every
// reference must carry a non-empty correct option set.
func StartSession(id, userID string, config QuizConfig, questions []QuestionReference, clock Clock) (QuizSession, Event, error) {
	if id == "" || userID == "" {
		return QuizSession{}, Event{}, fmt.Errorf("%w: session and user ids are required", ErrValidation)
	}
	if len(questions) != config.QuestionCount {
		return QuizSession{}, Event{}, fmt.Errorf("%w: expected %d questions, got %d", ErrValidation, config.QuestionCount, len(questions))
	}
	normalized := make([]QuestionReference, len(questions))
	for i, q := range questions {
		ref, err := NewQuestionReference(q.QuestionID, q.CorrectOptionIDs)
		if err != nil {
			return QuizSession{}, Event{}, err
		}
		normalized[i] = ref
	}

	startedAt := clock.Now()
	session := QuizSession{
		ID:        id,
		UserID:    userID,
		Config:    config,
		Questions: normalized,
		State:     StateInProgress,
		Answers:   map[int]Answer{},
		StartedAt: startedAt,
		Version:   1,
	}
	event := newEvent(EventSessionStarted, id, 1, startedAt, SessionStartedPayload{
		UserID:    userID,
		Config:    config,
		Questions: normalized,
		StartedAt: startedAt,
	})
	return session, event, nil
}

// SubmitAnswer records the answer for one question index. When the time limit
// is already breached the session expires instead: the returned session is in
// Expired state, the event is SessionExpired, and the error is
// ErrSessionExpired so the caller persists the transition and reports it.
func (s QuizSession) SubmitAnswer(questionIndex int, selectedOptionIDs []string, clock Clock) (QuizSession, Event, error) {
	if s.State != StateInProgress {
		return s, Event{}, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	now := clock.Now()
	if s.TimedOut(now) {
		expired, event, err := s.Expire(clock)
		if err != nil {
			return s, Event{}, err
		}
		return expired, event, ErrSessionExpired
	}
	if questionIndex < 0 || questionIndex >= s.Config.QuestionCount {
		return s, Event{}, fmt.Errorf("%w: question index %d out of range [0,%d)", ErrValidation, questionIndex, s.Config.QuestionCount)
	}
	if _, answered := s.Answers[questionIndex]; answered {
		return s, Event{}, fmt.Errorf("%w: index %d", ErrDuplicateAnswer, questionIndex)
	}

	next := s.clone()
	next.Version = s.Version + 1
	selected := normalizeOptionSet(selectedOptionIDs)
	next.Answers[questionIndex] = Answer{SelectedOptionIDs: selected, SubmittedAt: now}
	event := newEvent(EventAnswerSubmitted, s.ID, next.Version, now, AnswerSubmittedPayload{
		QuestionIndex:     questionIndex,
		SelectedOptionIDs: selected,
		SubmittedAt:       now,
	})
	return next, event, nil
}

// Complete grades the session and moves it to the terminal Completed state.
// Unanswered questions simply count as incorrect, so completing early with a
// partial answer set is allowed. A session past its time limit expires instead
// of completing, same as SubmitAnswer.
func (s QuizSession) Complete(clock Clock) (QuizSession, Event, error) {
	if s.State != StateInProgress {
		return s, Event{}, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	now := clock.Now()
	if s.TimedOut(now) {
		expired, event, err := s.Expire(clock)
		if err != nil {
			return s, Event{}, err
		}
		return expired, event, ErrSessionExpired
	}
	score := s.Score()

	next := s.clone()
	next.Version = s.Version + 1
	next.State = StateCompleted
	next.CompletedAt = &now
	event := newEvent(EventSessionCompleted, s.ID, next.Version, now, SessionCompletedPayload{
		CompletedAt:  now,
		CorrectCount: score.CorrectCount,
		ScorePercent: score.Percent,
	})
	return next, event, nil
}

// Expire moves the session to the terminal Expired state. The sweep uses it
// for timed-out sessions; an administrator may force it on any in-progress
// session. No CompletedAt is recorded.
func (s QuizSession) Expire(clock Clock) (QuizSession, Event, error) {
	if s.State != StateInProgress {
		return s, Event{}, fmt.Errorf("%w: session is %s", ErrInvalidState, s.State)
	}
	now := clock.Now()

	next := s.clone()
	next.Version = s.Version + 1
	next.State = StateExpired
	event := newEvent(EventSessionExpired, s.ID, next.Version, now, SessionExpiredPayload{ExpiredAt: now})
	return next, event, nil
}

// Deadline returns the instant the session times out; ok is false for
// untimed sessions.
func (s QuizSession) Deadline() (time.Time, bool) {
	if !s.Config.Timed() {
		return time.Time{}, false
	}
	return s.StartedAt.Add(s.Config.TimeLimit()), true
}

// TimedOut reports whether the time limit is breached at now. This is a
// derived read: a session can be logically timed out while still persisted as
// in-progress, until a mutating call or the sweep applies the transition.
func (s QuizSession) TimedOut(now time.Time) bool {
	deadline, ok := s.Deadline()
	if !ok {
		return false
	}
	return !now.Before(deadline)
}

// Score grades the current answer set: a question is correct iff an answer
// exists at its index and the selected set equals the captured correct set
// exactly. Percent is rounded to the nearest integer.
func (s QuizSession) Score() Score {
	correct := 0
	for i, question := range s.Questions {
		answer, ok := s.Answers[i]
		if !ok {
			continue
		}
		if optionSetsEqual(answer.SelectedOptionIDs, question.CorrectOptionIDs) {
			correct++
		}
	}
	percent := 0
	if s.Config.QuestionCount > 0 {
		percent = int(math.Round(float64(correct) / float64(s.Config.QuestionCount) * 100))
	}
	return Score{CorrectCount: correct, QuestionCount: s.Config.QuestionCount, Percent: percent}
}

// AnsweredCount returns how many questions have an answer recorded.
func (s QuizSession) AnsweredCount() int { return len(s.Answers) }

// clone deep-copies the mutable parts so command results never alias the input.
func (s QuizSession) clone() QuizSession {
	next := s
	next.Questions = append([]QuestionReference(nil), s.Questions...)
	next.Answers = make(map[int]Answer, len(s.Answers)+1)
	for i, a := range s.Answers {
		next.Answers[i] = Answer{
			SelectedOptionIDs: append([]string(nil), a.SelectedOptionIDs...),
			SubmittedAt:       a.SubmittedAt,
		}
	}
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		next.CompletedAt = &at
	}
	return next
}

package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventAnswerSubmitted  EventType = "session.answer_submitted"
	EventSessionCompleted EventType = "session.completed"
	EventSessionExpired   EventType = "session.expired"
)

// Event is one appended entry in a session's stream. Version is the aggregate
// version the event produced, so the stream for a session is exactly the
// contiguous sequence 1..Version.
type Event struct {
	Type       EventType       `json:"type"`
	SessionID  string          `json:"sessionId"`
	Version    int64           `json:"version"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// SessionStartedPayload carries everything needed to rebuild a fresh session.
type SessionStartedPayload struct {
	UserID    string              `json:"userId"`
	Config    QuizConfig          `json:"config"`
	Questions []QuestionReference `json:"questions"`
	StartedAt time.Time           `json:"startedAt"`
}

type AnswerSubmittedPayload struct {
	QuestionIndex     int       `json:"questionIndex"`
	SelectedOptionIDs []string  `json:"selectedOptionIds"`
	SubmittedAt       time.Time `json:"submittedAt"`
}

// SessionCompletedPayload records the final score alongside the transition.
type SessionCompletedPayload struct {
	CompletedAt  time.Time `json:"completedAt"`
	CorrectCount int       `json:"correctCount"`
	ScorePercent int       `json:"scorePercent"`
}

type SessionExpiredPayload struct {
	ExpiredAt time.Time `json:"expiredAt"`
}

func newEvent(t EventType, sessionID string, version int64, at time.Time, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		// Payloads are plain internal structs; a marshal failure is a programmer error.
		panic(fmt.Sprintf("marshal %s payload: %v", t, err))
	}
	return Event{Type: t, SessionID: sessionID, Version: version, OccurredAt: at, Payload: raw}
}

// Replay rebuilds a session by applying events in order on top of a baseline
// snapshot (nil for a from-scratch rebuild). It is deterministic and
// idempotent: the same baseline and event list always yield the same session.
// Gaps, unknown types, and malformed payloads report ErrCorruptStream.
func Replay(baseline *QuizSession, events []Event) (QuizSession, error) {
	var session QuizSession
	if baseline != nil {
		session = baseline.clone()
	}
	for _, event := range events {
		next, err := session.apply(event)
		if err != nil {
			return QuizSession{}, err
		}
		session = next
	}
	if session.ID == "" {
		return QuizSession{}, fmt.Errorf("%w: no baseline and no started event", ErrCorruptStream)
	}
	return session, nil
}

func (s QuizSession) apply(event Event) (QuizSession, error) {
	if event.Type == EventSessionStarted {
		if s.ID != "" {
			return QuizSession{}, fmt.Errorf("%w: started event at version %d on existing session %s", ErrCorruptStream, event.Version, s.ID)
		}
		var payload SessionStartedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return QuizSession{}, fmt.Errorf("%w: decode %s: %v", ErrCorruptStream, event.Type, err)
		}
		return QuizSession{
			ID:        event.SessionID,
			UserID:    payload.UserID,
			Config:    payload.Config,
			Questions: payload.Questions,
			State:     StateInProgress,
			Answers:   map[int]Answer{},
			StartedAt: payload.StartedAt,
			Version:   event.Version,
		}, nil
	}

	if s.ID == "" {
		return QuizSession{}, fmt.Errorf("%w: %s event before session started", ErrCorruptStream, event.Type)
	}
	if event.SessionID != s.ID {
		return QuizSession{}, fmt.Errorf("%w: event for session %s in stream of %s", ErrCorruptStream, event.SessionID, s.ID)
	}
	if event.Version != s.Version+1 {
		return QuizSession{}, fmt.Errorf("%w: expected version %d, got %d", ErrCorruptStream, s.Version+1, event.Version)
	}

	next := s.clone()
	next.Version = event.Version

	switch event.Type {
	case EventAnswerSubmitted:
		var payload AnswerSubmittedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return QuizSession{}, fmt.Errorf("%w: decode %s: %v", ErrCorruptStream, event.Type, err)
		}
		next.Answers[payload.QuestionIndex] = Answer{
			SelectedOptionIDs: normalizeOptionSet(payload.SelectedOptionIDs),
			SubmittedAt:       payload.SubmittedAt,
		}
	case EventSessionCompleted:
		var payload SessionCompletedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return QuizSession{}, fmt.Errorf("%w: decode %s: %v", ErrCorruptStream, event.Type, err)
		}
		completedAt := payload.CompletedAt
		next.State = StateCompleted
		next.CompletedAt = &completedAt
	case EventSessionExpired:
		next.State = StateExpired
	default:
		return QuizSession{}, fmt.Errorf("%w: unknown event type %q", ErrCorruptStream, event.Type)
	}
	return next, nil
}

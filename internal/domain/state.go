package domain

// QuizState is the lifecycle state of a quiz session.
type QuizState string

const (
	// StateInProgress is the only non-terminal state; every session starts here.
	StateInProgress QuizState = "in_progress"
	// StateCompleted is reached via Complete and is terminal.
	StateCompleted QuizState = "completed"
	// StateExpired is reached via Expire (explicit or implicit) and is terminal.
	StateExpired QuizState = "expired"
)

func (s QuizState) String() string { return string(s) }

// IsValid reports whether the state is a recognized lifecycle state.
func (s QuizState) IsValid() bool {
	switch s {
	case StateInProgress, StateCompleted, StateExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state admits no further transitions.
func (s QuizState) Terminal() bool {
	return s == StateCompleted || s == StateExpired
}

// CanTransition reports whether the state machine allows moving to next.
func (s QuizState) CanTransition(next QuizState) bool {
	if s != StateInProgress {
		return false
	}
	return next == StateCompleted || next == StateExpired
}

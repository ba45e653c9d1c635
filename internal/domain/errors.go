package domain

import "errors"

var (
	// ErrValidation indicates malformed command input (caller's fault).
	ErrValidation = errors.New("validation failed")
	// ErrInvalidState is returned when a command is not legal in the session's current state.
	ErrInvalidState = errors.New("command not allowed in current session state")
	// ErrDuplicateAnswer is returned when a question index has already been answered.
	ErrDuplicateAnswer = errors.New("question already answered")
	// ErrSessionExpired signals the time limit was breached; the session transitions to Expired.
	ErrSessionExpired = errors.New("session time limit exceeded")
	// ErrConcurrentModification is returned on a version mismatch at save time.
	// Callers may reload and retry; the aggregate never retries on its own.
	ErrConcurrentModification = errors.New("session was modified concurrently")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrActiveSessionExists is returned when a user already has an in-progress session.
	ErrActiveSessionExists = errors.New("user already has an active session")
	// ErrQuestionBankEmpty indicates the bank cannot satisfy a question draw.
	ErrQuestionBankEmpty = errors.New("question bank cannot satisfy draw")
	// ErrCorruptStream indicates a persisted event stream that cannot be replayed.
	// Unlike the errors above this is not a business-rule violation; callers
	// should log and surface a generic failure.
	ErrCorruptStream = errors.New("corrupt session event stream")
)

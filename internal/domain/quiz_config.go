package domain

import (
	"fmt"
	"time"
)

// ExamType is the certification track a session is drawn from.
type ExamType string

const (
	ExamCCNA         ExamType = "CCNA"
	ExamCCNP         ExamType = "CCNP"
	ExamCCIE         ExamType = "CCIE"
	ExamSecurityPlus ExamType = "SECURITY_PLUS"
	ExamNetworkPlus  ExamType = "NETWORK_PLUS"
)

// IsValid reports whether the exam type is a recognized track.
func (e ExamType) IsValid() bool {
	switch e {
	case ExamCCNA, ExamCCNP, ExamCCIE, ExamSecurityPlus, ExamNetworkPlus:
		return true
	default:
		return false
	}
}

// Difficulty selects which part of the question bank a session draws from.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
	DifficultyMixed  Difficulty = "MIXED"
)

func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard, DifficultyMixed:
		return true
	default:
		return false
	}
}

// allowedQuestionCounts mirrors the sizes offered by the certification tracks.
var allowedQuestionCounts = map[int]bool{5: true, 10: true, 20: true, 40: true, 65: true}

// QuizConfig is the immutable configuration chosen at session start.
// TimeLimitSeconds of zero means the session is untimed.
type QuizConfig struct {
	ExamType         ExamType   `json:"examType"`
	QuestionCount    int        `json:"questionCount"`
	TimeLimitSeconds int        `json:"timeLimitSeconds,omitempty"`
	Difficulty       Difficulty `json:"difficulty"`
}

// NewQuizConfig validates and builds a QuizConfig.
func NewQuizConfig(examType ExamType, questionCount, timeLimitSeconds int, difficulty Difficulty) (QuizConfig, error) {
	if !examType.IsValid() {
		return QuizConfig{}, fmt.Errorf("%w: unknown exam type %q", ErrValidation, examType)
	}
	if !allowedQuestionCounts[questionCount] {
		return QuizConfig{}, fmt.Errorf("%w: question count %d not offered", ErrValidation, questionCount)
	}
	if timeLimitSeconds < 0 {
		return QuizConfig{}, fmt.Errorf("%w: time limit must be positive, got %d", ErrValidation, timeLimitSeconds)
	}
	if !difficulty.IsValid() {
		return QuizConfig{}, fmt.Errorf("%w: unknown difficulty %q", ErrValidation, difficulty)
	}
	return QuizConfig{
		ExamType:         examType,
		QuestionCount:    questionCount,
		TimeLimitSeconds: timeLimitSeconds,
		Difficulty:       difficulty,
	}, nil
}

// Timed reports whether the session has a time limit.
func (c QuizConfig) Timed() bool { return c.TimeLimitSeconds > 0 }

// TimeLimit returns the limit as a duration; zero for untimed sessions.
func (c QuizConfig) TimeLimit() time.Duration {
	return time.Duration(c.TimeLimitSeconds) * time.Second
}

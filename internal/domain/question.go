package domain

import (
	"fmt"
	"sort"
)

// QuestionReference pins one question into a session. The correct option set
// is captured at session start so later edits to the bank never change how a
// running session is scored.
type QuestionReference struct {
	QuestionID       string   `json:"questionId"`
	CorrectOptionIDs []string `json:"correctOptionIds"`
}

// NewQuestionReference validates and normalizes a reference. Correct option
// ids are deduplicated and kept sorted so set comparisons are order-free.
func NewQuestionReference(questionID string, correctOptionIDs []string) (QuestionReference, error) {
	if questionID == "" {
		return QuestionReference{}, fmt.Errorf("%w: question id is empty", ErrValidation)
	}
	if len(correctOptionIDs) == 0 {
		return QuestionReference{}, fmt.Errorf("%w: question %s has no correct options", ErrValidation, questionID)
	}
	return QuestionReference{
		QuestionID:       questionID,
		CorrectOptionIDs: normalizeOptionSet(correctOptionIDs),
	}, nil
}

// normalizeOptionSet sorts and deduplicates option ids.
func normalizeOptionSet(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// optionSetsEqual reports exact set equality of two normalized option lists.
func optionSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

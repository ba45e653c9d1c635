package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"certquiz-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads question banks from Postgres. The correct option set
// per question lives in a jsonb column so scoring data is captured in one
// read at session start.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadBank(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty) ([]domain.QuestionReference, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT id, correct_option_ids FROM questions
		 WHERE exam_type=$1 AND (difficulty=$2 OR $2='MIXED')`,
		string(examType), string(difficulty))
	if err != nil {
		return nil, fmt.Errorf("load bank: %w", err)
	}
	defer rows.Close()

	var bank []domain.QuestionReference
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		var optionIDs []string
		if err := json.Unmarshal(raw, &optionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal options for %s: %w", id, err)
		}
		ref, err := domain.NewQuestionReference(id, optionIDs)
		if err != nil {
			return nil, err
		}
		bank = append(bank, ref)
	}
	return bank, rows.Err()
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"certquiz-service/internal/domain"
	"certquiz-service/internal/infra/memory"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionBank caches question banks in Redis (hash per track+difficulty)
// and falls back to a loader on cache miss.
// Correct option sets are stored as:
//
//	HSET bank:{examType}:{difficulty} {questionID} {json array of option ids}
type QuestionBank struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionBank(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Draw returns count distinct question references sampled from the cached bank.
func (b *QuestionBank) Draw(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty, count int) ([]domain.QuestionReference, error) {
	bank, err := b.getBank(ctx, examType, difficulty)
	if err != nil {
		return nil, err
	}
	if len(bank) < count {
		return nil, fmt.Errorf("%w: %s %s has %d questions, need %d", domain.ErrQuestionBankEmpty, examType, difficulty, len(bank), count)
	}

	b.mu.Lock()
	order := b.rnd.Perm(len(bank))
	b.mu.Unlock()

	out := make([]domain.QuestionReference, 0, count)
	for _, idx := range order[:count] {
		out = append(out, bank[idx])
	}
	return out, nil
}

func (b *QuestionBank) getBank(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty) ([]domain.QuestionReference, error) {
	key := b.bankKey(examType, difficulty)

	cached, err := b.client.HGetAll(ctx, key).Result()
	if err == nil && len(cached) > 0 {
		return bankFromCache(cached)
	}

	result, err, _ := b.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		cached, err := b.client.HGetAll(ctx, key).Result()
		if err == nil && len(cached) > 0 {
			questions, err := bankFromCache(cached)
			if err != nil {
				return nil, err
			}
			return questions, nil
		}

		questions, err := b.loader.LoadBank(ctx, examType, difficulty)
		if err != nil {
			return nil, err
		}

		ttl := b.ttlWithJitter()
		pipe := b.client.Pipeline()
		for _, q := range questions {
			encoded, err := json.Marshal(q.CorrectOptionIDs)
			if err != nil {
				return nil, fmt.Errorf("encode bank entry %s: %w", q.QuestionID, err)
			}
			pipe.HSet(ctx, key, q.QuestionID, string(encoded))
		}
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionReference), nil
}

func (b *QuestionBank) bankKey(examType domain.ExamType, difficulty domain.Difficulty) string {
	return "bank:" + string(examType) + ":" + string(difficulty)
}

func bankFromCache(cached map[string]string) ([]domain.QuestionReference, error) {
	questions := make([]domain.QuestionReference, 0, len(cached))
	for questionID, encoded := range cached {
		var optionIDs []string
		if err := json.Unmarshal([]byte(encoded), &optionIDs); err != nil {
			return nil, fmt.Errorf("decode bank entry %s: %w", questionID, err)
		}
		ref, err := domain.NewQuestionReference(questionID, optionIDs)
		if err != nil {
			return nil, err
		}
		questions = append(questions, ref)
	}
	return questions, nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"certquiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches the question bank for one track and difficulty from
// a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadBank(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty) ([]domain.QuestionReference, error)
}

// BankKey identifies one cached question bank.
type BankKey struct {
	ExamType   domain.ExamType
	Difficulty domain.Difficulty
}

func (k BankKey) String() string {
	return string(k.ExamType) + ":" + string(k.Difficulty)
}

// QuestionBank caches banks with TTL to avoid repeated DB hits and draws
// random question sets from them.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.Mutex
	cache map[BankKey]cachedBank
}

type cachedBank struct {
	questions []domain.QuestionReference
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[BankKey]cachedBank),
	}
}

// Draw returns count distinct question references sampled from the bank.
func (b *QuestionBank) Draw(ctx context.Context, examType domain.ExamType, difficulty domain.Difficulty, count int) ([]domain.QuestionReference, error) {
	bank, err := b.getBank(ctx, BankKey{ExamType: examType, Difficulty: difficulty})
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

func (b *QuestionBank) getBank(ctx context.Context, key BankKey) ([]domain.QuestionReference, error) {
	now := b.clock()

	b.mu.Lock()
	if entry, ok := b.cache[key]; ok && entry.expiresAt.After(now) {
		b.mu.Unlock()
		return entry.questions, nil
	}
	b.mu.Unlock()

	result, err, _ := b.sf.Do(key.String(), func() (interface{}, error) {
		now := b.clock()
		b.mu.Lock()
		if entry, ok := b.cache[key]; ok && entry.expiresAt.After(now) {
			b.mu.Unlock()
			return entry.questions, nil
		}
		b.mu.Unlock()

		questions, err := b.loader.LoadBank(ctx, key.ExamType, key.Difficulty)
		if err != nil {
			return nil, err
		}

		ttl := b.ttlWithJitter()
		b.mu.Lock()
		b.cache[key] = cachedBank{
			questions: questions,
			expiresAt: now.Add(ttl),
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionReference), nil
}

// ttlWithJitter adds up to 10% jitter to spread expirations.
func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	jitterMax := int64(b.ttl) / 10
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map (tests/demos).
// A MIXED lookup merges the exam's per-difficulty banks with any entries
// registered directly under MIXED.
type StaticQuestionLoader struct {
	banks map[BankKey][]domain.QuestionReference
}

func NewStaticQuestionLoader(banks map[BankKey][]domain.QuestionReference) *StaticQuestionLoader {
	return &StaticQuestionLoader{banks: banks}
}

func (l *StaticQuestionLoader) LoadBank(_ context.Context, examType domain.ExamType, difficulty domain.Difficulty) ([]domain.QuestionReference, error) {
	if difficulty != domain.DifficultyMixed {
		return l.banks[BankKey{ExamType: examType, Difficulty: difficulty}], nil
	}
	var out []domain.QuestionReference
	for _, d := range []domain.Difficulty{domain.DifficultyEasy, domain.DifficultyMedium, domain.DifficultyHard, domain.DifficultyMixed} {
		out = append(out, l.banks[BankKey{ExamType: examType, Difficulty: d}]...)
	}
	return out, nil
}

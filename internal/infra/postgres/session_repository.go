package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"certquiz-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions"`

	ID          string     `bun:"id,pk"`
	UserID      string     `bun:"user_id"`
	State       string     `bun:"state"`
	StartedAt   time.Time  `bun:"started_at"`
	Deadline    *time.Time `bun:"deadline"`
	CompletedAt *time.Time `bun:"completed_at"`
	Version     int64      `bun:"version"`
}

type eventRow struct {
	bun.BaseModel `bun:"table:quiz_session_events"`

	SessionID  string          `bun:"session_id,pk"`
	Version    int64           `bun:"version,pk"`
	Type       string          `bun:"type"`
	Payload    json.RawMessage `bun:"payload,type:jsonb"`
	OccurredAt time.Time       `bun:"occurred_at"`
}

type snapshotRow struct {
	bun.BaseModel `bun:"table:quiz_session_snapshots"`

	SessionID string          `bun:"session_id,pk"`
	Version   int64           `bun:"version,pk"`
	State     json.RawMessage `bun:"state,type:jsonb"`
	CreatedAt time.Time       `bun:"created_at,nullzero,default:now()"`
}

// SessionRepository is the Postgres event store for quiz sessions.
//
// Each session has a head row in quiz_sessions used for optimistic version
// checks and for the active/expired queries, an append-only stream in
// quiz_session_events keyed by (session_id, version), and periodic snapshots
// in quiz_session_snapshots. Saves append events and advance the head row in
// one transaction; a partial unique index on user_id enforces the single
// active session per user.
type SessionRepository struct {
	db               *bun.DB
	snapshotInterval int64
}

func NewSessionRepository(db *bun.DB, snapshotInterval int64) *SessionRepository {
	if snapshotInterval <= 0 {
		snapshotInterval = 20
	}
	return &SessionRepository{db: db, snapshotInterval: snapshotInterval}
}

func (r *SessionRepository) Save(ctx context.Context, session domain.QuizSession, expectedVersion int64, events []domain.Event) error {
	if len(events) == 0 {
		return fmt.Errorf("save without events for session %s", session.ID)
	}

	head := headRowFor(session)
	return r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if expectedVersion == 0 {
			if _, err := tx.NewInsert().Model(head).Exec(ctx); err != nil {
				return translateSaveErr(err)
			}
		} else {
			res, err := tx.NewUpdate().Model(head).
				WherePK().
				Where("version = ?", expectedVersion).
				Exec(ctx)
			if err != nil {
				return translateSaveErr(err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return domain.ErrConcurrentModification
			}
		}

		rows := make([]eventRow, len(events))
		for i, event := range events {
			rows[i] = eventRow{
				SessionID:  event.SessionID,
				Version:    event.Version,
				Type:       string(event.Type),
				Payload:    event.Payload,
				OccurredAt: event.OccurredAt,
			}
		}
		if _, err := tx.NewInsert().Model(&rows).Exec(ctx); err != nil {
			return translateSaveErr(err)
		}

		if session.Version%r.snapshotInterval == 0 {
			blob, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("marshal snapshot: %w", err)
			}
			snap := &snapshotRow{SessionID: session.ID, Version: session.Version, State: blob}
			if _, err := tx.NewInsert().Model(snap).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SessionRepository) FindByID(ctx context.Context, id string) (domain.QuizSession, error) {
	head := new(sessionRow)
	err := r.db.NewSelect().Model(head).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuizSession{}, domain.ErrSessionNotFound
		}
		return domain.QuizSession{}, err
	}
	return r.rebuild(ctx, head)
}

func (r *SessionRepository) FindActiveByUser(ctx context.Context, userID string) (domain.QuizSession, bool, error) {
	head := new(sessionRow)
	err := r.db.NewSelect().Model(head).
		Where("user_id = ?", userID).
		Where("state = ?", string(domain.StateInProgress)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuizSession{}, false, nil
		}
		return domain.QuizSession{}, false, err
	}
	session, err := r.rebuild(ctx, head)
	if err != nil {
		return domain.QuizSession{}, false, err
	}
	return session, true, nil
}

func (r *SessionRepository) FindExpiredSessions(ctx context.Context, now time.Time, limit int) ([]domain.QuizSession, error) {
	var heads []sessionRow
	q := r.db.NewSelect().Model(&heads).
		Where("state = ?", string(domain.StateInProgress)).
		Where("deadline IS NOT NULL").
		Where("deadline <= ?", now).
		Order("deadline ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]domain.QuizSession, 0, len(heads))
	for i := range heads {
		session, err := r.rebuild(ctx, &heads[i])
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

func (r *SessionRepository) CountTotalSessions(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*sessionRow)(nil)).Count(ctx)
}

func (r *SessionRepository) CountActiveSessions(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*sessionRow)(nil)).
		Where("state = ?", string(domain.StateInProgress)).
		Count(ctx)
}

// rebuild loads the latest snapshot at or before the head version and replays
// the remaining events on top of it.
func (r *SessionRepository) rebuild(ctx context.Context, head *sessionRow) (domain.QuizSession, error) {
	var baseline *domain.QuizSession
	baselineVersion := int64(0)

	snap := new(snapshotRow)
	err := r.db.NewSelect().Model(snap).
		Where("session_id = ?", head.ID).
		Where("version <= ?", head.Version).
		Order("version DESC").
		Limit(1).
		Scan(ctx)
	switch {
	case err == nil:
		var session domain.QuizSession
		if err := json.Unmarshal(snap.State, &session); err != nil {
			return domain.QuizSession{}, fmt.Errorf("%w: decode snapshot at version %d: %v", domain.ErrCorruptStream, snap.Version, err)
		}
		baseline = &session
		baselineVersion = snap.Version
	case errors.Is(err, sql.ErrNoRows):
		// replay from the start
	default:
		return domain.QuizSession{}, err
	}

	// Events at or below the head version are immutable, so bounding the tail
	// keeps the three reads consistent when a concurrent save commits between
	// them.
	var rows []eventRow
	if err := r.db.NewSelect().Model(&rows).
		Where("session_id = ?", head.ID).
		Where("version > ?", baselineVersion).
		Where("version <= ?", head.Version).
		Order("version ASC").
		Scan(ctx); err != nil {
		return domain.QuizSession{}, err
	}

	events := make([]domain.Event, len(rows))
	for i, row := range rows {
		events[i] = domain.Event{
			Type:       domain.EventType(row.Type),
			SessionID:  row.SessionID,
			Version:    row.Version,
			OccurredAt: row.OccurredAt,
			Payload:    row.Payload,
		}
	}

	session, err := domain.Replay(baseline, events)
	if err != nil {
		return domain.QuizSession{}, err
	}
	if session.Version != head.Version {
		return domain.QuizSession{}, fmt.Errorf("%w: head at version %d, replay reached %d", domain.ErrCorruptStream, head.Version, session.Version)
	}
	return session, nil
}

func headRowFor(session domain.QuizSession) *sessionRow {
	row := &sessionRow{
		ID:          session.ID,
		UserID:      session.UserID,
		State:       string(session.State),
		StartedAt:   session.StartedAt,
		CompletedAt: session.CompletedAt,
		Version:     session.Version,
	}
	if deadline, ok := session.Deadline(); ok {
		row.Deadline = &deadline
	}
	return row
}

// translateSaveErr maps Postgres unique violations onto domain errors: the
// partial index on user_id means a second active session, any other 23505 is
// a writer racing on the same stream.
func translateSaveErr(err error) error {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return err
	}
	if pgErr.Field('C') != "23505" {
		return err
	}
	if strings.Contains(pgErr.Field('n'), "active_user") {
		return domain.ErrActiveSessionExists
	}
	return domain.ErrConcurrentModification
}

package training

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/tabletop/internal/domain"
	"github.com/victornm/tabletop/internal/errors"
	"github.com/victornm/tabletop/internal/timer"
)

// PostgresStore keeps trainings in the trainings and training_participants tables.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectTrainingStmt = `
SELECT training_id, name, description, status, current_round,
	training_timer_started_at, training_timer_elapsed_ms, training_timer_paused,
	round_timer_started_at, round_timer_elapsed_ms, round_timer_paused,
	scenario_id, scenario_category, scenario_type, scenario_title, scenario_description,
	max_participants, access_code, created_by, created_at, started_at, completed_at
FROM trainings
WHERE training_id = $1`

const selectParticipantsStmt = `
SELECT user_id, nickname, role, status, joined_at
FROM training_participants
WHERE training_id = $1
ORDER BY joined_at, user_id;`

func (s *PostgresStore) Insert(ctx context.Context, t *domain.Training) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const stmt = `
INSERT INTO trainings (
	training_id, name, description, status, current_round,
	training_timer_started_at, training_timer_elapsed_ms, training_timer_paused,
	round_timer_started_at, round_timer_elapsed_ms, round_timer_paused,
	scenario_id, scenario_category, scenario_type, scenario_title, scenario_description,
	max_participants, access_code, created_by, created_at, started_at, completed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22);`

	_, err = tx.Exec(ctx, stmt,
		t.TrainingID, t.Name, t.Description, t.Status, t.CurrentRound,
		t.TrainingTimer.StartedAt, t.TrainingTimer.Elapsed.Milliseconds(), t.TrainingTimer.Paused,
		t.RoundTimer.StartedAt, t.RoundTimer.Elapsed.Milliseconds(), t.RoundTimer.Paused,
		t.Scenario.ID, t.Scenario.Category, t.Scenario.Type, t.ScenarioTitle, t.ScenarioDescription,
		t.MaxParticipants, t.AccessCode, t.CreatedBy, t.CreatedAt, t.StartedAt, t.CompletedAt,
	)
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert training: %w", err)
	}

	if err = upsertParticipants(ctx, tx, t); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, trainingID string) (*domain.Training, error) {
	return getTraining(ctx, s.db, trainingID, selectTrainingStmt+";")
}

// Update locks the training row for the duration of fn, serializing concurrent
// changes to the same training.
func (s *PostgresStore) Update(ctx context.Context, trainingID string, fn func(t *domain.Training) error) (_ *domain.Training, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	t, err := getTraining(ctx, tx, trainingID, selectTrainingStmt+" FOR UPDATE;")
	if err != nil {
		return nil, err
	}

	if err = fn(t); err != nil {
		return nil, err
	}

	const stmt = `
UPDATE trainings SET
	status = $2, current_round = $3,
	training_timer_started_at = $4, training_timer_elapsed_ms = $5, training_timer_paused = $6,
	round_timer_started_at = $7, round_timer_elapsed_ms = $8, round_timer_paused = $9,
	started_at = $10, completed_at = $11
WHERE training_id = $1;`

	_, err = tx.Exec(ctx, stmt, t.TrainingID, t.Status, t.CurrentRound,
		t.TrainingTimer.StartedAt, t.TrainingTimer.Elapsed.Milliseconds(), t.TrainingTimer.Paused,
		t.RoundTimer.StartedAt, t.RoundTimer.Elapsed.Milliseconds(), t.RoundTimer.Paused,
		t.StartedAt, t.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update training: %w", err)
	}

	if err = upsertParticipants(ctx, tx, t); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

const codeUniqueViolation = "23505"

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getTraining(ctx context.Context, q querier, trainingID, stmt string) (*domain.Training, error) {
	var (
		t                    domain.Training
		trainingMs, roundMs  int64
		trainingTimerStarted *time.Time
		roundTimerStarted    *time.Time
	)
	err := q.QueryRow(ctx, stmt, trainingID).Scan(
		&t.TrainingID, &t.Name, &t.Description, &t.Status, &t.CurrentRound,
		&trainingTimerStarted, &trainingMs, &t.TrainingTimer.Paused,
		&roundTimerStarted, &roundMs, &t.RoundTimer.Paused,
		&t.Scenario.ID, &t.Scenario.Category, &t.Scenario.Type, &t.ScenarioTitle, &t.ScenarioDescription,
		&t.MaxParticipants, &t.AccessCode, &t.CreatedBy, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(trainingID)
	}
	if err != nil {
		return nil, fmt.Errorf("select training: %w", err)
	}

	t.TrainingTimer = timer.Timer{StartedAt: trainingTimerStarted, Elapsed: time.Duration(trainingMs) * time.Millisecond, Paused: t.TrainingTimer.Paused}
	t.RoundTimer = timer.Timer{StartedAt: roundTimerStarted, Elapsed: time.Duration(roundMs) * time.Millisecond, Paused: t.RoundTimer.Paused}

	rows, err := q.Query(ctx, selectParticipantsStmt, trainingID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	t.Participants, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participant, error) {
		var p domain.Participant
		err := r.Scan(&p.UserID, &p.Nickname, &p.Role, &p.Status, &p.JoinedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect participants: %w", err)
	}

	return &t, nil
}

func upsertParticipants(ctx context.Context, tx pgx.Tx, t *domain.Training) error {
	const stmt = `
INSERT INTO training_participants (training_id, user_id, nickname, role, status, joined_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (training_id, user_id) DO UPDATE
SET nickname = EXCLUDED.nickname, role = EXCLUDED.role, status = EXCLUDED.status, joined_at = EXCLUDED.joined_at;`

	b := &pgx.Batch{}
	for _, p := range t.Participants {
		b.Queue(stmt, t.TrainingID, p.UserID, p.Nickname, p.Role, p.Status, p.JoinedAt)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("upsert participants: %w", err)
	}
	return nil
}

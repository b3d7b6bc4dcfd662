package score

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/tabletop/internal/domain"
)

// PostgresStore keeps the ledger in the responses table. Its unique constraint on
// (training_id, user_id, round_id, question_id) rejects duplicate answers.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const codeUniqueViolation = "23505"

func (s *PostgresStore) Insert(ctx context.Context, r *domain.Response) error {
	const stmt = `
INSERT INTO responses (
	response_id, training_id, user_id, round_id, question_id, answer,
	question_type, is_correct, points_earned, points_possible, submitted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`

	_, err := s.db.Exec(ctx, stmt,
		r.ResponseID, r.TrainingID, r.UserID, r.RoundID, r.QuestionID, []byte(r.Answer),
		r.QuestionType, r.IsCorrect, r.PointsEarned, r.PointsPossible, r.SubmittedAt,
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return duplicate(r, err)
	}
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	return nil
}

func (s *PostgresStore) Exists(ctx context.Context, trainingID, userID string, roundID int, questionID string) (bool, error) {
	const stmt = `
SELECT EXISTS (
	SELECT 1 FROM responses
	WHERE training_id = $1 AND user_id = $2 AND round_id = $3 AND question_id = $4
);`

	var ok bool
	if err := s.db.QueryRow(ctx, stmt, trainingID, userID, roundID, questionID).Scan(&ok); err != nil {
		return false, fmt.Errorf("select response: %w", err)
	}
	return ok, nil
}

const selectResponsesStmt = `
SELECT response_id, training_id, user_id, round_id, question_id, answer,
	question_type, is_correct, points_earned, points_possible, submitted_at
FROM responses
`

func (s *PostgresStore) ListForUser(ctx context.Context, trainingID, userID string) ([]domain.Response, error) {
	const stmt = selectResponsesStmt + `WHERE training_id = $1 AND user_id = $2
ORDER BY round_id, submitted_at;`

	rows, err := s.db.Query(ctx, stmt, trainingID, userID)
	if err != nil {
		return nil, fmt.Errorf("select responses: %w", err)
	}
	return collectResponses(rows)
}

func (s *PostgresStore) ListForTraining(ctx context.Context, trainingID string) ([]domain.Response, error) {
	const stmt = selectResponsesStmt + `WHERE training_id = $1
ORDER BY round_id, submitted_at;`

	rows, err := s.db.Query(ctx, stmt, trainingID)
	if err != nil {
		return nil, fmt.Errorf("select responses: %w", err)
	}
	return collectResponses(rows)
}

func collectResponses(rows pgx.Rows) ([]domain.Response, error) {
	rs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Response, error) {
		var (
			r      domain.Response
			answer []byte
		)
		err := row.Scan(&r.ResponseID, &r.TrainingID, &r.UserID, &r.RoundID, &r.QuestionID, &answer,
			&r.QuestionType, &r.IsCorrect, &r.PointsEarned, &r.PointsPossible, &r.SubmittedAt)
		r.Answer = answer
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect responses: %w", err)
	}
	return rs, nil
}

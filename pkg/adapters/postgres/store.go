package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements ports.Storage using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Postgres-backed storage.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open builds a pool from a connection string and validates connectivity.
// It does not create tables; call EnsureSchema for that.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}
	return NewStore(pool), nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// mapErr translates a foreign key violation on dialog_id into domain.ErrDialogNotFound.
func mapErr(err error, id domain.DialogID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("postgres: dialog %d: %w", id, domain.ErrDialogNotFound)
	}
	return err
}

func (s *Store) CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error) {
	var id domain.DialogID
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO respondents (id, messenger, username, first_name, last_name, extra_data)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id, messenger) DO UPDATE SET
				username   = COALESCE(EXCLUDED.username, respondents.username),
				first_name = COALESCE(EXCLUDED.first_name, respondents.first_name),
				last_name  = COALESCE(EXCLUDED.last_name, respondents.last_name),
				extra_data = COALESCE(EXCLUDED.extra_data, respondents.extra_data)
		`, respondent.ID, string(respondent.Messenger),
			nullIfEmpty(respondent.Username), nullIfEmpty(respondent.FirstName), nullIfEmpty(respondent.LastName),
			respondent.ExtraData)
		if err != nil {
			return fmt.Errorf("upsert respondent: %w", err)
		}

		return tx.QueryRow(ctx, `
			INSERT INTO dialogs (respondent_id, respondent_messenger)
			VALUES ($1, $2)
			RETURNING id
		`, respondent.ID, string(respondent.Messenger)).Scan(&id)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dialogue_steps (dialog_id, question, answer)
		VALUES ($1, $2, $3)
	`, int64(dialogID), step.Question, step.Answer)
	return mapErr(err, dialogID)
}

func (s *Store) SaveFunctionCall(ctx context.Context, dialogID domain.DialogID, key domain.CallKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO called_functions (hash, dialog_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, int64(key), int64(dialogID))
	return mapErr(err, dialogID)
}

func (s *Store) CloseDialog(ctx context.Context, dialogID domain.DialogID, outcome domain.Outcome) error {
	if !outcome.Terminal() {
		return nil
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialogs
		SET finished_at = now(), completed = $2, cancelled = $3
		WHERE id = $1
	`, int64(dialogID), outcome == domain.OutcomeCompleted, outcome == domain.OutcomeCancelled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: dialog %d: %w", dialogID, domain.ErrDialogNotFound)
	}
	return nil
}

func (s *Store) LastDialogID(ctx context.Context, respondentID string, messenger domain.Messenger, onPause bool) (domain.DialogID, bool, error) {
	var id *int64
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(d.id)
		FROM dialogs AS d
		LEFT OUTER JOIN dialogue_pauses AS dp ON dp.dialog_id = d.id AND dp.active = true
		WHERE d.respondent_id = $1
			AND d.respondent_messenger = $2
			AND d.finished_at IS NULL
			AND (dp.id IS NOT NULL) = $3
	`, respondentID, string(messenger), onPause).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	if id == nil {
		return 0, false, nil
	}
	return domain.DialogID(*id), true, nil
}

func (s *Store) DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT question, answer
		FROM dialogue_steps
		WHERE dialog_id = $1
		ORDER BY created_at, id
	`, int64(dialogID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Step, error) {
		var step domain.Step
		err := row.Scan(&step.Question, &step.Answer)
		return step, err
	})
}

func (s *Store) CalledFunctions(ctx context.Context, dialogID domain.DialogID) ([]domain.CallKey, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT hash
		FROM called_functions
		WHERE dialog_id = $1
		ORDER BY created_at
	`, int64(dialogID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.CallKey, error) {
		var hash int64
		err := row.Scan(&hash)
		return domain.CallKey(uint64(hash)), err
	})
}

func (s *Store) Pause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO dialogue_pauses (dialog_id)
		VALUES ($1)
		ON CONFLICT ON CONSTRAINT one_pause_active DO NOTHING
	`, int64(dialogID))
	if err != nil {
		return false, mapErr(err, dialogID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CancelPause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	// Finished pauses get a NULL flag so the unique constraint only covers the active one.
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialogue_pauses
		SET finished_at = now(), active = NULL
		WHERE dialog_id = $1 AND active = true
	`, int64(dialogID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Retryable reports connection failures, timeouts and transient server states
// (serialization failures, deadlocks, admin shutdown, too many connections).
func (s *Store) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageUnavailable) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01", pgErr.Code == "53300",
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

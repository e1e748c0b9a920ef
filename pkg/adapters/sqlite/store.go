package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS respondents (
	id          TEXT    NOT NULL,
	messenger   TEXT    NOT NULL,
	username    TEXT,
	first_name  TEXT,
	last_name   TEXT,
	extra_data  TEXT,
	created_at  INTEGER NOT NULL,
	PRIMARY KEY (id, messenger)
);

CREATE TABLE IF NOT EXISTS dialogs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	respondent_id        TEXT    NOT NULL,
	respondent_messenger TEXT    NOT NULL,
	created_at           INTEGER NOT NULL,
	finished_at          INTEGER,
	completed            INTEGER NOT NULL DEFAULT 0,
	cancelled            INTEGER NOT NULL DEFAULT 0,
	FOREIGN KEY (respondent_id, respondent_messenger) REFERENCES respondents (id, messenger)
);
CREATE INDEX IF NOT EXISTS idx_dialogs_open ON dialogs (respondent_id, respondent_messenger, id) WHERE finished_at IS NULL;

CREATE TABLE IF NOT EXISTS dialogue_pauses (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	dialog_id   INTEGER NOT NULL REFERENCES dialogs (id),
	created_at  INTEGER NOT NULL,
	finished_at INTEGER,
	active      INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_one_pause_active ON dialogue_pauses (dialog_id) WHERE active = 1;

CREATE TABLE IF NOT EXISTS called_functions (
	hash       INTEGER NOT NULL,
	dialog_id  INTEGER NOT NULL REFERENCES dialogs (id),
	created_at INTEGER NOT NULL,
	PRIMARY KEY (hash, dialog_id)
);

CREATE TABLE IF NOT EXISTS dialogue_steps (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	dialog_id  INTEGER NOT NULL REFERENCES dialogs (id),
	question   TEXT    NOT NULL,
	answer     TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
`

// Store implements ports.Storage using SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and initializes the schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for concurrent readers, foreign keys for dialog references.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func (s *Store) mapErr(err error, id domain.DialogID) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if (errors.As(err, &sqlErr) && sqlErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("sqlite: dialog %d: %w", id, domain.ErrDialogNotFound)
	}
	return err
}

func (s *Store) CreateDialog(ctx context.Context, respondent domain.Respondent) (domain.DialogID, error) {
	var extra any
	if respondent.ExtraData != nil {
		data, err := json.Marshal(respondent.ExtraData)
		if err != nil {
			return 0, fmt.Errorf("marshal extra data: %w", err)
		}
		extra = string(data)
	}
	now := time.Now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO respondents (id, messenger, username, first_name, last_name, extra_data, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id, messenger) DO UPDATE SET
		username = COALESCE(excluded.username, respondents.username),
		first_name = COALESCE(excluded.first_name, respondents.first_name),
		last_name = COALESCE(excluded.last_name, respondents.last_name),
		extra_data = COALESCE(excluded.extra_data, respondents.extra_data)`,
		respondent.ID, string(respondent.Messenger),
		nullIfEmpty(respondent.Username), nullIfEmpty(respondent.FirstName), nullIfEmpty(respondent.LastName),
		extra, now)
	if err != nil {
		return 0, fmt.Errorf("upsert respondent: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
	INSERT INTO dialogs (respondent_id, respondent_messenger, created_at)
	VALUES (?, ?, ?)`, respondent.ID, string(respondent.Messenger), now)
	if err != nil {
		return 0, fmt.Errorf("insert dialog: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("dialog id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return domain.DialogID(id), nil
}

func (s *Store) SaveQuestionAndAnswer(ctx context.Context, dialogID domain.DialogID, step domain.Step) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO dialogue_steps (dialog_id, question, answer, created_at)
	VALUES (?, ?, ?, ?)`, int64(dialogID), step.Question, step.Answer, time.Now().UnixNano())
	return s.mapErr(err, dialogID)
}

func (s *Store) SaveFunctionCall(ctx context.Context, dialogID domain.DialogID, key domain.CallKey) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO called_functions (hash, dialog_id, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT DO NOTHING`, int64(key), int64(dialogID), time.Now().UnixNano())
	return s.mapErr(err, dialogID)
}

func (s *Store) CloseDialog(ctx context.Context, dialogID domain.DialogID, outcome domain.Outcome) error {
	if !outcome.Terminal() {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE dialogs SET finished_at = ?, completed = ?, cancelled = ?
	WHERE id = ?`,
		time.Now().UnixNano(), outcome == domain.OutcomeCompleted, outcome == domain.OutcomeCancelled, int64(dialogID))
	if err != nil {
		return fmt.Errorf("close dialog: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: dialog %d: %w", dialogID, domain.ErrDialogNotFound)
	}
	return nil
}

func (s *Store) LastDialogID(ctx context.Context, respondentID string, messenger domain.Messenger, onPause bool) (domain.DialogID, bool, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
	SELECT MAX(d.id)
	FROM dialogs AS d
	LEFT OUTER JOIN dialogue_pauses AS dp ON dp.dialog_id = d.id AND dp.active = 1
	WHERE d.respondent_id = ?
		AND d.respondent_messenger = ?
		AND d.finished_at IS NULL
		AND (dp.id IS NOT NULL) = ?`, respondentID, string(messenger), onPause).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("find last dialog: %w", err)
	}
	if !id.Valid {
		return 0, false, nil
	}
	return domain.DialogID(id.Int64), true, nil
}

func (s *Store) DialogSteps(ctx context.Context, dialogID domain.DialogID) ([]domain.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT question, answer FROM dialogue_steps
	WHERE dialog_id = ?
	ORDER BY created_at, id`, int64(dialogID))
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []domain.Step
	for rows.Next() {
		var step domain.Step
		if err := rows.Scan(&step.Question, &step.Answer); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *Store) CalledFunctions(ctx context.Context, dialogID domain.DialogID) ([]domain.CallKey, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT hash FROM called_functions
	WHERE dialog_id = ?
	ORDER BY created_at`, int64(dialogID))
	if err != nil {
		return nil, fmt.Errorf("query function calls: %w", err)
	}
	defer rows.Close()

	var keys []domain.CallKey
	for rows.Next() {
		var hash int64
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan function call: %w", err)
		}
		keys = append(keys, domain.CallKey(uint64(hash)))
	}
	return keys, rows.Err()
}

func (s *Store) Pause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO dialogue_pauses (dialog_id, created_at)
	VALUES (?, ?)
	ON CONFLICT DO NOTHING`, int64(dialogID), time.Now().UnixNano())
	if err != nil {
		return false, s.mapErr(err, dialogID)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) CancelPause(ctx context.Context, dialogID domain.DialogID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE dialogue_pauses SET finished_at = ?, active = 0
	WHERE dialog_id = ? AND active = 1`, time.Now().UnixNano(), int64(dialogID))
	if err != nil {
		return false, fmt.Errorf("cancel pause: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Retryable reports SQLITE_BUSY and SQLITE_LOCKED, which clear once the competing
// writer finishes.
func (s *Store) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return true
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		primary := sqlErr.Code() & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

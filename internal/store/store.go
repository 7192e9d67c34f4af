// Package store is the local SQLite store for operator accounts, auth
// sessions, locked worksheet batches, and the email delivery audit
// log. The review spreadsheet stays the source of truth for review
// rows; batches snapshot the approved questions at lock time.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tclam/worksheet/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		school TEXT NOT NULL,
		level TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'loaded',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS batch_questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		word TEXT NOT NULL,
		content TEXT NOT NULL,
		row_key TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);

	CREATE TABLE IF NOT EXISTS deliveries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		batch_id TEXT NOT NULL,
		student_name TEXT NOT NULL,
		email TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (batch_id) REFERENCES batches(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateBatch stores a batch and its question snapshot in one
// transaction.
func (s *Store) CreateBatch(b model.Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO batches (id, school, level, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.School, b.Level, string(b.Status), time.Now(),
	)
	if err != nil {
		return err
	}
	for i, q := range b.Questions {
		rowKey := ""
		if i < len(b.RowKeys) {
			rowKey = b.RowKeys[i]
		}
		_, err = tx.Exec(
			`INSERT INTO batch_questions (batch_id, position, word, content, row_key) VALUES (?, ?, ?, ?, ?)`,
			b.ID, i, q.Word, q.Content, rowKey,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetBatch returns a batch with its question snapshot, or nil if not
// found.
func (s *Store) GetBatch(id string) (*model.Batch, error) {
	var b model.Batch
	err := s.db.QueryRow(
		`SELECT id, school, level, status, created_at FROM batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.School, &b.Level, &b.Status, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT word, content, row_key FROM batch_questions WHERE batch_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var q model.Question
		var rowKey string
		if err := rows.Scan(&q.Word, &q.Content, &rowKey); err != nil {
			return nil, err
		}
		q.School = b.School
		q.Level = b.Level
		b.Questions = append(b.Questions, q)
		if rowKey != "" {
			b.RowKeys = append(b.RowKeys, rowKey)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns all batches, newest first, without question
// snapshots.
func (s *Store) ListBatches() ([]model.Batch, error) {
	rows, err := s.db.Query(
		`SELECT id, school, level, status, created_at FROM batches ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []model.Batch
	for rows.Next() {
		var b model.Batch
		if err := rows.Scan(&b.ID, &b.School, &b.Level, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatchStatus updates a batch's lifecycle state.
func (s *Store) UpdateBatchStatus(id string, status model.BatchStatus) error {
	_, err := s.db.Exec(`UPDATE batches SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// AddDelivery records the outcome of one email dispatch attempt.
func (s *Store) AddDelivery(d model.Delivery) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO deliveries (batch_id, student_name, email, status, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.BatchID, d.StudentName, d.Email, string(d.Status), d.Detail, time.Now(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListDeliveries returns the delivery audit rows for a batch.
func (s *Store) ListDeliveries(batchID string) ([]model.Delivery, error) {
	rows, err := s.db.Query(
		`SELECT id, batch_id, student_name, email, status, detail, created_at
		 FROM deliveries WHERE batch_id = ? ORDER BY id`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Delivery
	for rows.Next() {
		var d model.Delivery
		if err := rows.Scan(&d.ID, &d.BatchID, &d.StudentName, &d.Email, &d.Status, &d.Detail, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

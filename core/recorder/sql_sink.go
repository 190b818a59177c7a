package recorder

import (
	"context"
	"fmt"

	"github.com/adalundhe/biofeedback/core/database"
)

const resultsSchema = `CREATE TABLE IF NOT EXISTS results (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id                  TEXT NOT NULL,
	theta_value             REAL NOT NULL,
	subcutaneous_conduction REAL NOT NULL,
	date                    REAL NOT NULL,
	is_relax_mode_activated INTEGER NOT NULL
)`

const insertResult = `INSERT INTO results
	(run_id, theta_value, subcutaneous_conduction, date, is_relax_mode_activated)
	VALUES (?, ?, ?, ?, ?)`

// SQLSink inserts one row per record into the results table. The pool is
// owned by the caller.
type SQLSink struct {
	pool *database.Pool
}

func NewSQLSink(ctx context.Context, pool *database.Pool) (*SQLSink, error) {
	if _, err := pool.Exec(ctx, resultsSchema); err != nil {
		return nil, fmt.Errorf("create results table: %w", err)
	}
	return &SQLSink{pool: pool}, nil
}

func (s *SQLSink) Name() string { return "sql" }

func (s *SQLSink) Write(ctx context.Context, r Record) error {
	_, err := s.pool.Exec(ctx, insertResult, r.RunID, r.Theta, r.Conduction, unixSeconds(r.Date), r.Relaxing)
	return err
}

func (s *SQLSink) Close() error { return nil }

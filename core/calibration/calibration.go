// Package calibration computes and stores the resting theta baseline that
// recording sessions produce.
package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/adalundhe/biofeedback/core/database"
)

// ErrNoBaseline is returned by Load when nothing has been stored yet.
var ErrNoBaseline = errors.New("no calibration baseline stored")

// ErrNoSamples is returned by Compute for an empty window.
var ErrNoSamples = errors.New("no theta samples to calibrate from")

type Baseline struct {
	Average float64 `json:"average"`
	Std     float64 `json:"std"`
}

// Compute returns the mean and population standard deviation of values.
func Compute(values []float64) (Baseline, error) {
	if len(values) == 0 {
		return Baseline{}, ErrNoSamples
	}
	mean, std := stat.PopMeanStdDev(values, nil)
	return Baseline{Average: mean, Std: std}, nil
}

type Store interface {
	Save(ctx context.Context, b Baseline) error
	Load(ctx context.Context) (Baseline, error)
}

// FileStore keeps the baseline in a small JSON document.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(_ context.Context, b Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Load(_ context.Context) (Baseline, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Baseline{}, ErrNoBaseline
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("read baseline: %w", err)
	}

	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return b, nil
}

const baselineSchema = `CREATE TABLE IF NOT EXISTS initial_values (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	average REAL NOT NULL,
	std     REAL NOT NULL
)`

// SQLStore keeps the baseline as the single row of initial_values.
type SQLStore struct {
	pool *database.Pool
}

func NewSQLStore(ctx context.Context, pool *database.Pool) (*SQLStore, error) {
	if _, err := pool.Exec(ctx, baselineSchema); err != nil {
		return nil, fmt.Errorf("create initial_values table: %w", err)
	}
	return &SQLStore{pool: pool}, nil
}

func (s *SQLStore) Save(ctx context.Context, b Baseline) error {
	return s.pool.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM initial_values"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO initial_values (id, average, std) VALUES (1, ?, ?)", b.Average, b.Std)
		return err
	})
}

func (s *SQLStore) Load(ctx context.Context) (Baseline, error) {
	var b Baseline
	err := s.pool.QueryRow(ctx, "SELECT average, std FROM initial_values WHERE id = 1").Scan(&b.Average, &b.Std)
	if errors.Is(err, sql.ErrNoRows) {
		return Baseline{}, ErrNoBaseline
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("load baseline: %w", err)
	}
	return b, nil
}

package recorder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type fileRow struct {
	RunID      string  `json:"run_id"`
	Theta      float64 `json:"theta_value"`
	Conduction float64 `json:"subcutaneous_conduction"`
	Date       float64 `json:"date"`
	Relaxing   bool    `json:"is_relax_mode_activated"`
}

// FileSink appends one JSON object per line.
type FileSink struct {
	path string
	file *os.File
	w    *bufio.Writer
}

func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	return &FileSink{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Write(_ context.Context, r Record) error {
	line, err := json.Marshal(fileRow{
		RunID:      r.RunID,
		Theta:      r.Theta,
		Conduction: r.Conduction,
		Date:       unixSeconds(r.Date),
		Relaxing:   r.Relaxing,
	})
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *FileSink) Close() error {
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

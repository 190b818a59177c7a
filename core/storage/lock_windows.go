//go:build windows

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var ErrLocked = errors.New("lock held by another process")

// Lock uses exclusive file creation on Windows; a stale file from a crashed
// session must be removed by hand.
type Lock struct {
	path string
	file *os.File
}

func NewLock(dir, name string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Lock{path: filepath.Join(dir, name+".lock")}, nil
}

func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) TryAcquire() error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrLocked, l.path)
		}
		return err
	}
	l.file = file
	return nil
}

func (l *Lock) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := l.TryAcquire()
		if err == nil || !errors.Is(err, ErrLocked) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	closeErr := l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil {
		return err
	}
	return closeErr
}

func (l *Lock) IsHeld() bool {
	return l.file != nil
}

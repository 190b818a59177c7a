//go:build !windows

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ExclusiveAcrossHandles(t *testing.T) {
	dir := t.TempDir()

	first, err := NewLock(dir, "session")
	require.NoError(t, err)
	require.NoError(t, first.TryAcquire())
	defer first.Release()
	assert.True(t, first.IsHeld())

	second, err := NewLock(dir, "session")
	require.NoError(t, err)
	assert.ErrorIs(t, second.TryAcquire(), ErrLocked)

	err = second.Acquire(context.Background(), 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Release())
	assert.NoError(t, second.TryAcquire())
	assert.NoError(t, second.Release())
}

//go:build darwin || linux

package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPaths_StartWithDataDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	paths := searchPaths()
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], libraryName())
	assert.Contains(t, paths, "/usr/local/lib/"+libraryName())
}

func TestFindLibrary_PrefersEnvironment(t *testing.T) {
	t.Setenv("BRAINFLOW_LIB", "/opt/brainflow/libBoardController.so")
	assert.Equal(t, "/opt/brainflow/libBoardController.so", findLibrary())
}

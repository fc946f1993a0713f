package utils

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDManager(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "run", "oauthd.pid")
	manager := NewPIDManager(pidFile)
	assert.Equal(t, pidFile, manager.GetPIDFile())

	require.NoError(t, manager.WritePID())
	content, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, manager.RemovePID())
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))

	// removing twice is fine
	assert.NoError(t, manager.RemovePID())
}

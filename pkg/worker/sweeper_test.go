package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old_output.wav")
	require.NoError(t, os.WriteFile(stale, []byte("RIFF"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "new_output.wav")
	require.NoError(t, os.WriteFile(fresh, []byte("RIFF"), 0o644))

	sub := filepath.Join(dir, "subdir")
	require.NoError(t, os.Mkdir(sub, 0o755))

	s, err := NewSweeper("@every 1h", []string{dir}, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	s.sweep()

	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.DirExists(t, sub, "directories are never swept")
}

func TestSweepToleratesMissingDirectory(t *testing.T) {
	s, err := NewSweeper("@every 1h", []string{"/nonexistent/voicepipe"}, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	s.sweep()
}

func TestNewSweeperRejectsBadSpec(t *testing.T) {
	_, err := NewSweeper("not a cron spec", nil, time.Hour, zerolog.Nop())
	require.Error(t, err)
}

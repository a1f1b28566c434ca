package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_FileWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.log")
	l, c, err := New(Options{File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	l.Named("sync").Info("hello")
	l.Debug("hidden")
	_ = l.Sync()
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1, "debug is filtered outside dev")

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "sync", rec["logger"])
	require.Equal(t, "info", rec["level"])
}

func TestNew_DevFileKeepsDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.log")
	l, c, err := New(Options{Dev: true, File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	l.Debug("visible")
	_ = l.Sync()
	require.NoError(t, c.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "visible")
}

func TestNew_Stderr(t *testing.T) {
	l, c, err := New(Options{})
	require.NoError(t, err)
	require.NotNil(t, l)
	require.NoError(t, c.Close())
}

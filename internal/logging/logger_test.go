package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/lattice-waves/internal/config"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, log.WarnLevel, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, log.InfoLevel, level)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestWriterFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, Options{Level: "warn"})
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("unknown category", "task", "T1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "unknown category")
	assert.Contains(t, out, "task=T1")
}

func TestWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWriter(&buf, Options{Level: "info", JSON: true})
	require.NoError(t, err)
	logger.Info("dispatched", "task", "T2")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "dispatched", entry["msg"])
	assert.Equal(t, "T2", entry["task"])
}

func TestNewWritesUnderLogsDir(t *testing.T) {
	projectDir := t.TempDir()
	cfg, err := config.NewConfig(projectDir)
	require.NoError(t, err)
	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Printf("bridge listening on %s", "127.0.0.1:8765")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(projectDir, ".lattice", "logs", FileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "bridge listening on 127.0.0.1:8765")
}

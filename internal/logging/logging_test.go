package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONToStdout(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := newWithStdout(Options{Level: "warn", Service: "kallied-admin", Environment: "test"}, &buf)
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("gate: dispatch failed")
	require.NoError(t, closeFn())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "gate: dispatch failed", entry["message"])
	assert.Equal(t, "kallied-admin", entry["service"])
	assert.Equal(t, "test", entry["env"])
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := newWithStdout(Options{Format: "console"}, &buf)
	require.NoError(t, err)
	logger.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestNew_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.log")
	var buf bytes.Buffer
	logger, closeFn, err := newWithStdout(Options{File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)
	logger.Info("persisted")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"persisted"`)
	assert.Contains(t, buf.String(), "persisted")
}

func TestNew_Invalid(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, _, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, Text, &buf).With(Field{Key: "antenna", Value: "ak01"})
	l.Debug("hidden")
	l.Info("channel done", Field{Key: "chan", Value: 3})

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[INFO] channel done antenna=ak01 chan=3")
}

func TestJSONRendersErrors(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, JSON, &buf).Warn("no solution", Err(errors.New("boom")))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload))
	assert.Equal(t, "WARN", payload["level"])
	assert.Equal(t, "boom", payload["error"])
}

func TestParse(t *testing.T) {
	lv, err := ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, Warn, lv)
	_, err = ParseLevel("loud")
	assert.Error(t, err)

	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSON, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestOpenFileWithRunID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, closeFn, err := Open(Config{Level: "debug", File: path}, "abc-123")
	require.NoError(t, err)
	l.Debug("hello")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "run_id=abc-123"))

	_, _, err = Open(Config{Level: "nope"}, "")
	assert.Error(t, err)
}

func TestDefaultReplace(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(New(Info, Text, &buf))
	SetDefault(nil)
	Default().Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf)
	l.SetLevel(LevelWarn)

	l.Info("hidden")
	l.Warn("shown %d", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 1")
}

func TestComponentLoggerSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithOutput(&buf)
	child := root.Component("reconciler")

	root.SetLevel(LevelError)
	child.Info("dropped")
	assert.Empty(t, buf.String())

	root.SetLevel(LevelDebug)
	child.Debug("kept")
	assert.Contains(t, buf.String(), `"component":"reconciler"`)
}

func TestLoggerJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithOutput(&buf)
	l.SetJSONMode(true)

	l.WithField("property", "SetCurrent").Info("transition %v -> %v", 6, 16)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "transition 6 -> 16", entry.Message)
	assert.Equal(t, "SetCurrent", entry.Fields["property"])
}

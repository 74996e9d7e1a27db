package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e Event
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestLoggerEmitsJSONLines(t *testing.T) {
	buf := capture(t)

	log := New("chat").WithUser("u1")
	log.Info("stream_started", map[string]any{"model": "m"})
	log.Warn("slow", nil, errors.New("late"))

	events := decodeLines(t, buf)
	require.Len(t, events, 2)
	assert.Equal(t, "chat", events[0].Component)
	assert.Equal(t, "stream_started", events[0].Event)
	assert.Equal(t, LevelInfo, events[0].Level)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "m", events[0].Extra["model"])
	assert.Equal(t, LevelWarn, events[1].Level)
	assert.Equal(t, "late", events[1].Error)
}

func TestLoggerWithContextCarriesRequestID(t *testing.T) {
	buf := capture(t)

	ctx := WithRequestID(context.Background(), "req-1")
	New("server").WithContext(ctx).Debug("hit", nil)

	events := decodeLines(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestLoggerLevelFilter(t *testing.T) {
	buf := capture(t)
	SetLevel(LevelWarn)

	log := New("x")
	log.Debug("d", nil)
	log.Info("i", nil)
	log.Error("e", nil, errors.New("bad"))

	events := decodeLines(t, buf)
	require.Len(t, events, 1)
	assert.Equal(t, "e", events[0].Event)
}

func TestTimedEvent(t *testing.T) {
	buf := capture(t)

	start := time.Now().Add(-25 * time.Millisecond)
	New("x").TimedEvent("done", start, nil, nil)
	New("x").TimedEvent("failed", start, nil, errors.New("boom"))

	events := decodeLines(t, buf)
	require.Len(t, events, 2)
	assert.GreaterOrEqual(t, events[0].Duration, int64(25))
	assert.Equal(t, LevelInfo, events[0].Level)
	assert.Equal(t, LevelError, events[1].Level)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		" error ": LevelError,
		"":        LevelInfo,
		"loud":    LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

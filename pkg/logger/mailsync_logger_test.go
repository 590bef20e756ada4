package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Error", LevelError},
		{"fatal", LevelFatal},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelDebug, Output: &buf, Service: "test"})

	l.WithField("batch", 2).WithDuration(1500 * time.Microsecond).Info("saved %d records", 100)

	entry := decodeLine(t, &buf)
	require.Equal(t, "saved 100 records", entry["message"])
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "test", entry["service"])
	require.EqualValues(t, 2, entry["batch"])
	require.EqualValues(t, 1.5, entry["duration_ms"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelWarn, Output: &buf})

	l.Info("dropped")
	require.Zero(t, buf.Len())

	l.Warn("kept")
	require.Equal(t, "kept", decodeLine(t, &buf)["message"])
}

func TestLoggerWithErrorAndContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Output: &buf})

	ctx := context.WithValue(context.Background(), JobIDKey, "job-1")
	l.WithContext(ctx).WithError(errors.New("boom")).Info("failed")

	entry := decodeLine(t, &buf)
	require.Equal(t, "job-1", entry["job_id"])
	require.Equal(t, "boom", entry["error"])
}

func TestWithErrorNilIsNoop(t *testing.T) {
	l := New(Config{})
	require.Same(t, l, l.WithError(nil))
}

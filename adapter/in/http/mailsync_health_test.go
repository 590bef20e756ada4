package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"mailsync_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		status int
	}{
		{"no deps", nil, 200},
		{"all healthy", map[string]Check{"mongodb": func(context.Context) error { return nil }}, 200},
		{"one down", map[string]Check{
			"mongodb": func(context.Context) error { return nil },
			"redis":   func(context.Context) error { return errors.New("connection refused") },
		}, 503},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			NewHealthHandler(tt.checks).Register(app)

			resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
			require.NoError(t, err)
			require.Equal(t, tt.status, resp.StatusCode)

			var body struct {
				Checks map[string]string `json:"checks"`
			}
			raw, _ := io.ReadAll(resp.Body)
			require.NoError(t, json.Unmarshal(raw, &body))
			require.Len(t, body.Checks, len(tt.checks))
		})
	}
}

func TestHealthReportsUptime(t *testing.T) {
	app := fiber.New()
	NewHealthHandler(nil).Register(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	var body map[string]any
	raw, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	require.Equal(t, "ok", body["status"])
	require.Contains(t, body, "uptime")
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.NewSyncCollector()
	collector.ObserveRun(1500, 30)
	collector.ObserveFailure("SESSION_ERROR")

	app := fiber.New()
	RegisterMetrics(app, collector.Registry())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	text := string(raw)
	require.Contains(t, text, "email_sync_duration_seconds 1.5")
	require.Contains(t, text, `email_sync_runs_total{status="succeeded"} 1`)
	require.Contains(t, text, `email_sync_runs_total{status="SESSION_ERROR"} 1`)
}

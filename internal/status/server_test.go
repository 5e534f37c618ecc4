package status_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"stardaemon/internal/status"
	"stardaemon/internal/watcher"
	"testing"
	"time"
)

type staticSource struct {
	status watcher.Status
}

func (s staticSource) Status() watcher.Status { return s.status }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusEndpoint(t *testing.T) {
	next := time.Date(2025, 1, 1, 10, 1, 0, 0, time.UTC)
	source := staticSource{status: watcher.Status{
		Username:    "octocat",
		Connectors:  []string{"Mastodon", "Discord"},
		Seen:        42,
		LastOutcome: "no_changes",
	}}

	srv := status.New("127.0.0.1:0", source, func() time.Time { return next }, discardLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["username"] != "octocat" || body["seen"] != float64(42) {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["nextPoll"] != "2025-01-01T10:01:00Z" {
		t.Fatalf("unexpected nextPoll: %v", body["nextPoll"])
	}
	if _, ok := body["retryAt"]; ok {
		t.Fatalf("expected zero retryAt to be omitted")
	}
	if connectors, _ := body["connectors"].([]any); len(connectors) != 2 {
		t.Fatalf("unexpected connectors: %v", body["connectors"])
	}
}

func TestHealthAndMethods(t *testing.T) {
	srv := status.New("127.0.0.1:0", staticSource{}, nil, discardLogger())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok\n" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", rec.Code)
	}
}

func TestStartAndShutdown(t *testing.T) {
	srv := status.New("127.0.0.1:0", staticSource{}, nil, discardLogger())

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

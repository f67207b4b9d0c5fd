package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	for _, tc := range []struct {
		name   string
		token  string
		method string
		path   string
		header string
		want   int
	}{
		{"NoHeader", "secret", http.MethodGet, "/v1/records/1/ab", "", http.StatusUnauthorized},
		{"WrongToken", "secret", http.MethodGet, "/v1/records/1/ab", "Bearer wrong", http.StatusUnauthorized},
		{"InvalidScheme", "secret", http.MethodGet, "/v1/records/1/ab", "Basic secret", http.StatusUnauthorized},
		{"CorrectToken", "secret", http.MethodPost, "/v1/records", "Bearer secret", http.StatusOK},
		{"HealthExempt", "secret", http.MethodGet, "/v1/health", "", http.StatusOK},
		{"HealthPostNotExempt", "secret", http.MethodPost, "/v1/health", "", http.StatusUnauthorized},
		{"Disabled", "", http.MethodGet, "/v1/records/1/ab", "", http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			handler := AuthMiddleware(tc.token, okHandler())
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d; body: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	handler := RecoveryMiddleware(logger, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records/1/ab", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(logs.String(), "panic=boom") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := LoggingMiddleware(logger, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	out := logs.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/v1/health") {
		t.Errorf("unexpected log line: %s", out)
	}
}

func TestStatusRecorder_Flush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	var _ http.Flusher = sr
	sr.Flush()
	if !rec.Flushed {
		t.Fatal("Flush not forwarded")
	}
	_, _ = io.WriteString(sr, "x")
}

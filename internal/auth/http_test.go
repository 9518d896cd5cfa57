// ABOUTME: Tests for the bearer token HTTP middleware
// ABOUTME: Covers missing, malformed, invalid and valid Authorization headers

package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, CallerFromContext(r.Context()))
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireBearer_ValidToken(t *testing.T) {
	verifier := newTestVerifier(t)
	token, err := verifier.Generate("ops-bot", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	handler := RequireBearer(verifier, discardLogger())(callerEcho())
	req := httptest.NewRequest(http.MethodPost, "/announcement", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ops-bot" {
		t.Errorf("caller = %q, want ops-bot", rec.Body.String())
	}
}

func TestRequireBearer_Rejections(t *testing.T) {
	verifier := newTestVerifier(t)
	handler := RequireBearer(verifier, discardLogger())(callerEcho())

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"empty bearer", "Bearer "},
		{"invalid token", "Bearer not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/announcement", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestRequireBearer_NilVerifierPassesThrough(t *testing.T) {
	handler := RequireBearer(nil, discardLogger())(callerEcho())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/announcement", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Errorf("caller = %q, want empty", rec.Body.String())
	}
}

func TestExtractBearerToken(t *testing.T) {
	token, msg := extractBearerToken("Bearer abc")
	if token != "abc" || msg != "" {
		t.Errorf("extractBearerToken() = %q, %q", token, msg)
	}
}

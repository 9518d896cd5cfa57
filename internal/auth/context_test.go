// ABOUTME: Unit tests for caller context helpers
// ABOUTME: Tests propagation and the unauthenticated default

package auth

import (
	"context"
	"testing"
)

func TestCallerFromContext(t *testing.T) {
	ctx := WithCaller(context.Background(), "ops-bot")
	if got := CallerFromContext(ctx); got != "ops-bot" {
		t.Errorf("CallerFromContext() = %q, want ops-bot", got)
	}
}

func TestCallerFromContext_Missing(t *testing.T) {
	if got := CallerFromContext(context.Background()); got != "" {
		t.Errorf("CallerFromContext() = %q, want empty", got)
	}
}

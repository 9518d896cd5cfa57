// ABOUTME: Authentication context for tracking the caller through request handlers
// ABOUTME: Provides WithCaller/CallerFromContext for propagating the token subject

package auth

import (
	"context"
)

// callerKey is the key type for storing the caller in context.Context.
type callerKey struct{}

// WithCaller returns a new context carrying the authenticated caller name.
func WithCaller(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, callerKey{}, subject)
}

// CallerFromContext returns the authenticated caller, or "" when the request
// was not authenticated.
func CallerFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(callerKey{}).(string)
	return subject
}

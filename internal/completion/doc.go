// Package completion talks to the completion provider's HTTP endpoint.
//
// A Client sends one question together with the continuation it should
// resume and returns a typed Result or one of ErrTimeout, ErrTransport or
// ErrMalformedResponse. Requests are never retried.
package completion

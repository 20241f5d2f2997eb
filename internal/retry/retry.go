// Package retry wraps exponential backoff for calls to external services.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls how an operation is retried.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	// Retryable reports whether an error is transient. A nil predicate
	// treats every error as retryable.
	Retryable func(error) bool
}

// DefaultPolicy matches the backoff used for Qdrant and OpenAI calls:
// 500ms initial, 10s max interval, 30s max elapsed.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

// Do runs op with exponential backoff under the policy. Errors the policy
// classifies as permanent fail immediately; context cancellation stops the
// retry loop.
func Do(ctx context.Context, p Policy, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(b, ctx))
	// Unwrap the marker so callers see the original error.
	if perm, ok := err.(*backoff.PermanentError); ok {
		return perm.Err
	}
	return err
}

// Package llm streams chat completions from an OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable signals the generation endpoint failed after retries, or
// dropped the stream mid-generation.
var ErrUnavailable = errors.New("generation service unavailable")

// Message is a chat message sent to the model.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// TokenStream is a finite pull-based stream of generated tokens.
// Recv returns io.EOF when generation completes normally. Close releases
// the underlying connection and is safe after any Recv result.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Generator opens a token stream for a conversation.
type Generator interface {
	Stream(ctx context.Context, messages []Message) (TokenStream, error)
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/docchat/docchat/internal/retry"
)

const (
	// DefaultModel is used when the config does not name one.
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature keeps answers close to the provided context.
	DefaultTemperature = 0.1

	// DefaultMaxTokens bounds a single answer.
	DefaultMaxTokens = 1000
)

// OpenAI is a Generator backed by the chat completions API. Opening the
// stream is retried with backoff on rate limit, server, and transport
// errors; a stream that fails after tokens were delivered is not retried,
// the caller sees the error mid-stream.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAI creates a generator for the given model. An empty model selects
// DefaultModel.
func NewOpenAI(client *openai.Client, model string) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{
		client:      client,
		model:       model,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
	}
}

// Stream opens a completion stream for the conversation. The first event is
// prefetched so connection failures surface here, typed as ErrUnavailable,
// rather than on the first Recv.
func (g *OpenAI) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    toParams(messages),
		Temperature: openai.Float(g.temperature),
		MaxTokens:   openai.Int(g.maxTokens),
	}

	var ts *tokenStream
	policy := retry.DefaultPolicy()
	policy.Retryable = isRetryable

	err := retry.Do(ctx, policy, func() error {
		raw := g.client.Chat.Completions.NewStreaming(ctx, params)
		s := &tokenStream{stream: raw}
		if !s.prefetch() {
			if err := raw.Err(); err != nil {
				raw.Close()
				return err
			}
		}
		ts = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ts, nil
}

// tokenStream adapts the SSE stream to TokenStream, holding at most one
// prefetched token.
type tokenStream struct {
	stream   *ssestream.Stream[openai.ChatCompletionChunk]
	pending  string
	buffered bool
	done     bool
}

// prefetch pulls the first content token. Returns false at stream end or on
// error; the caller distinguishes the two via stream.Err().
func (s *tokenStream) prefetch() bool {
	if token, ok := s.pull(); ok {
		s.pending = token
		s.buffered = true
		return true
	}
	s.done = true
	return false
}

// pull advances the SSE stream to the next non-empty content delta.
func (s *tokenStream) pull() (string, bool) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				return delta, true
			}
		}
	}
	return "", false
}

func (s *tokenStream) Recv() (string, error) {
	if s.buffered {
		s.buffered = false
		return s.pending, nil
	}
	if s.done {
		if err := s.stream.Err(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", io.EOF
	}
	if token, ok := s.pull(); ok {
		return token, nil
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return "", io.EOF
}

func (s *tokenStream) Close() error {
	return s.stream.Close()
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// isRetryable mirrors the embedding client: 429 and 5xx API errors plus
// transport failures are transient.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}

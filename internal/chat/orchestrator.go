// Package chat drives a retrieval-grounded chat turn: retrieve, prompt,
// stream, finalize.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/session"
)

// ErrEmptyMessage is returned for a blank chat message.
var ErrEmptyMessage = errors.New("empty chat message")

// EventType tags entries of the chat event stream.
type EventType string

const (
	// EventToken carries one generated token.
	EventToken EventType = "token"
	// EventSources ends a successful turn: the source list and session id,
	// emitted exactly once after all tokens.
	EventSources EventType = "sources"
	// EventError ends a failed turn in place of the sources event.
	EventError EventType = "error"
)

// Event is one entry of a chat turn's output stream.
type Event struct {
	Type      EventType
	Content   string
	Sources   []session.Source
	SessionID string
	Err       error
}

// RetrievalPolicy decides what a turn does when retrieval itself fails
// (embedding service down, index unreachable).
type RetrievalPolicy string

const (
	// ProceedUngrounded answers without document context; the turn carries
	// no sources.
	ProceedUngrounded RetrievalPolicy = "proceed"
	// FailTurn aborts the turn with an error event.
	FailTurn RetrievalPolicy = "fail"
)

// NoContextReply is sent when the index holds nothing relevant; the model
// is not called.
const NoContextReply = "I couldn't find relevant information in the uploaded documents to answer your question."

const systemPrompt = `You are a helpful AI assistant that answers questions based on provided context documents.

Instructions:
- Use ONLY the information from the provided context to answer questions
- If the context doesn't contain relevant information, say "I couldn't find relevant information in the uploaded documents to answer your question."
- Be concise and accurate
- Cite specific information when possible
- Don't make up information not present in the context`

// DefaultHistoryLimit is how many prior messages are included in the prompt.
const DefaultHistoryLimit = 10

// Retriever finds chunks relevant to a query. Satisfied by
// retrieval.Engine.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]index.Result, error)
}

// Options tune orchestrator behavior.
type Options struct {
	// HistoryLimit bounds prior messages in the prompt; zero selects
	// DefaultHistoryLimit.
	HistoryLimit int
	// OnRetrievalError defaults to ProceedUngrounded.
	OnRetrievalError RetrievalPolicy
}

// Orchestrator runs chat turns. A turn moves through retrieving, prompting,
// streaming, and finalizing; per-session serialization is enforced through
// the session store's turn lock for the whole span.
type Orchestrator struct {
	retriever    Retriever
	generator    llm.Generator
	sessions     *session.Store
	historyLimit int
	policy       RetrievalPolicy
	logger       *slog.Logger
}

// New creates an orchestrator.
func New(retriever Retriever, generator llm.Generator, sessions *session.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.OnRetrievalError == "" {
		opts.OnRetrievalError = ProceedUngrounded
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		retriever:    retriever,
		generator:    generator,
		sessions:     sessions,
		historyLimit: opts.HistoryLimit,
		policy:       opts.OnRetrievalError,
		logger:       logger,
	}
}

// Stream runs one chat turn and returns its event stream. The channel is
// closed after the terminal sources or error event. A busy session fails
// here with session.ErrBusy before any event is produced. Cancelling ctx
// mid-stream stops token delivery, releases the upstream stream, and skips
// finalization: no history is recorded for an aborted turn.
func (o *Orchestrator) Stream(ctx context.Context, message, sessionID string) (<-chan Event, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	if sessionID == "" {
		sessionID = o.sessions.Create()
	}
	release, err := o.sessions.Acquire(sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer release()
		o.runTurn(ctx, message, sessionID, events)
	}()
	return events, nil
}

// runTurn executes the turn state machine, emitting events until the
// terminal state.
func (o *Orchestrator) runTurn(ctx context.Context, message, sessionID string, events chan<- Event) {
	// History is read under the turn lock, so appends from other turns
	// cannot interleave.
	history := o.sessions.Get(sessionID)

	// Retrieving.
	chunks, err := o.retriever.Retrieve(ctx, message)
	if err != nil {
		if o.policy == FailTurn {
			o.emit(ctx, events, Event{Type: EventError, Content: "could not search documents", Err: err})
			return
		}
		o.logger.Warn("retrieval failed, answering ungrounded", "session", sessionID, "error", err)
		chunks = nil
	} else if len(chunks) == 0 {
		// Valid empty result: nothing relevant in the index. Reply without
		// calling the model, with no sources.
		if !o.emit(ctx, events, Event{Type: EventToken, Content: NoContextReply}) {
			return
		}
		o.recordTurn(sessionID, message, NoContextReply, []session.Source{}, false)
		o.emit(ctx, events, Event{Type: EventSources, Sources: []session.Source{}, SessionID: sessionID})
		return
	}

	// Prompting. Sources are fixed here, from the chunks actually used.
	prompt := o.buildPrompt(history, chunks, message)
	sources := make([]session.Source, len(chunks))
	for i, c := range chunks {
		sources[i] = session.Source{Filename: c.Filename, ChunkID: c.ChunkID}
	}

	// Streaming.
	stream, err := o.generator.Stream(ctx, prompt)
	if err != nil {
		o.emit(ctx, events, Event{Type: EventError, Content: "could not generate answer", Err: err})
		o.recordTurn(sessionID, message, "", nil, true)
		return
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		if ctx.Err() != nil {
			return // caller gone: stop pulling, no history for aborted turns
		}
		token, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Mid-stream failure: surface a terminal error but keep the
			// partial answer so the next turn sees consistent history.
			o.emit(ctx, events, Event{Type: EventError, Content: "generation interrupted", Err: err})
			o.recordTurn(sessionID, message, answer.String(), nil, true)
			return
		}
		answer.WriteString(token)
		if !o.emit(ctx, events, Event{Type: EventToken, Content: token}) {
			return
		}
	}

	// Finalizing: sources and session id are emitted exactly once, after
	// all tokens.
	o.recordTurn(sessionID, message, answer.String(), sources, false)
	o.emit(ctx, events, Event{Type: EventSources, Sources: sources, SessionID: sessionID})
}

// recordTurn appends the user/assistant pair to the session history.
func (o *Orchestrator) recordTurn(sessionID, userMsg, answer string, sources []session.Source, incomplete bool) {
	now := time.Now()
	o.sessions.Append(sessionID,
		session.Message{Role: "user", Content: userMsg, Timestamp: now},
		session.Message{Role: "assistant", Content: answer, Timestamp: now, Sources: sources, Incomplete: incomplete},
	)
}

// buildPrompt assembles the model input: system instructions, bounded prior
// history, then the user question with retrieved context. Identical inputs
// produce an identical prompt.
func (o *Orchestrator) buildPrompt(history []session.Message, chunks []index.Result, message string) []llm.Message {
	msgs := []llm.Message{{Role: "system", Content: systemPrompt}}

	if len(history) > o.historyLimit {
		history = history[len(history)-o.historyLimit:]
	}
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	if len(chunks) == 0 {
		msgs = append(msgs, llm.Message{Role: "user", Content: message})
		return msgs
	}

	var b strings.Builder
	b.WriteString("Context from documents:\n\n")
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Source: %s]\n%s", c.Filename, c.Content)
	}
	fmt.Fprintf(&b, "\n\nQuestion: %s\n\nAnswer based on the context above:", message)
	msgs = append(msgs, llm.Message{Role: "user", Content: b.String()})
	return msgs
}

// emit delivers an event unless the caller has gone away. Returns false on
// cancellation.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

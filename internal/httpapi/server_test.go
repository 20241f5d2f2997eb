package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/llm"
	"github.com/docchat/docchat/internal/retrieval"
	"github.com/docchat/docchat/internal/session"
)

// bagEmbedder hashes words into a fixed-dimension bag so verbatim queries
// score highest against their own chunk. Deterministic, no network.
type bagEmbedder struct{}

func (bagEmbedder) Dimension() int { return 64 }

func (e bagEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dimension())
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%uint32(e.Dimension())]++
	}
	return vec, nil
}

func (e bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

type scriptedStream struct {
	tokens []string
	pos    int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.pos < len(s.tokens) {
		tok := s.tokens[s.pos]
		s.pos++
		return tok, nil
	}
	return "", io.EOF
}

func (s *scriptedStream) Close() error { return nil }

type scriptedGenerator struct {
	tokens []string
}

func (g *scriptedGenerator) Stream(_ context.Context, _ []llm.Message) (llm.TokenStream, error) {
	return &scriptedStream{tokens: g.tokens}, nil
}

type failingGenerator struct{}

func (failingGenerator) Stream(_ context.Context, _ []llm.Message) (llm.TokenStream, error) {
	return nil, llm.ErrUnavailable
}

type testEnv struct {
	server   *httptest.Server
	sessions *session.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, &scriptedGenerator{tokens: []string{"Paris", " is", " the", " capital."}})
}

func newTestEnvWith(t *testing.T, generator llm.Generator) *testEnv {
	t.Helper()
	text, err := chunker.NewSplitter(200, 20)
	if err != nil {
		t.Fatalf("NewSplitter failed: %v", err)
	}
	emb := bagEmbedder{}
	idx := index.NewMemory()
	pipeline := ingest.NewPipeline(text, chunker.NewMarkdownSplitter(text), emb, idx, nil)
	engine := retrieval.NewEngine(emb, idx, 0, 0.01, nil)
	sessions := session.NewStore(session.Reject)
	orchestrator := chat.New(engine, generator, sessions, chat.Options{}, nil)

	api := NewServer(pipeline, orchestrator, sessions, idx, nil)
	srv := httptest.NewServer(api.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, sessions: sessions}
}

func (env *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(env.server.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp
}

func (env *testEnv) uploadParis(t *testing.T) {
	t.Helper()
	resp := env.post(t, "/documents", map[string]any{
		"documents": []map[string]string{
			{"filename": "france.txt", "text": "Paris is the capital of France. The Eiffel Tower is in Paris. The Seine river flows through the city."},
		},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload returned %d: %s", resp.StatusCode, body)
	}
}

// sseData returns the data payload of each SSE frame in order.
func sseData(t *testing.T, body io.Reader) []string {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read SSE body: %v", err)
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			out = append(out, rest)
		}
	}
	return out
}

func TestUploadAndStatus(t *testing.T) {
	env := newTestEnv(t)
	env.uploadParis(t)

	resp, err := http.Get(env.server.URL + "/documents/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer resp.Body.Close()

	var status struct {
		DocumentCount int `json:"document_count"`
		ChunkCount    int `json:"chunk_count"`
		Documents     []struct {
			Filename   string `json:"filename"`
			ChunkCount int    `json:"chunk_count"`
		} `json:"documents"`
		Chunks []struct {
			Filename       string `json:"filename"`
			ChunkID        string `json:"chunk_id"`
			ContentPreview string `json:"content_preview"`
		} `json:"chunks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.DocumentCount != 1 || status.ChunkCount == 0 {
		t.Errorf("unexpected status: %+v", status)
	}
	if len(status.Documents) != 1 || status.Documents[0].Filename != "france.txt" {
		t.Errorf("unexpected documents: %+v", status.Documents)
	}
	if len(status.Chunks) != status.ChunkCount {
		t.Errorf("expected %d chunk previews, got %d", status.ChunkCount, len(status.Chunks))
	}
	for _, c := range status.Chunks {
		if c.Filename != "france.txt" || c.ChunkID == "" || c.ContentPreview == "" {
			t.Errorf("unexpected chunk preview: %+v", c)
		}
		if len([]rune(c.ContentPreview)) > 100 {
			t.Errorf("preview too long: %d runes", len([]rune(c.ContentPreview)))
		}
	}
}

func TestUpload_RejectsEmptyAndMalformed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/documents", map[string]any{"documents": []any{}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty upload: expected 400, got %d", resp.StatusCode)
	}

	resp2, err := http.Post(env.server.URL+"/documents", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed upload: expected 400, got %d", resp2.StatusCode)
	}
}

func TestChat_StreamsTokensSourcesAndDone(t *testing.T) {
	env := newTestEnv(t)
	env.uploadParis(t)

	resp := env.post(t, "/chat", map[string]string{"message": "What is the capital of France?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat returned %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("unexpected content type %q", got)
	}

	frames := sseData(t, resp.Body)
	if len(frames) < 3 {
		t.Fatalf("expected tokens, sources, DONE; got %v", frames)
	}
	if frames[len(frames)-1] != "[DONE]" {
		t.Errorf("missing [DONE] terminator: %v", frames[len(frames)-1])
	}

	var answer strings.Builder
	var sourcesFrames int
	var sessionID string
	for _, frame := range frames[:len(frames)-1] {
		var ev struct {
			Type      string `json:"type"`
			Content   string `json:"content"`
			SessionID string `json:"session_id"`
			Sources   []struct {
				Filename string `json:"filename"`
				ChunkID  string `json:"chunk_id"`
			} `json:"sources"`
		}
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		switch ev.Type {
		case "token":
			if sourcesFrames > 0 {
				t.Error("token event after sources event")
			}
			answer.WriteString(ev.Content)
		case "sources":
			sourcesFrames++
			sessionID = ev.SessionID
			if len(ev.Sources) == 0 {
				t.Error("sources event carries no sources")
			}
			for _, src := range ev.Sources {
				if src.Filename != "france.txt" || src.ChunkID == "" {
					t.Errorf("unexpected source %+v", src)
				}
			}
		}
	}
	if sourcesFrames != 1 {
		t.Errorf("expected exactly one sources event, got %d", sourcesFrames)
	}
	if answer.String() != "Paris is the capital." {
		t.Errorf("unexpected assembled answer %q", answer.String())
	}
	if sessionID == "" {
		t.Fatal("sources event missing session id")
	}

	// The finished turn is visible through the sessions endpoint.
	resp2, err := http.Get(env.server.URL + "/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("GET session failed: %v", err)
	}
	defer resp2.Body.Close()
	var sess struct {
		SessionID string `json:"session_id"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(sess.Messages) != 2 || sess.Messages[1].Content != "Paris is the capital." {
		t.Errorf("unexpected session history: %+v", sess.Messages)
	}
}

// TestChat_ErrorEventCarriesMessage verifies a failed turn ends with an
// error frame whose text is under the "message" key, then [DONE].
func TestChat_ErrorEventCarriesMessage(t *testing.T) {
	env := newTestEnvWith(t, failingGenerator{})
	env.uploadParis(t)

	resp := env.post(t, "/chat", map[string]string{"message": "What is the capital of France?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat returned %d", resp.StatusCode)
	}

	frames := sseData(t, resp.Body)
	if len(frames) != 2 || frames[1] != "[DONE]" {
		t.Fatalf("expected error frame then [DONE], got %v", frames)
	}

	var ev struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(frames[0]), &ev); err != nil {
		t.Fatalf("bad frame %q: %v", frames[0], err)
	}
	if ev.Type != "error" || ev.Message == "" {
		t.Errorf("unexpected error frame: %+v", ev)
	}
}

func TestChat_EmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	resp := env.post(t, "/chat", map[string]string{"message": "  "})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChat_BusySessionConflicts(t *testing.T) {
	env := newTestEnv(t)
	id := env.sessions.Create()
	release, err := env.sessions.Acquire(id)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	resp := env.post(t, "/chat", map[string]string{"message": "hello", "session_id": id})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}
}

// TestResetThenChat verifies the reset-then-query flow: after reset every
// query falls back to the canned no-context reply with empty sources.
func TestResetThenChat(t *testing.T) {
	env := newTestEnv(t)
	env.uploadParis(t)

	resp := env.post(t, "/reset", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset returned %d", resp.StatusCode)
	}

	resp2 := env.post(t, "/chat", map[string]string{"message": "What is the capital of France?"})
	defer resp2.Body.Close()
	frames := sseData(t, resp2.Body)

	var sawCanned, sawEmptySources bool
	for _, frame := range frames {
		if frame == "[DONE]" {
			continue
		}
		var ev struct {
			Type    string          `json:"type"`
			Content string          `json:"content"`
			Sources json.RawMessage `json:"sources"`
		}
		if err := json.Unmarshal([]byte(frame), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		if ev.Type == "token" && ev.Content == chat.NoContextReply {
			sawCanned = true
		}
		if ev.Type == "sources" && string(ev.Sources) == "[]" {
			sawEmptySources = true
		}
	}
	if !sawCanned {
		t.Error("expected the canned no-context reply after reset")
	}
	if !sawEmptySources {
		t.Error("expected an explicit empty sources array")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("GET health failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
		Index  string `json:"index"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Index != "connected" {
		t.Errorf("unexpected health: %+v", health)
	}
}

func TestSession_UnknownReturnsEmptyHistory(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/sessions/does-not-exist")
	if err != nil {
		t.Fatalf("GET session failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var sess struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(sess.Messages))
	}
}

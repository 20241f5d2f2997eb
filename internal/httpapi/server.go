package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/docchat/docchat/internal/chat"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	"github.com/docchat/docchat/internal/session"
)

// Server wires the HTTP surface over the core pipeline.
type Server struct {
	pipeline     *ingest.Pipeline
	orchestrator *chat.Orchestrator
	sessions     *session.Store
	idx          index.Index
	logger       *slog.Logger
}

// NewServer creates the HTTP API server.
func NewServer(pipeline *ingest.Pipeline, orchestrator *chat.Orchestrator, sessions *session.Store, idx index.Index, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipeline:     pipeline,
		orchestrator: orchestrator,
		sessions:     sessions,
		idx:          idx,
		logger:       logger,
	}
}

// Routes returns the route table.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents", s.handleUpload)
	mux.HandleFunc("GET /documents/status", s.handleStatus)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

type uploadRequest struct {
	Documents     []uploadDoc `json:"documents"`
	ClearExisting bool        `json:"clear_existing"`
}

type uploadDoc struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

type uploadResponse struct {
	Documents   []ingest.DocResult `json:"documents"`
	Failed      []ingest.FailedDoc `json:"failed,omitempty"`
	TotalChunks int                `json:"total_chunks"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		s.writeError(w, http.StatusBadRequest, "no documents provided")
		return
	}

	docs := make([]ingest.InputDoc, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = ingest.InputDoc{Filename: d.Filename, Text: d.Text}
	}

	result, err := s.pipeline.Ingest(r.Context(), docs, req.ClearExisting)
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		Documents:   result.Docs,
		Failed:      result.Failed,
		TotalChunks: result.TotalChunks,
	})
}

type statusResponse struct {
	DocumentCount int               `json:"document_count"`
	ChunkCount    int               `json:"chunk_count"`
	Documents     []ingest.Document `json:"documents"`
	Chunks        []chunkPreview    `json:"chunks,omitempty"`
}

type chunkPreview struct {
	Filename       string `json:"filename"`
	ChunkID        string `json:"chunk_id"`
	ContentPreview string `json:"content_preview"`
}

// chunkLister is implemented by index backends that can enumerate their
// entries (the in-memory backend).
type chunkLister interface {
	Entries() []index.Result
}

const previewLen = 100

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	count, err := s.idx.Count(r.Context())
	if err != nil {
		s.logger.Error("index count failed", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "index unavailable")
		return
	}
	docs := s.pipeline.Documents()
	if docs == nil {
		docs = []ingest.Document{}
	}

	resp := statusResponse{
		DocumentCount: len(docs),
		ChunkCount:    count,
		Documents:     docs,
	}
	if lister, ok := s.idx.(chunkLister); ok {
		for _, e := range lister.Entries() {
			resp.Chunks = append(resp.Chunks, chunkPreview{
				Filename:       e.Filename,
				ChunkID:        e.ChunkID,
				ContentPreview: preview(e.Content),
			})
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLen {
		return content
	}
	return string(runes[:previewLen])
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []session.Message `json:"messages"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages := s.sessions.Get(id)
	if messages == nil {
		messages = []session.Message{}
	}
	s.writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, Messages: messages})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Reset(r.Context()); err != nil {
		s.logger.Error("reset failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

type healthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if _, err := s.idx.Count(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Index = "disconnected"
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "healthy"
	resp.Index = "connected"
	s.writeJSON(w, http.StatusOK, resp)
}

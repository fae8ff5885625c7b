package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voxrig/vecengine/internal/engine"
	"github.com/voxrig/vecengine/internal/errs"
	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/observability"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

// Server adapts HTTP requests onto the engine, the ANN index, and the
// two stores. It never touches the index or stores directly for
// retrieval (that's the engine's job) but owns ingest, since ingest
// must write to the vector store, the index, and the metadata store
// together.
type Server struct {
	engine *engine.Engine
	index  *index.HnswIndex
	meta   storage.MetadataStore
	vecs   storage.VectorStore
	log    *zap.Logger
	m      *observability.Metrics

	limiter *rate.Limiter
}

// NewServer wires a Server. limiter may be nil to disable rate
// limiting.
func NewServer(e *engine.Engine, idx *index.HnswIndex, meta storage.MetadataStore, vecs storage.VectorStore, log *zap.Logger, m *observability.Metrics, limiter *rate.Limiter) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		engine:  e,
		index:   idx,
		meta:    meta,
		vecs:    vecs,
		log:     log.With(zap.String("component", "api")),
		m:       m,
		limiter: limiter,
	}
}

// IngestChunk is used only for receiving data via API.
type IngestChunk struct {
	DocID      string       `json:"doc_id"`
	Vector     types.Vector `json:"vector"`
	Content    string       `json:"content"`
	StartLine  int          `json:"start_line"`
	EndLine    int          `json:"end_line"`
	TokenCount int          `json:"token_count"`
}

// IngestRequest is the payload for POST /ingest.
type IngestRequest struct {
	// Namespace is an optional logical partition. If set, it is copied
	// into Document.Metadata["namespace"] unless already present.
	Namespace string         `json:"namespace,omitempty"`
	Document  types.Document `json:"document"`
	Chunks    []IngestChunk  `json:"chunks"`
}

// RetrieveRequest is the payload for POST /retrieve.
type RetrieveRequest struct {
	// Namespace, if provided, restricts results to chunks whose
	// Document.Metadata["namespace"] matches.
	Namespace string       `json:"namespace,omitempty"`
	Query     types.Vector `json:"query"`
	MaxTokens int          `json:"max_tokens"`
}

// IngestMessageRequest is a convenience endpoint for chat/memory style
// ingestion. It ingests exactly one chunk (the message content) and
// stores namespace + conversation metadata on the Document.
//
// Recommended IDs:
//   - namespace: stable project/workspace id (e.g. repo path hash, workspace UUID)
//   - conversation_id: stable chat/thread id
type IngestMessageRequest struct {
	Namespace      string       `json:"namespace"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"` // optional; server generates if empty
	Role           string       `json:"role"`                 // "user" | "assistant" | "system"
	Content        string       `json:"content"`
	Vector         types.Vector `json:"vector"`
	TokenCount     int          `json:"token_count"`
	TimestampUTC   string       `json:"timestamp_utc,omitempty"` // optional RFC3339; server uses now if empty
	Source         string       `json:"source,omitempty"`        // optional; default "chat"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}

// writeDomainError maps a typed error from errs onto an HTTP status,
// falling back to 500 for anything not in the taxonomy.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrDimensionMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrDocumentNotFound), errors.Is(err, errs.ErrChunkNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "vecengine",
		"ok":         true,
		"time_utc":   time.Now().UTC().Format(time.RFC3339),
		"endpoints":  []string{"/health", "/stats", "/metrics", "/ingest", "/ingest_message", "/retrieve", "/reset"},
		"api_schema": 1,
	})
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"time_utc":  time.Now().UTC().Format(time.RFC3339),
		"vec_count": s.vecs.Count(),
	})
}

func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"vec_count": s.vecs.Count(),
	})
}

type resetResponse struct {
	Status string `json:"status"`
}

// HandleReset clears the in-memory ANN graph only; the vector store
// and the metadata store are untouched. Intended for dev/test -
// production workloads should isolate with namespaces instead.
func (s *Server) HandleReset(w http.ResponseWriter, r *http.Request) {
	s.index.Reset()
	writeJSON(w, http.StatusOK, resetResponse{Status: "reset_ok"})
}

func (s *Server) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Namespace != "" {
		if req.Document.Metadata == nil {
			req.Document.Metadata = types.Metadata{}
		}
		if _, exists := req.Document.Metadata["namespace"]; !exists {
			req.Document.Metadata["namespace"] = req.Namespace
		}
	}

	s.log.Info("ingest start",
		zap.String("doc_id", req.Document.ID),
		zap.String("source", req.Document.Source),
		zap.Int("chunks", len(req.Chunks)),
	)

	if err := s.meta.SaveDocument(req.Document); err != nil {
		s.log.Error("ingest save document failed", zap.String("doc_id", req.Document.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save document")
		return
	}

	ingestedIDs := make([]uint64, 0, len(req.Chunks))

	for _, ic := range req.Chunks {
		id, err := s.vecs.Append(ic.Vector)
		if err != nil {
			// Best-effort: log and continue with the remaining chunks
			// rather than aborting a multi-chunk ingest on one bad
			// vector, since earlier chunks are already durable.
			s.log.Error("ingest append vector failed", zap.String("doc_id", ic.DocID), zap.Int("persisted", len(ingestedIDs)), zap.Error(err))
			continue
		}

		chunk := types.Chunk{
			ID:         id,
			DocID:      ic.DocID,
			Content:    ic.Content,
			StartLine:  ic.StartLine,
			EndLine:    ic.EndLine,
			TokenCount: ic.TokenCount,
		}

		s.index.Add(id, ic.Vector)

		if err := s.meta.SaveChunk(chunk); err != nil {
			s.log.Error("ingest save chunk metadata failed", zap.Uint64("id", id), zap.String("doc_id", ic.DocID), zap.Error(err))
			continue
		}

		ingestedIDs = append(ingestedIDs, id)
	}

	s.log.Info("ingest ok",
		zap.String("doc_id", req.Document.ID),
		zap.Int("ingested", len(ingestedIDs)),
		zap.Uint64("vec_count", s.vecs.Count()),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ingested",
		"doc_id":       req.Document.ID,
		"chunk_ids":    ingestedIDs,
		"vector_count": s.vecs.Count(),
	})
}

func (s *Server) HandleIngestMessage(w http.ResponseWriter, r *http.Request) {
	var req IngestMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Namespace == "" {
		writeError(w, http.StatusBadRequest, "namespace is required")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Vector) == 0 {
		writeError(w, http.StatusBadRequest, "vector is required")
		return
	}

	ts := time.Now().UTC()
	if req.TimestampUTC != "" {
		parsed, err := time.Parse(time.RFC3339, req.TimestampUTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp_utc must be RFC3339")
			return
		}
		ts = parsed.UTC()
	}

	source := req.Source
	if source == "" {
		source = "chat"
	}

	msgID := req.MessageID
	if msgID == "" {
		// Time-based id, not a UUID: message ids double as part of the
		// document id below, and must stay ordered/inspectable the way
		// a caller reading raw document ids would expect. Callers that
		// need a globally unique id can supply their own.
		msgID = fmt.Sprintf("msg-%d", time.Now().UTC().UnixNano())
	}

	// One message == one document + one chunk. DocID is stable across
	// retries if message_id is stable.
	docID := fmt.Sprintf("chat:%s:%s", req.ConversationID, msgID)

	doc := types.Document{
		ID:        docID,
		Source:    source,
		Timestamp: ts,
		Metadata: types.Metadata{
			"namespace":       req.Namespace,
			"conversation_id": req.ConversationID,
			"message_id":      msgID,
			"role":            req.Role,
			"type":            "chat_message",
		},
	}

	s.log.Info("ingest_message start",
		zap.String("namespace", req.Namespace),
		zap.String("conversation_id", req.ConversationID),
		zap.String("message_id", msgID),
		zap.String("role", req.Role),
	)

	if err := s.meta.SaveDocument(doc); err != nil {
		s.log.Error("ingest_message save document failed", zap.String("doc_id", doc.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save document")
		return
	}

	vecID, err := s.vecs.Append(req.Vector)
	if err != nil {
		s.log.Error("ingest_message append vector failed", zap.String("doc_id", doc.ID), zap.Error(err))
		s.writeDomainError(w, err)
		return
	}

	chunk := types.Chunk{
		ID:         vecID,
		DocID:      doc.ID,
		Content:    req.Content,
		TokenCount: req.TokenCount,
	}

	s.index.Add(vecID, req.Vector)

	if err := s.meta.SaveChunk(chunk); err != nil {
		s.log.Error("ingest_message save chunk metadata failed", zap.Uint64("id", vecID), zap.String("doc_id", doc.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save chunk metadata")
		return
	}

	s.log.Info("ingest_message ok", zap.String("doc_id", doc.ID), zap.Uint64("chunk_id", vecID), zap.Uint64("vec_count", s.vecs.Count()))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ingested_message",
		"doc_id":          doc.ID,
		"chunk_id":        vecID,
		"vector_count":    s.vecs.Count(),
		"message_id":      msgID,
		"conversation_id": req.ConversationID,
		"namespace":       req.Namespace,
	})
}

func (s *Server) HandleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req RetrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := engine.RetrievalConfig{
		MaxTokens: req.MaxTokens,
		Namespace: req.Namespace,
	}

	res, err := s.engine.Retrieve(req.Query, cfg)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"chunks":       res.Chunks,
		"total_tokens": res.TotalTokens,
		"truncated":    res.Truncated,
	})
}

// Router assembles the chi mux with the standard middleware chain:
// request id, structured request logging, Prometheus instrumentation,
// and a token-bucket limiter in front of the two ingest routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.log))
	if s.m != nil {
		r.Use(metricsMiddleware(s.m))
	}

	r.Get("/", s.HandleRoot)
	r.Get("/health", s.HandleHealth)
	r.Get("/stats", s.HandleStats)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/reset", s.HandleReset)
	r.Post("/retrieve", s.HandleRetrieve)

	r.Group(func(gr chi.Router) {
		gr.Use(rateLimitMiddleware(s.limiter, s.m))
		gr.Post("/ingest", s.HandleIngest)
		gr.Post("/ingest_message", s.HandleIngestMessage)
	})

	return r
}

// Package cliapp implements the single-shot CLI commands
// (ingest_message, ingest_document, retrieve) shared by the -cmd flag
// of cmd/voxengine. Each command reads one JSON payload from -input or
// stdin and writes one JSON line to stdout, matching the subprocess
// contract the embedding Python client drives over [binary -cmd NAME
// -data DIR -dim N] with the payload piped to stdin.
package cliapp

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/voxrig/vecengine/internal/engine"
	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

// App bundles the stores a CLI command needs. The HNSW index is only
// built for "retrieve", since the other two commands never search.
type App struct {
	Vecs storage.VectorStore
	Meta storage.MetadataStore
	Log  *zap.Logger
}

// ReadInput returns raw, rawInput if non-empty, else whatever JSON
// value is piped in on stdin (empty if stdin is a terminal).
func ReadInput(rawInput string) ([]byte, error) {
	if rawInput != "" {
		return []byte(rawInput), nil
	}

	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return nil, nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	var raw any
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode stdin json: %w", err)
	}
	return json.Marshal(raw)
}

type ingestMessageRequest struct {
	Namespace      string       `json:"namespace"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id,omitempty"`
	Role           string       `json:"role"`
	Content        string       `json:"content"`
	Vector         types.Vector `json:"vector"`
	TokenCount     int          `json:"token_count"`
	Source         string       `json:"source,omitempty"`
}

// IngestMessage saves one chat-style document+chunk and writes the
// assigned chunk id to w.
func (a *App) IngestMessage(w io.Writer, payload []byte) error {
	var req ingestMessageRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode ingest_message payload: %w", err)
	}

	msgID := req.MessageID
	if msgID == "" {
		msgID = fmt.Sprintf("msg-%d", time.Now().UTC().UnixNano())
	}
	docID := fmt.Sprintf("chat:%s:%s", req.ConversationID, msgID)

	source := req.Source
	if source == "" {
		source = "chat"
	}

	doc := types.Document{
		ID:        docID,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Metadata: types.Metadata{
			"namespace":       req.Namespace,
			"conversation_id": req.ConversationID,
			"message_id":      msgID,
			"role":            req.Role,
			"type":            "chat_message",
		},
	}
	if err := a.Meta.SaveDocument(doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	id, err := a.Vecs.Append(req.Vector)
	if err != nil {
		return fmt.Errorf("append vector: %w", err)
	}
	if err := a.Meta.SaveChunk(types.Chunk{ID: id, DocID: docID, Content: req.Content, TokenCount: req.TokenCount}); err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}

	return json.NewEncoder(w).Encode(map[string]any{"status": "ok", "id": id})
}

type ingestDocumentRequest struct {
	Namespace  string       `json:"namespace"`
	FilePath   string       `json:"file_path"`
	Content    string       `json:"content"`
	Vector     types.Vector `json:"vector"`
	TokenCount int          `json:"token_count"`
	StartLine  int          `json:"start_line"`
	EndLine    int          `json:"end_line"`
}

// IngestDocument saves one file-derived document+chunk and writes the
// assigned chunk id to w.
func (a *App) IngestDocument(w io.Writer, payload []byte) error {
	var req ingestDocumentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode ingest_document payload: %w", err)
	}

	docID := fmt.Sprintf("file:%s:%s:%d-%d", req.Namespace, req.FilePath, req.StartLine, req.EndLine)

	doc := types.Document{
		ID:        docID,
		Source:    req.FilePath,
		Timestamp: time.Now().UTC(),
		Metadata: types.Metadata{
			"namespace": req.Namespace,
			"file_path": req.FilePath,
			"type":      "code",
		},
	}
	if err := a.Meta.SaveDocument(doc); err != nil {
		return fmt.Errorf("save document: %w", err)
	}

	id, err := a.Vecs.Append(req.Vector)
	if err != nil {
		return fmt.Errorf("append vector: %w", err)
	}
	if err := a.Meta.SaveChunk(types.Chunk{
		ID:         id,
		DocID:      docID,
		Content:    req.Content,
		TokenCount: req.TokenCount,
		StartLine:  req.StartLine,
		EndLine:    req.EndLine,
	}); err != nil {
		return fmt.Errorf("save chunk: %w", err)
	}

	return json.NewEncoder(w).Encode(map[string]any{"status": "ok", "id": id})
}

type retrieveRequest struct {
	Namespace string       `json:"namespace"`
	Query     types.Vector `json:"query"`
	MaxTokens int          `json:"max_tokens"`
}

// Retrieve rebuilds the ANN graph from the vector store (the CLI
// process is short-lived and never carries a warm index across
// invocations), runs one Retrieve call, and writes the result to w.
func (a *App) Retrieve(w io.Writer, payload []byte) error {
	var req retrieveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode retrieve payload: %w", err)
	}

	idx, err := index.Replay(a.Vecs, a.Log, nil)
	if err != nil {
		return fmt.Errorf("replay index: %w", err)
	}
	eng := engine.NewEngine(idx, a.Vecs, a.Meta, a.Log)

	res, err := eng.Retrieve(req.Query, engine.RetrievalConfig{
		MaxTokens: req.MaxTokens,
		Namespace: req.Namespace,
	})
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	return json.NewEncoder(w).Encode(res)
}

// Run dispatches to the named command.
func (a *App) Run(w io.Writer, name string, payload []byte) error {
	switch name {
	case "ingest_message":
		return a.IngestMessage(w, payload)
	case "ingest_document":
		return a.IngestDocument(w, payload)
	case "retrieve":
		return a.Retrieve(w, payload)
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}

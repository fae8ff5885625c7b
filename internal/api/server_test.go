package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/voxrig/vecengine/internal/engine"
	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/observability"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	vecs, err := storage.NewMmapVectorStore(filepath.Join(t.TempDir(), "vectors.bin"), 3, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	meta, err := storage.NewBoltMetadataStore(filepath.Join(t.TempDir(), "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	idx := index.NewHnswIndex(vecs, nil, nil)
	eng := engine.NewEngine(idx, vecs, meta, nil)
	srv := NewServer(eng, idx, meta, vecs, nil, observability.NewTestMetrics(), rate.NewLimiter(rate.Inf, 1))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func newTestServerWithLimiter(t *testing.T, limiter *rate.Limiter) *httptest.Server {
	t.Helper()
	vecs, err := storage.NewMmapVectorStore(filepath.Join(t.TempDir(), "vectors.bin"), 3, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	meta, err := storage.NewBoltMetadataStore(filepath.Join(t.TempDir(), "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	idx := index.NewHnswIndex(vecs, nil, nil)
	eng := engine.NewEngine(idx, vecs, meta, nil)
	srv := NewServer(eng, idx, meta, vecs, nil, observability.NewTestMetrics(), limiter)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestHandleHealth_ReportsVecCount(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(0), body["vec_count"])
}

func TestHandleRetrieve_EmptyStoreReturnsEmptyResult(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/retrieve", RetrieveRequest{Query: types.Vector{1, 0, 0}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(0), body["total_tokens"])
}

func TestHandleIngestThenRetrieve_RoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	ingestResp := postJSON(t, ts.URL+"/ingest", IngestRequest{
		Document: types.Document{ID: "doc-1", Source: "test"},
		Chunks: []IngestChunk{
			{DocID: "doc-1", Vector: types.Vector{1, 0, 0}, Content: "hello", TokenCount: 5},
		},
	})
	defer ingestResp.Body.Close()
	require.Equal(t, http.StatusOK, ingestResp.StatusCode)

	retrieveResp := postJSON(t, ts.URL+"/retrieve", RetrieveRequest{Query: types.Vector{1, 0, 0}})
	defer retrieveResp.Body.Close()
	require.Equal(t, http.StatusOK, retrieveResp.StatusCode)

	var result engine.RetrievalResult
	require.NoError(t, json.NewDecoder(retrieveResp.Body).Decode(&result))
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "hello", result.Chunks[0].Chunk.Content)
}

func TestHandleIngestMessage_DefaultsMessageIDAndSource(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/ingest_message", IngestMessageRequest{
		Namespace:      "proj",
		ConversationID: "conv-1",
		Role:           "user",
		Content:        "hi",
		Vector:         types.Vector{1, 0, 0},
		TokenCount:     3,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["message_id"])
	assert.Equal(t, "ingested_message", body["status"])
}

func TestHandleIngestMessage_RejectsMissingNamespace(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/ingest_message", IngestMessageRequest{
		ConversationID: "conv-1",
		Role:           "user",
		Content:        "hi",
		Vector:         types.Vector{1, 0, 0},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleReset_ClearsIndexButNotStores(t *testing.T) {
	_, ts := newTestServer(t)

	ingestResp := postJSON(t, ts.URL+"/ingest", IngestRequest{
		Document: types.Document{ID: "doc-1"},
		Chunks:   []IngestChunk{{DocID: "doc-1", Vector: types.Vector{1, 0, 0}, TokenCount: 1}},
	})
	ingestResp.Body.Close()

	resetResp, err := http.Post(ts.URL+"/reset", "application/json", nil)
	require.NoError(t, err)
	defer resetResp.Body.Close()
	assert.Equal(t, http.StatusOK, resetResp.StatusCode)

	statsResp, err := http.Get(ts.URL + "/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, float64(1), stats["vec_count"])

	retrieveResp := postJSON(t, ts.URL+"/retrieve", RetrieveRequest{Query: types.Vector{1, 0, 0}})
	defer retrieveResp.Body.Close()
	var result engine.RetrievalResult
	require.NoError(t, json.NewDecoder(retrieveResp.Body).Decode(&result))
	assert.Empty(t, result.Chunks)
}

func TestHandleIngest_RateLimitedAfterBurstThenRecovers(t *testing.T) {
	ts := newTestServerWithLimiter(t, rate.NewLimiter(rate.Limit(100), 1))

	ingest := func() *http.Response {
		return postJSON(t, ts.URL+"/ingest", IngestRequest{
			Document: types.Document{ID: "doc-1"},
			Chunks:   []IngestChunk{{DocID: "doc-1", Vector: types.Vector{1, 0, 0}, TokenCount: 1}},
		})
	}

	first := ingest()
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second := ingest()
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)

	time.Sleep(20 * time.Millisecond)

	third := ingest()
	third.Body.Close()
	assert.Equal(t, http.StatusOK, third.StatusCode)
}

func TestHandleRetrieve_NeverRateLimited(t *testing.T) {
	ts := newTestServerWithLimiter(t, rate.NewLimiter(rate.Limit(0), 0))

	for i := 0; i < 5; i++ {
		resp := postJSON(t, ts.URL+"/retrieve", RetrieveRequest{Query: types.Vector{1, 0, 0}})
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestHandleMetrics_ServesPrometheusFormat(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

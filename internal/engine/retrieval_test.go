package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

type testFixture struct {
	engine *Engine
	vecs   *storage.MmapVectorStore
	meta   *storage.BoltMetadataStore
	idx    *index.HnswIndex
}

func newFixture(t *testing.T, dim int) *testFixture {
	t.Helper()
	vecs, err := storage.NewMmapVectorStore(filepath.Join(t.TempDir(), "vectors.bin"), dim, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vecs.Close() })

	meta, err := storage.NewBoltMetadataStore(filepath.Join(t.TempDir(), "meta.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	idx := index.NewHnswIndex(vecs, nil, nil)
	return &testFixture{
		engine: NewEngine(idx, vecs, meta, nil),
		vecs:   vecs,
		meta:   meta,
		idx:    idx,
	}
}

func (f *testFixture) ingest(t *testing.T, docID, namespace string, age time.Duration, chunks []types.Vector) {
	t.Helper()
	doc := types.Document{
		ID:        docID,
		Source:    "test",
		Timestamp: time.Now().UTC().Add(-age),
		Metadata:  types.Metadata{"namespace": namespace},
	}
	require.NoError(t, f.meta.SaveDocument(doc))

	for _, v := range chunks {
		id, err := f.vecs.Append(v)
		require.NoError(t, err)
		f.idx.Add(id, v)
		require.NoError(t, f.meta.SaveChunk(types.Chunk{
			ID:         id,
			DocID:      docID,
			Content:    "chunk content",
			TokenCount: 10,
		}))
	}
}

func TestRetrieve_EmptyIndexReturnsEmptyResult(t *testing.T) {
	f := newFixture(t, 3)

	result, err := f.engine.Retrieve(types.Vector{1, 0, 0}, RetrievalConfig{})
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Equal(t, 0, result.TotalTokens)
	assert.False(t, result.Truncated)
}

func TestRetrieve_RoundTripReturnsIngestedChunk(t *testing.T) {
	f := newFixture(t, 3)
	f.ingest(t, "doc-1", "proj", 0, []types.Vector{{1, 0, 0}})

	result, err := f.engine.Retrieve(types.Vector{1, 0, 0}, RetrievalConfig{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc-1", result.Chunks[0].Chunk.DocID)
}

func TestRetrieve_NamespaceIsolation(t *testing.T) {
	f := newFixture(t, 3)
	f.ingest(t, "doc-a", "alpha", 0, []types.Vector{{1, 0, 0}})
	f.ingest(t, "doc-b", "beta", 0, []types.Vector{{1, 0, 0}})

	result, err := f.engine.Retrieve(types.Vector{1, 0, 0}, RetrievalConfig{Namespace: "alpha"})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, "doc-a", result.Chunks[0].Chunk.DocID)
}

func TestRetrieve_TokenBudgetTruncates(t *testing.T) {
	f := newFixture(t, 3)
	f.ingest(t, "doc-1", "proj", 0, []types.Vector{{1, 0, 0}, {0.9, 0, 0}, {0.8, 0, 0}})

	result, err := f.engine.Retrieve(types.Vector{1, 0, 0}, RetrievalConfig{MaxTokens: 15})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, result.TotalTokens, 15)
}

func TestRetrieve_RecencyBreaksTieOnEqualSimilarity(t *testing.T) {
	f := newFixture(t, 3)
	f.ingest(t, "doc-old", "proj", 48*time.Hour, []types.Vector{{1, 0, 0}})
	f.ingest(t, "doc-new", "proj", 0, []types.Vector{{1, 0, 0}})

	result, err := f.engine.Retrieve(types.Vector{1, 0, 0}, RetrievalConfig{})
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, "doc-new", result.Chunks[0].Chunk.DocID)
	assert.Equal(t, "doc-old", result.Chunks[1].Chunk.DocID)
}

func TestRetrieve_EmptyQueryRejected(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.engine.Retrieve(types.Vector{}, RetrievalConfig{})
	require.Error(t, err)
}

func TestRetrievalConfig_WithDefaults(t *testing.T) {
	cfg := RetrievalConfig{}.WithDefaults()
	assert.Equal(t, DefaultMaxTokens, cfg.MaxTokens)
	assert.Equal(t, DefaultTopKCandidates, cfg.TopKCandidates)
	assert.Equal(t, float32(DefaultSimilarityW), cfg.SimilarityWeight)
	assert.Equal(t, float32(DefaultRecencyW), cfg.RecencyWeight)

	custom := RetrievalConfig{SimilarityWeight: 0.5, RecencyWeight: 0.5}.WithDefaults()
	assert.Equal(t, float32(0.5), custom.SimilarityWeight)
	assert.Equal(t, float32(0.5), custom.RecencyWeight)
}

package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrig/vecengine/internal/errs"
	"github.com/voxrig/vecengine/internal/types"
)

func TestBoltMetadataStore_DocumentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := NewBoltMetadataStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	doc := types.Document{
		ID:        "doc-A",
		Source:    "chat",
		Timestamp: time.Now().UTC(),
		Metadata:  types.Metadata{"namespace": "proj1"},
	}
	require.NoError(t, store.SaveDocument(doc))

	got, err := store.GetDocument("doc-A")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	ns, ok := got.Metadata.Namespace()
	assert.True(t, ok)
	assert.Equal(t, "proj1", ns)
}

func TestBoltMetadataStore_DocumentNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := NewBoltMetadataStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetDocument("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrDocumentNotFound))
}

func TestBoltMetadataStore_ChunkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := NewBoltMetadataStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	chunk := types.Chunk{ID: 42, DocID: "doc-A", Content: "hello", TokenCount: 10}
	require.NoError(t, store.SaveChunk(chunk))

	got, err := store.GetChunk(42)
	require.NoError(t, err)
	assert.Equal(t, chunk.DocID, got.DocID)
	assert.Equal(t, chunk.Content, got.Content)
}

func TestBoltMetadataStore_ChunkNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := NewBoltMetadataStore(path, nil)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetChunk(999)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrChunkNotFound))
}

package storage

import "github.com/voxrig/vecengine/internal/types"

// VectorStore is the append-only, O(1)-random-access store of
// equi-dimensional float32 vectors described in spec §4.1.
type VectorStore interface {
	// Append adds a vector to the store and returns its id, which equals
	// the pre-append count.
	Append(vector types.Vector) (uint64, error)

	// Get retrieves the vector at id. Out-of-range ids fail.
	Get(id uint64) (types.Vector, error)

	// Count returns the number of vectors currently valid.
	Count() uint64

	// Close flushes and closes the store.
	Close() error
}

// MetadataStore is the durable key→blob store of documents and chunks
// described in spec §4.2.
type MetadataStore interface {
	SaveDocument(doc types.Document) error
	GetDocument(id string) (*types.Document, error)
	SaveChunk(chunk types.Chunk) error
	GetChunk(id uint64) (*types.Chunk, error)
	Close() error
}

package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/voxrig/vecengine/internal/errs"
	"github.com/voxrig/vecengine/internal/types"
)

var (
	bucketDocs   = []byte("documents")
	bucketChunks = []byte("chunks")
)

// BoltMetadataStore implements MetadataStore over two bbolt buckets,
// documents and chunks, keyed per spec §4.2. Each Save commits before
// returning; bbolt serializes writers per-database, which already
// satisfies the "per-key writes serialized, independent keys may
// proceed concurrently" requirement for reads via its MVCC readers.
type BoltMetadataStore struct {
	db  *bbolt.DB
	log *zap.Logger
}

func NewBoltMetadataStore(path string, log *zap.Logger) (*BoltMetadataStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDocs); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketChunks); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init metadata buckets: %w", err)
	}

	log.Info("metadata store opened", zap.String("file", path))
	return &BoltMetadataStore{db: db, log: log.With(zap.String("component", "metadata_store"))}, nil
}

func (s *BoltMetadataStore) SaveDocument(doc types.Document) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDocs).Put([]byte(doc.ID), data)
	})
}

func (s *BoltMetadataStore) GetDocument(id string) (*types.Document, error) {
	var doc types.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(id))
		if data == nil {
			return errs.NewDocumentNotFound(id)
		}
		return json.Unmarshal(data, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *BoltMetadataStore) SaveChunk(chunk types.Chunk) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketChunks).Put(chunkKey(chunk.ID), data)
	})
}

func (s *BoltMetadataStore) GetChunk(id uint64) (*types.Chunk, error) {
	var chunk types.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get(chunkKey(id))
		if data == nil {
			return errs.NewChunkNotFound(id)
		}
		return json.Unmarshal(data, &chunk)
	})
	if err != nil {
		return nil, err
	}
	return &chunk, nil
}

func (s *BoltMetadataStore) Close() error {
	s.log.Info("metadata store closed")
	return s.db.Close()
}

// Stats exposes the underlying bbolt stats, for observability.
func (s *BoltMetadataStore) Stats() bbolt.Stats {
	return s.db.Stats()
}

func chunkKey(id uint64) []byte {
	return []byte(strconv.FormatUint(id, 10))
}

// Package engine combines ANN search, metadata lookup, namespace
// filtering, combined similarity+recency scoring, and token-budget
// packing into the single Retrieve operation described in spec §4.4.
package engine

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/voxrig/vecengine/internal/errs"
	"github.com/voxrig/vecengine/internal/index"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

// Reference defaults, applied by RetrievalConfig.WithDefaults.
const (
	DefaultMaxTokens      = 2000
	DefaultTopKCandidates = 50
	DefaultSimilarityW    = 0.8
	DefaultRecencyW       = 0.2

	// defaultRecencyScore is used when a candidate's document is
	// missing and no namespace filter is active.
	defaultRecencyScore = 0.5
)

// RetrievalConfig holds the runtime-tunable parameters of one Retrieve
// call.
type RetrievalConfig struct {
	MaxTokens        int
	SimilarityWeight float32
	RecencyWeight    float32
	TopKCandidates   int // how many to fetch from the ANN index before re-ranking

	// Namespace, if set, restricts results to documents whose
	// Metadata["namespace"] equals this value.
	Namespace string
}

// WithDefaults returns a copy of cfg with the reference defaults
// applied to any unset field, so every caller (HTTP, CLI, or a future
// embedder) gets the same defaulting behavior in one place instead of
// duplicated per-entrypoint constants.
func (cfg RetrievalConfig) WithDefaults() RetrievalConfig {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.TopKCandidates <= 0 {
		cfg.TopKCandidates = DefaultTopKCandidates
	}
	if cfg.SimilarityWeight == 0 && cfg.RecencyWeight == 0 {
		cfg.SimilarityWeight = DefaultSimilarityW
		cfg.RecencyWeight = DefaultRecencyW
	}
	return cfg
}

// RetrievalResult is the packed, scored, sorted set of admitted chunks.
type RetrievalResult struct {
	Chunks      []ScoredChunk `json:"chunks"`
	TotalTokens int           `json:"total_tokens"`
	Truncated   bool          `json:"truncated"`
}

// ScoredChunk pairs a chunk with its final (similarity+recency
// blended) score and its standalone recency score. Similarity carries
// the blended finalScore rather than the raw distance-derived
// similarity; the field name is kept as-is for wire compatibility.
type ScoredChunk struct {
	Chunk      types.Chunk `json:"chunk"`
	Similarity float32     `json:"similarity"`
	Recency    float32     `json:"recency"`
}

// Engine wires the ANN index and the two stores together for Retrieve.
type Engine struct {
	index    *index.HnswIndex
	vectors  storage.VectorStore
	metadata storage.MetadataStore
	log      *zap.Logger
}

func NewEngine(idx *index.HnswIndex, vecs storage.VectorStore, meta storage.MetadataStore, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		index:    idx,
		vectors:  vecs,
		metadata: meta,
		log:      log.With(zap.String("component", "engine")),
	}
}

// Retrieve gathers ANN candidates, fetches their chunk/document
// metadata, filters by namespace, scores by blended similarity and
// recency, sorts descending, and greedily packs chunks under
// config.MaxTokens.
func (e *Engine) Retrieve(query types.Vector, config RetrievalConfig) (*RetrievalResult, error) {
	if len(query) == 0 {
		return nil, errs.NewInvalidInput("query", "must not be empty")
	}
	config = config.WithDefaults()

	ids, dists := e.index.Search(query, config.TopKCandidates)

	candidates := make([]ScoredChunk, 0, len(ids))

	for i, id := range ids {
		chunk, err := e.metadata.GetChunk(id)
		if err != nil {
			if errors.Is(err, errs.ErrChunkNotFound) {
				continue
			}
			return nil, err
		}

		doc, docErr := e.metadata.GetDocument(chunk.DocID)
		if config.Namespace != "" {
			if docErr != nil {
				continue
			}
			ns, ok := doc.Metadata.Namespace()
			if !ok || ns != config.Namespace {
				continue
			}
		}

		simScore := float32(1.0 / (1.0 + float64(dists[i])))
		recencyScore := float32(defaultRecencyScore)
		if docErr == nil {
			recencyScore = calculateRecency(doc.Timestamp)
		}

		finalScore := simScore*config.SimilarityWeight + recencyScore*config.RecencyWeight

		candidates = append(candidates, ScoredChunk{
			Chunk:      *chunk,
			Similarity: finalScore,
			Recency:    recencyScore,
		})
	}

	// Stable sort by id first so ties in the score sort below break on
	// ascending chunk id.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	result := &RetrievalResult{
		Chunks: []ScoredChunk{},
	}

	for _, cand := range candidates {
		if result.TotalTokens+cand.Chunk.TokenCount > config.MaxTokens {
			result.Truncated = true
			continue
		}
		result.Chunks = append(result.Chunks, cand)
		result.TotalTokens += cand.Chunk.TokenCount
	}

	return result, nil
}

func calculateRecency(t time.Time) float32 {
	hours := time.Since(t).Hours()
	return float32(1.0 / (1.0 + hours/24.0))
}

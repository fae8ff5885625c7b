// Package index implements the in-memory HNSW approximate-nearest-
// neighbor graph described in spec §4.3. Graph structure lives here as
// integer ids and per-level adjacency lists; the vectors themselves are
// read from the VectorStore on every distance computation, so the
// graph is movable, compact, and free of pointer cycles (spec §9).
package index

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxrig/vecengine/internal/observability"
	"github.com/voxrig/vecengine/internal/storage"
	"github.com/voxrig/vecengine/internal/types"
)

// Fixed HNSW parameters per spec §4.3.
const (
	MaxLevel       = 16
	M              = 16 // neighbors per layer above 0
	M0             = 32 // neighbors at layer 0
	EfConstruction = 40
	EfSearch       = 50

	// levelRetentionProbability is the geometric-distribution parameter
	// used to draw a node's top level.
	levelRetentionProbability = 0.5
)

// Node is one vertex of the graph: an id, its top level, and a
// per-level adjacency list.
type Node struct {
	ID        uint64
	Level     int
	Neighbors [][]uint64 // [level][neighbor ids]
}

// HnswIndex is the ANN graph keyed by vector-store id. It is rebuilt
// from the vector store on every process start (spec §4.3 "startup
// replay") and never persisted.
type HnswIndex struct {
	nodes           map[uint64]*Node
	vecs            storage.VectorStore
	entryPointID    uint64
	maxLevel        int
	currentMaxLevel int
	mu              sync.RWMutex

	log     *zap.Logger
	metrics *observability.Metrics
}

// NewHnswIndex builds an empty graph backed by vecs as the source of
// truth for distance computations.
func NewHnswIndex(vecs storage.VectorStore, log *zap.Logger, m *observability.Metrics) *HnswIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &HnswIndex{
		nodes:           make(map[uint64]*Node),
		vecs:            vecs,
		maxLevel:        MaxLevel,
		currentMaxLevel: -1,
		log:             log.With(zap.String("component", "hnsw_index")),
		metrics:         m,
	}
}

// Reset drops all nodes, the entry point, and the max level. The
// vector store backing the index is untouched (spec §4.3).
func (idx *HnswIndex) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.nodes = make(map[uint64]*Node)
	idx.entryPointID = 0
	idx.currentMaxLevel = -1
	idx.log.Warn("index reset: graph cleared, vector store untouched; retrieval returns nothing until the next startup replay")
}

// Add inserts id/vector into the graph following the construction
// procedure in spec §4.3.
func (idx *HnswIndex) Add(id uint64, vector types.Vector) {
	start := time.Now()
	defer func() {
		if idx.metrics != nil {
			idx.metrics.HNSWAddDuration.Observe(time.Since(start).Seconds())
		}
	}()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	level := idx.randomLevel()
	node := &Node{
		ID:        id,
		Level:     level,
		Neighbors: make([][]uint64, level+1),
	}
	idx.nodes[id] = node

	if idx.currentMaxLevel == -1 {
		idx.entryPointID = id
		idx.currentMaxLevel = level
		return
	}

	currEntryPoint := idx.entryPointID

	// Descend from the top layer to find a good entry point at this
	// node's level, using single-best greedy search at each layer.
	for l := idx.currentMaxLevel; l > level; l-- {
		epVec, _ := idx.vecs.Get(currEntryPoint)
		currEntryPoint, _ = idx.searchLayer(vector, currEntryPoint, epVec, l)
	}

	// Insert into layers top-down with a beam search of width EfConstruction.
	for l := min(level, idx.currentMaxLevel); l >= 0; l-- {
		nearestIDs, _ := idx.searchLayerK(vector, currEntryPoint, EfConstruction, l)

		m := M
		if l == 0 {
			m = M0
		}
		if len(nearestIDs) > m {
			nearestIDs = nearestIDs[:m]
		}

		node.Neighbors[l] = nearestIDs
		for _, neighborID := range nearestIDs {
			neighbor := idx.nodes[neighborID]
			neighbor.Neighbors[l] = append(neighbor.Neighbors[l], id)
		}

		if len(nearestIDs) > 0 {
			currEntryPoint = nearestIDs[0]
		}
	}

	if level > idx.currentMaxLevel {
		idx.entryPointID = id
		idx.currentMaxLevel = level
	}
}

// Search returns the min(k, len(result)) nearest ids to query, with
// their distances, in ascending-distance order.
func (idx *HnswIndex) Search(query types.Vector, k int) ([]uint64, []float32) {
	start := time.Now()
	defer func() {
		if idx.metrics != nil {
			idx.metrics.HNSWSearchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.currentMaxLevel == -1 {
		return nil, nil
	}

	currEP := idx.entryPointID
	for l := idx.currentMaxLevel; l > 0; l-- {
		epVec, _ := idx.vecs.Get(currEP)
		currEP, _ = idx.searchLayer(query, currEP, epVec, l)
	}

	ids, dists := idx.searchLayerK(query, currEP, EfSearch, 0)

	count := k
	if len(ids) < k {
		count = len(ids)
	}
	return ids[:count], dists[:count]
}

// searchLayer performs a single-best greedy search at level, starting
// from entryPoint.
func (idx *HnswIndex) searchLayer(query types.Vector, entryPoint uint64, epVec types.Vector, level int) (uint64, float32) {
	curr := entryPoint
	currDist := euclideanDistance(query, epVec)

	changed := true
	for changed {
		changed = false
		node := idx.nodes[curr]
		for _, neighborID := range node.Neighbors[level] {
			nVec, _ := idx.vecs.Get(neighborID)
			d := euclideanDistance(query, nVec)
			if d < currDist {
				currDist = d
				curr = neighborID
				changed = true
			}
		}
	}
	return curr, currDist
}

type neighborResult struct {
	id   uint64
	dist float32
}

// searchLayerK performs a beam search of width k at level, starting
// from entryPoint.
func (idx *HnswIndex) searchLayerK(query types.Vector, entryPoint uint64, k int, level int) ([]uint64, []float32) {
	epVec, _ := idx.vecs.Get(entryPoint)
	visited := map[uint64]bool{entryPoint: true}
	candidates := []neighborResult{{entryPoint, euclideanDistance(query, epVec)}}
	results := []neighborResult{candidates[0]}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= k && c.dist > results[len(results)-1].dist {
			continue
		}

		node := idx.nodes[c.id]
		for _, neighborID := range node.Neighbors[level] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			nVec, _ := idx.vecs.Get(neighborID)
			d := euclideanDistance(query, nVec)

			if len(results) < k || d < results[len(results)-1].dist {
				res := neighborResult{neighborID, d}
				candidates = append(candidates, res)
				results = append(results, res)

				sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
				if len(results) > k {
					results = results[:k]
				}
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
			}
		}
	}

	ids := make([]uint64, len(results))
	dists := make([]float32, len(results))
	for i := range results {
		ids[i] = results[i].id
		dists[i] = results[i].dist
	}
	return ids, dists
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (idx *HnswIndex) randomLevel() int {
	lvl := 0
	for rand.Float64() < levelRetentionProbability && lvl < idx.maxLevel {
		lvl++
	}
	return lvl
}

func euclideanDistance(a, b types.Vector) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return float32(math.Sqrt(float64(sum)))
}

// Replay rebuilds the graph from the vector store in store order, per
// spec §4.3 "startup replay": Add(i, vectors.Get(i)) for every i in
// [0, count).
func Replay(vecs storage.VectorStore, log *zap.Logger, m *observability.Metrics) (*HnswIndex, error) {
	idx := NewHnswIndex(vecs, log, m)
	count := vecs.Count()
	for i := uint64(0); i < count; i++ {
		v, err := vecs.Get(i)
		if err != nil {
			return nil, err
		}
		idx.Add(i, v)
	}
	idx.log.Info("index replay complete", zap.Uint64("count", count))
	return idx, nil
}

package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/voxrig/vecengine/internal/errs"
	"github.com/voxrig/vecengine/internal/observability"
	"github.com/voxrig/vecengine/internal/types"
)

const (
	vectorSize = 4 // float32 is 4 bytes

	// File header (v1):
	//   0..7   magic "VOXVEC01"
	//   8..15  dim (uint64)
	//   16..23 count (uint64)
	HeaderSize = 24

	// initialVectorCapacity is how many vector slots a freshly created
	// file is pre-grown to hold, per spec §4.1.
	initialVectorCapacity = 1024
)

var fileMagic = [8]byte{'V', 'O', 'X', 'V', 'E', 'C', '0', '1'}

// MmapVectorStore implements VectorStore over a grow-on-demand
// memory-mapped file with the header layout above. Reads take the
// read-write lock shared, appends and resizes take it exclusive; a
// resize always unmaps before truncating and remaps after, on every
// platform (§4.1, §9 "reader-safe remap").
type MmapVectorStore struct {
	filename string
	file     *os.File
	mu       sync.RWMutex
	mapped   []byte
	dim      int
	count    uint64

	log     *zap.Logger
	metrics *observability.Metrics

	// platform-specific mapping handles, see mmap_unix.go / mmap_windows.go
	mapHandle  uintptr
	viewHandle uintptr
}

// NewMmapVectorStore opens (creating if necessary) the vector store at
// filename, validating or initializing its header against dim.
func NewMmapVectorStore(filename string, dim int, log *zap.Logger, m *observability.Metrics) (*MmapVectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", dim)
	}
	if log == nil {
		log = zap.NewNop()
	}

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	store := &MmapVectorStore{
		filename: filename,
		file:     f,
		dim:      dim,
		log:      log.With(zap.String("component", "vector_store")),
		metrics:  m,
	}

	if info.Size() == 0 {
		if err := store.initNew(); err != nil {
			_ = f.Close()
			return nil, err
		}
	} else if err := store.remap(); err != nil {
		_ = f.Close()
		return nil, err
	}

	onDiskDim, onDiskCount, err := store.readAndValidateHeader()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if int(onDiskDim) != store.dim {
		_ = store.Close()
		return nil, fmt.Errorf("%w: file dim=%d, requested dim=%d (delete %s to reset)",
			errs.ErrDimensionMismatch, onDiskDim, store.dim, filename)
	}
	store.count = onDiskCount

	if store.metrics != nil {
		store.metrics.VecCount.Set(float64(store.count))
	}
	store.log.Info("vector store opened", zap.String("file", filename), zap.Int("dim", dim), zap.Uint64("count", store.count))
	return store, nil
}

func (s *MmapVectorStore) initNew() error {
	initialSize := int64(HeaderSize + initialVectorCapacity*s.dim*vectorSize)
	if err := s.resize(initialSize); err != nil {
		return err
	}
	if err := s.remap(); err != nil {
		return err
	}
	s.writeHeader(uint64(s.dim), 0)
	s.count = 0
	return nil
}

func (s *MmapVectorStore) readAndValidateHeader() (dim uint64, count uint64, err error) {
	if len(s.mapped) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: file too small for header: %d < %d", errs.ErrBadHeader, len(s.mapped), HeaderSize)
	}

	var mg [8]byte
	copy(mg[:], s.mapped[:8])
	if mg != fileMagic {
		return 0, 0, fmt.Errorf("%w: magic mismatch (delete %s to reset)", errs.ErrBadHeader, s.filename)
	}

	dim = binary.LittleEndian.Uint64(s.mapped[8:16])
	count = binary.LittleEndian.Uint64(s.mapped[16:24])
	if dim == 0 {
		return 0, 0, fmt.Errorf("%w: dim=0 (delete %s to reset)", errs.ErrBadHeader, s.filename)
	}
	return dim, count, nil
}

func (s *MmapVectorStore) writeHeader(dim uint64, count uint64) {
	copy(s.mapped[:8], fileMagic[:])
	binary.LittleEndian.PutUint64(s.mapped[8:16], dim)
	binary.LittleEndian.PutUint64(s.mapped[16:24], count)
}

func (s *MmapVectorStore) resize(newSize int64) error {
	if err := s.munmap(); err != nil {
		return err
	}
	return s.file.Truncate(newSize)
}

// remap always unmaps any existing view first: NewMmapVectorStore calls
// it without a prior munmap, and Append calls it after resize already
// unmapped. Re-mapping without unmapping leaks handles and, on Windows,
// can leave a view that doesn't cover newly grown bytes.
func (s *MmapVectorStore) remap() error {
	if err := s.munmap(); err != nil {
		return err
	}

	fi, err := s.file.Stat()
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return nil
	}
	return s.mmap(fi.Size())
}

// Append writes vector at the next free slot, growing and remapping the
// file first if it doesn't fit. The returned id is the pre-append count.
func (s *MmapVectorStore) Append(vector types.Vector) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(vector) != s.dim {
		if s.metrics != nil {
			s.metrics.VecAppendErrors.Inc()
		}
		return 0, errs.NewDimensionError(s.dim, len(vector))
	}

	requiredSize := int64(HeaderSize + (int(s.count)+1)*s.dim*vectorSize)
	if requiredSize > int64(len(s.mapped)) {
		newSize := int64(len(s.mapped)) + int64(len(s.mapped))/2
		if newSize < requiredSize {
			newSize = requiredSize
		}
		if err := s.resize(newSize); err != nil {
			if s.metrics != nil {
				s.metrics.VecAppendErrors.Inc()
			}
			return 0, fmt.Errorf("resize vector file: %w", err)
		}
		if err := s.remap(); err != nil {
			if s.metrics != nil {
				s.metrics.VecAppendErrors.Inc()
			}
			return 0, fmt.Errorf("remap vector file: %w", err)
		}
		// re-stamp the header on the new mapping; the file already holds
		// it, so this rewrites the same bytes.
		s.writeHeader(uint64(s.dim), s.count)
	}

	offset := HeaderSize + int(s.count)*s.dim*vectorSize
	for i, v := range vector {
		bits := *(*uint32)(unsafe.Pointer(&v))
		binary.LittleEndian.PutUint32(s.mapped[offset+i*4:], bits)
	}

	s.count++
	s.writeHeader(uint64(s.dim), s.count)

	if s.metrics != nil {
		s.metrics.VecCount.Set(float64(s.count))
	}
	return s.count - 1, nil
}

// Get copies out the dim float32 values at id under the shared lock.
// Callers must never retain a slice into the mapped region itself.
func (s *MmapVectorStore) Get(id uint64) (types.Vector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id >= s.count {
		return nil, fmt.Errorf("%w: %d >= %d", errs.ErrVectorOutOfRange, id, s.count)
	}

	offset := HeaderSize + int(id)*s.dim*vectorSize
	vec := make(types.Vector, s.dim)
	for i := 0; i < s.dim; i++ {
		bits := binary.LittleEndian.Uint32(s.mapped[offset+i*4:])
		vec[i] = *(*float32)(unsafe.Pointer(&bits))
	}
	return vec, nil
}

func (s *MmapVectorStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

func (s *MmapVectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.munmap()
	err := s.file.Close()
	s.log.Info("vector store closed", zap.Uint64("count", s.count))
	return err
}

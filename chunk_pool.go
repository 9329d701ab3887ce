package syncutil

import (
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

type ChunkPoolConfig struct {
	// Number of free chunks for each chunk size the pool can hold before starting to release memory.
	// A value <= 0 keeps every returned chunk.
	FreeThreshold int
}

// ChunkPool is a thread-safe pool of fixed-size memory chunks for buffers.
//
// Chunk sizes that are a multiple of the OS page size are allocated off-heap with an
// anonymous mmap, which keeps large buffers out of the GOGC scan set. Other sizes are
// allocated on the Go heap. Free chunks are kept in per-size free lists.
type ChunkPool struct {
	mu       sync.Mutex
	free     map[int][][]byte // Free chunks by chunk size.
	mapped   map[*byte]bool   // Chunks allocated with mmap, by first byte.
	pageSize int

	mmap   func(size int) ([]byte, error)
	munmap func(b []byte) error

	// freeThreshold represents the number of free chunks for each size the pool
	// can hold before starting to release memory.
	freeThreshold int
}

// NewChunkPool creates a new, empty chunk pool.
func NewChunkPool(config ChunkPoolConfig) *ChunkPool {
	return &ChunkPool{
		free:          make(map[int][][]byte),
		mapped:        make(map[*byte]bool),
		pageSize:      os.Getpagesize(),
		mmap:          mmapAnon,
		munmap:        unix.Munmap,
		freeThreshold: config.FreeThreshold,
	}
}

func DefaultChunkPoolConfig() ChunkPoolConfig {
	return ChunkPoolConfig{
		FreeThreshold: 1024, // 64MB of 64K chunks.
	}
}

// isMapped reports whether chunks of the given size are mmap'd.
func (p *ChunkPool) isMapped(chunkSize int) bool {
	return chunkSize%p.pageSize == 0
}

// Get retrieves a chunk of the specified size, allocating one if none are free.
// It panics if chunkSize is not positive.
func (p *ChunkPool) Get(chunkSize int) []byte {
	if chunkSize <= 0 {
		panic("syncutil: invalid chunk size requested")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free[chunkSize]) == 0 {
		p.alloc(chunkSize, 1)
	}
	freeList := p.free[chunkSize]
	n := len(freeList) - 1
	c := freeList[n]
	freeList[n] = nil
	p.free[chunkSize] = freeList[:n]
	return c
}

// Put returns a chunk to the pool.
func (p *ChunkPool) Put(c []byte) {
	if cap(c) == 0 {
		return
	}

	size := cap(c)
	c = c[:size] // Ensure the chunk is reset to its full capacity before returning.

	var chunksToRelease, chunksToUnmap [][]byte
	p.mu.Lock()
	p.free[size] = append(p.free[size], c)
	p.free[size], chunksToRelease = releaseChunks(p.free[size], p.freeThreshold)
	for _, chunk := range chunksToRelease {
		// Heap chunks from a failed mmap are left to the garbage collector.
		if p.mapped[&chunk[0]] {
			delete(p.mapped, &chunk[0])
			chunksToUnmap = append(chunksToUnmap, chunk)
		}
	}
	p.mu.Unlock()

	// Perform unmap outside of the lock to avoid blocking other operations.
	for _, chunk := range chunksToUnmap {
		p.unmap(chunk)
	}
}

// Allocate ensures that at least numChunks are available in the pool for the
// specified size. This is useful for pre-warming a pool to a specific capacity.
func (p *ChunkPool) Allocate(chunkSize int, numChunks int) {
	if numChunks <= 0 || chunkSize <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := numChunks - len(p.free[chunkSize]); n > 0 {
		p.alloc(chunkSize, n)
	}
}

// unmap releases the memory of a chunk back to the operating system.
func (p *ChunkPool) unmap(c []byte) {
	if err := p.munmap(c); err != nil {
		slog.Error("failed to unmap chunk", "error", err, "size", len(c))
	}
}

// alloc allocates the specified number of free chunks and size.
// It assumes the caller holds the mutex.
func (p *ChunkPool) alloc(chunkSize int, numChunks int) {
	for range numChunks {
		if !p.isMapped(chunkSize) {
			p.free[chunkSize] = append(p.free[chunkSize], make([]byte, chunkSize))
			continue
		}

		// Use unix.Mmap to allocate virtual memory that is not part the Go heap.
		// Each chunk is its own mapping so that it can be unmapped on its own.
		data, err := p.mmap(chunkSize)
		if err != nil {
			slog.Warn("mmap failed, falling back to heap allocation", "error", err, "size", chunkSize)
			data = make([]byte, chunkSize)
		} else {
			p.mapped[&data[0]] = true
		}
		p.free[chunkSize] = append(p.free[chunkSize], data)
	}
}

func mmapAnon(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
}

// numFree returns the number of available chunks for a given chunk size.
// It is primarily intended as helper method in tests.
func (p *ChunkPool) numFree(size int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[size])
}

// releaseChunks is a generic helper that trims the free list if it exceeds the given threshold.
// It returns the updated list and a list of any chunks that were removed and should be released.
func releaseChunks[P any](freeList []P, threshold int) (newList []P, toRelease []P) {
	if threshold > 0 && len(freeList) > threshold {
		// Release half of the free chunks to prevent thrashing around the threshold.
		freeCount := len(freeList) / 2
		toRelease = freeList[:freeCount:freeCount]
		newList = append([]P(nil), freeList[freeCount:]...)
		return newList, toRelease
	}
	return freeList, nil
}

package syncutil

import (
	"errors"
	"os"
	"testing"
)

var TestChunkPoolConfig = ChunkPoolConfig{
	FreeThreshold: 10,
}

func TestChunkPools(t *testing.T) {
	pageSize := os.Getpagesize()
	sizes := []int{MinChunkSize, 100, pageSize, 2 * pageSize}

	t.Run("Get and Put single chunk for each chunk size", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		for _, size := range sizes {
			if numFree := pool.numFree(size); numFree != 0 {
				t.Fatalf("expected new pool for size %d to be empty, got %d chunks", size, numFree)
			}
		}

		for _, size := range sizes {
			chunk := pool.Get(size)
			if chunk == nil {
				t.Fatalf("expected to get a valid chunk for size %d, got nil", size)
			}
			if len(chunk) != size || cap(chunk) != size {
				t.Errorf("expected for size %d: len/cap %d, got len=%d, cap=%d", size, size, len(chunk), cap(chunk))
			}
			chunk[0], chunk[size-1] = 1, 2 // Chunk memory must be writable.

			if numFree := pool.numFree(size); numFree != 0 {
				t.Errorf("expected for size %d: no free chunks after Get, got %d", size, numFree)
			}
			pool.Put(chunk)
		}

		for _, size := range sizes {
			if numFree := pool.numFree(size); numFree != 1 {
				t.Fatalf("expected for size %d: 1 free chunk after Put, got %d", size, numFree)
			}
		}
	})

	t.Run("Get reuses free chunks", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		chunk := pool.Get(pageSize)
		chunk[0] = 42
		pool.Put(chunk[:1]) // Put restores the full capacity.
		again := pool.Get(pageSize)
		if len(again) != pageSize || again[0] != 42 {
			t.Errorf("expected the returned chunk to be reused")
		}
		pool.Put(again)
	})

	t.Run("Allocate pre-warms the pool", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		pool.Allocate(pageSize, 4)
		if numFree := pool.numFree(pageSize); numFree != 4 {
			t.Fatalf("expected 4 free chunks, got %d", numFree)
		}
		pool.Allocate(pageSize, 2) // Already satisfied.
		if numFree := pool.numFree(pageSize); numFree != 4 {
			t.Fatalf("expected 4 free chunks, got %d", numFree)
		}
		pool.Allocate(pageSize, 0)
		pool.Allocate(0, 4)
		if numFree := pool.numFree(0); numFree != 0 {
			t.Fatalf("expected no chunks for size 0, got %d", numFree)
		}
	})

	t.Run("Free list is trimmed above threshold", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		for _, size := range []int{100, pageSize} {
			chunks := make([][]byte, TestChunkPoolConfig.FreeThreshold+1)
			for i := range chunks {
				chunks[i] = pool.Get(size)
			}
			for _, c := range chunks {
				pool.Put(c)
			}
			expected := (TestChunkPoolConfig.FreeThreshold + 1) - (TestChunkPoolConfig.FreeThreshold+1)/2
			if numFree := pool.numFree(size); numFree != expected {
				t.Errorf("expected for size %d: %d free chunks after trim, got %d", size, expected, numFree)
			}
		}
	})

	t.Run("Heap fallback chunks are never unmapped", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		pool.mmap = func(int) ([]byte, error) { return nil, errors.New("out of address space") }
		var unmapped int
		pool.munmap = func([]byte) error {
			unmapped++
			return nil
		}

		chunks := make([][]byte, TestChunkPoolConfig.FreeThreshold+1)
		for i := range chunks {
			chunks[i] = pool.Get(pageSize)
			if len(chunks[i]) != pageSize {
				t.Fatalf("expected a heap chunk of size %d, got %d", pageSize, len(chunks[i]))
			}
		}
		for _, c := range chunks {
			pool.Put(c)
		}
		if numFree := pool.numFree(pageSize); numFree > TestChunkPoolConfig.FreeThreshold {
			t.Fatalf("expected the free list to be trimmed, got %d chunks", numFree)
		}
		if unmapped != 0 {
			t.Errorf("expected no heap chunk to be unmapped, got %d unmap calls", unmapped)
		}
	})

	t.Run("Trimmed mapped chunks are unmapped once", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		munmap := pool.munmap
		var unmapped int
		pool.munmap = func(b []byte) error {
			unmapped++
			return munmap(b)
		}

		chunks := make([][]byte, TestChunkPoolConfig.FreeThreshold+1)
		for i := range chunks {
			chunks[i] = pool.Get(pageSize)
		}
		for _, c := range chunks {
			pool.Put(c)
		}
		expected := (TestChunkPoolConfig.FreeThreshold + 1) / 2
		if unmapped != expected {
			t.Errorf("expected %d unmap calls, got %d", expected, unmapped)
		}
		if n := len(pool.mapped); n != len(chunks)-expected {
			t.Errorf("expected %d tracked mappings, got %d", len(chunks)-expected, n)
		}
	})

	t.Run("Put nil does not panic or add to pool", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		pool.Put(nil) // This should be a no-op and should not cause a panic.
		for _, size := range sizes {
			if numFree := pool.numFree(size); numFree != 0 {
				t.Fatalf("expected new pool for size %d to be empty, got %d chunks", size, numFree)
			}
		}
	})

	t.Run("Get invalid size panics", func(t *testing.T) {
		pool := NewChunkPool(TestChunkPoolConfig)
		defer func() {
			if recover() == nil {
				t.Error("expected Get(0) to panic")
			}
		}()
		pool.Get(0)
	})
}

func TestReleaseChunks(t *testing.T) {
	list := []int{1, 2, 3, 4, 5}
	kept, released := releaseChunks(list, 4)
	if len(kept) != 3 || len(released) != 2 {
		t.Fatalf("expected 3 kept and 2 released, got %d and %d", len(kept), len(released))
	}
	if released[0] != 1 || kept[0] != 3 {
		t.Errorf("expected the oldest chunks to be released, got kept=%v released=%v", kept, released)
	}

	kept, released = releaseChunks(list, 0)
	if len(kept) != 5 || released != nil {
		t.Errorf("expected a zero threshold to keep every chunk")
	}
}

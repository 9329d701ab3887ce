package syncutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
)

func TestNewBuffer(t *testing.T) {
	testCases := []struct {
		name      string
		chunkSize int
		expected  int
	}{
		{"Below floor", 1, MinChunkSize},
		{"Heap chunks", 1000, 1000},
		{"Mapped chunks", os.Getpagesize(), os.Getpagesize()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBuffer(tc.chunkSize)
			defer b.Release()
			if b.ChunkSize() != tc.expected {
				t.Fatalf("expected chunk size %d, got %d", tc.expected, b.ChunkSize())
			}

			data := bytes.Repeat([]byte("0123456789"), 3*tc.expected/10+1)
			if _, err := b.Write(data); err != nil {
				t.Fatalf("failed to write: %v", err)
			}
			if !bytes.Equal(b.Bytes(), data) {
				t.Error("expected buffer contents to equal written data")
			}
			expectedAllocated := (len(data) + tc.expected - 1) / tc.expected * tc.expected
			if b.AllocatedSize() != expectedAllocated {
				t.Errorf("expected allocated size %d, got %d", expectedAllocated, b.AllocatedSize())
			}
		})
	}
}

func TestCustomBufferReturnsChunks(t *testing.T) {
	pool := NewChunkPool(ChunkPoolConfig{})
	chunkSize := os.Getpagesize()
	b := CustomBuffer(pool, discardLogger, BufferConfig{ChunkSize: chunkSize, PrewarmChunks: 2})
	if numFree := pool.numFree(chunkSize); numFree != 2 {
		t.Fatalf("expected 2 pre-warmed chunks, got %d", numFree)
	}

	b.Write(make([]byte, 3*chunkSize))
	if numFree := pool.numFree(chunkSize); numFree != 0 {
		t.Fatalf("expected pre-warmed chunks to be used, got %d free", numFree)
	}
	b.Release()
	if numFree := pool.numFree(chunkSize); numFree != 3 {
		t.Errorf("expected 3 chunks returned to the pool, got %d", numFree)
	}
}

func TestBufferReadersSeeAllWrites(t *testing.T) {
	const numReaders = 4
	b := NewBuffer(MinChunkSize)
	defer b.Release()

	var writes [][]byte
	for i := range 200 {
		writes = append(writes, bytes.Repeat([]byte{byte(i)}, i%97))
	}
	expected := bytes.Join(writes, nil)

	// Half of the readers are created before the writes start.
	readers := make([]*BufferReader, 0, numReaders)
	for range numReaders / 2 {
		readers = append(readers, b.NewReader(context.Background()))
	}

	var wg sync.WaitGroup
	results := make([][]byte, numReaders)
	errs := make([]error, numReaders)
	read := func(i int, r *BufferReader) {
		defer wg.Done()
		results[i], errs[i] = io.ReadAll(r)
	}
	for i, r := range readers {
		wg.Add(1)
		go read(i, r)
	}

	for i, w := range writes {
		if _, err := b.Write(w); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		if i == len(writes)/2 {
			for j := numReaders / 2; j < numReaders; j++ {
				wg.Add(1)
				go read(j, b.NewReader(context.Background()))
			}
		}
	}
	b.Close()
	wg.Wait()

	for i := range numReaders {
		if errs[i] != nil {
			t.Fatalf("reader %d: %v", i, errs[i])
		}
		if !bytes.Equal(results[i], expected) {
			t.Errorf("reader %d: expected %d bytes in write order, got %d", i, len(expected), len(results[i]))
		}
	}
}

func TestBufferReaderInterrupted(t *testing.T) {
	b := NewBuffer(MinChunkSize)
	defer b.Release()
	ctx, cancel := context.WithCancel(context.Background())
	r := b.NewReader(ctx)

	var finished bool
	errc := make(chan error, 1)
	go func() {
		var p [8]byte
		if _, err := r.Read(p[:]); err != nil {
			errc <- err
			return
		}
		finished = true
		errc <- nil
	}()
	cancel()

	err := <-errc
	if finished {
		t.Fatal("expected the blocked read not to finish")
	}
	if !errors.Is(err, ErrInterrupted) || !errors.Is(err, context.Canceled) {
		t.Errorf("expected an interrupted error, got %v", err)
	}
}

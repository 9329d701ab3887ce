package syncutil

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"testing"
)

// GOMAXPROCS=4 go clean -testcache && go test -bench=. -benchtime=10s -benchmem .

const benchItems = 1 << 16

// BenchmarkBufferWrite measures single writer throughput with the default chunk size.
func BenchmarkBufferWrite(b *testing.B) {
	p := make([]byte, 1024)
	b.SetBytes(int64(len(p)))
	b.ReportAllocs()
	for b.Loop() {
		buf := NewBuffer(DefaultChunkSize)
		for range 64 {
			if _, err := buf.Write(p); err != nil {
				panic(fmt.Errorf("failed to write: %w", err))
			}
		}
		buf.Release()
	}
}

// BenchmarkBufferFanOut measures readers draining a buffer that is being written concurrently.
func BenchmarkBufferFanOut(b *testing.B) {
	p := make([]byte, 512)
	b.ReportAllocs()
	for b.Loop() {
		buf := NewBuffer(DefaultChunkSize)
		done := make(chan struct{})
		numReaders := runtime.GOMAXPROCS(0)
		for range numReaders {
			go func(r *BufferReader) {
				io.Copy(io.Discard, r)
				done <- struct{}{}
			}(buf.NewReader(context.Background()))
		}
		for range 256 {
			buf.Write(p)
		}
		buf.Close()
		for range numReaders {
			<-done
		}
		buf.Release()
	}
}

// BenchmarkCounterContention simulates many goroutines updating a single counter.
func BenchmarkCounterContention(b *testing.B) {
	c := NewCounter[int64](0)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.Increment()
		}
	})
}

// BenchmarkWorkerPoolThroughput measures how fast items move through the pool.
func BenchmarkWorkerPoolThroughput(b *testing.B) {
	var processed atomic.Int64
	p := NewWorkerPool[struct{}, int](WorkerFuncs[struct{}, int]{
		ProcessFunc: func(ctx context.Context, _ struct{}, item int) error {
			processed.Add(1)
			return nil
		},
	}, PoolConfig{Logger: discardLogger})
	ctx := context.Background()
	if err := p.Start(ctx, runtime.GOMAXPROCS(0), true); err != nil {
		b.Fatal(err)
	}
	defer p.Stop(ctx)

	b.ReportAllocs()
	b.SetBytes(benchItems) // Normalized for item throughput, millions of items.
	for b.Loop() {
		for i := range benchItems {
			p.AddWorkItem(i)
		}
		if err := p.WaitForCompletion(ctx); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportMetric(float64(benchItems), "items/op")
}

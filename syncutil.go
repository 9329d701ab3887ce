// Package syncutil implements in-process concurrency primitives: a chunked
// byte buffer with blocking readers, a synchronized value box, and a worker
// pool with a per-worker prepare/process/cleanup lifecycle.
package syncutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/holmberd/go-syncutil/internal/buffer"
)

var (
	defaultChunkPool = NewChunkPool(DefaultChunkPoolConfig())

	ErrInvalidArgument = buffer.ErrInvalidArgument
	ErrNilArgument     = buffer.ErrNilArgument
	ErrClosed          = buffer.ErrClosed
	ErrInterrupted     = buffer.ErrInterrupted
	ErrIllegalState    = errors.New("illegal state")
	ErrTimeout         = errors.New("operation timed out")
)

const (
	MinChunkSize     = buffer.MinChunkSize
	DefaultChunkSize = buffer.DefaultChunkSize
)

type (
	// Buffer is a chunked byte buffer backed by a ChunkPool.
	Buffer = buffer.Buffer[*ChunkPool]

	// BufferReader is an independent blocking read cursor over a Buffer.
	BufferReader = buffer.Reader[*ChunkPool]

	// BufferConfig configures a buffer.
	BufferConfig = buffer.Config

	// ChunkPooler defines the contract for a memory pool that manages fixed-size chunks.
	ChunkPooler = buffer.ChunkPooler
)

// NewBuffer creates a new buffer with the given chunk size, backed by the default chunk pool.
// Chunk sizes below MinChunkSize are raised to it.
func NewBuffer(chunkSize int) *Buffer {
	return buffer.New(defaultChunkPool, slog.Default(), BufferConfig{ChunkSize: chunkSize})
}

// CustomBuffer creates a new buffer with a custom chunk pool, logger and config.
func CustomBuffer[P ChunkPooler](pool P, logger *slog.Logger, config BufferConfig) *buffer.Buffer[P] {
	return buffer.New(pool, logger, config)
}

// NewBufferFromConfig creates a new buffer with the chunk size and pre-warming of config,
// backed by pool. A nil pool uses the default chunk pool.
func NewBufferFromConfig(pool *ChunkPool, logger *slog.Logger, config Config) *Buffer {
	if pool == nil {
		pool = defaultChunkPool
	}
	return buffer.New(pool, logger, config.BufferConfig())
}

// StartWorkerPool creates a worker pool and starts config.Workers workers,
// returning once every worker has been prepared.
func StartWorkerPool[S, I any](ctx context.Context, worker Worker[S, I], config Config, poolConfig PoolConfig) (*WorkerPool[S, I], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	p := NewWorkerPool(worker, poolConfig)
	if err := p.Start(ctx, config.Workers, true); err != nil {
		return nil, err
	}
	return p, nil
}

// waitError converts the error of a done context into a wait error:
// an expired deadline matches ErrTimeout, anything else matches ErrInterrupted.
func waitError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInterrupted, err)
}

// isInterrupt reports whether err signals an interruption rather than a failure.
func isInterrupt(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

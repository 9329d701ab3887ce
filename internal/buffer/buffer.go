// Package buffer implements an append-only, chunked in-memory byte buffer with
// independent blocking readers.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilArgument     = errors.New("nil argument")
	ErrClosed          = errors.New("resource is closed")
	ErrInterrupted     = errors.New("operation interrupted")
)

// Buffer represents a growable, append-only memory store for a stream of bytes.
//
// Data is kept in a list of fixed-size chunks obtained from a chunk pool. Chunks are
// only ever appended until the buffer is released, which lets every Reader keep a
// plain (chunk index, position) cursor that stays valid for the life of the buffer.
//
// A Buffer supports a single writer and any number of concurrent readers. Readers
// that reach the end of the written data block until more data is written, the
// buffer is closed, or their context is done.
//
// Release returns the chunks to the pool. A buffer that becomes unreachable without
// being released returns its chunks when the garbage collector reclaims it, which may
// be much later; call Release as soon as the buffer is no longer needed.
type Buffer[P ChunkPooler] struct {
	*chunks[P]
	logger    *slog.Logger // Default logger.
	chunkSize int          // Memory chunk size in bytes.

	mu      sync.Mutex
	cond    *sync.Cond // Broadcast on every write, close and reader close.
	cleanup runtime.Cleanup

	// Current write position (head) within the last chunk.
	// Since chunks are lazily allocated at the next write call
	// it will be equal to chunkSize when the last chunk is full.
	writePos int

	size     int  // Number of bytes written.
	closed   bool // Set by Close; no more writes.
	released bool // Set by Release; chunks are returned to the pool.
}

// New creates a new, empty Buffer.
func New[P ChunkPooler](chunkPool P, logger *slog.Logger, config Config) *Buffer[P] {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Buffer[P]{
		chunks:    &chunks[P]{chunkPool: chunkPool},
		logger:    logger,
		chunkSize: config.normalizedChunkSize(),
	}
	b.cond = sync.NewCond(&b.mu)
	// Chunks live outside the Buffer so they can be returned once it is unreachable.
	b.cleanup = runtime.AddCleanup(b, func(c *chunks[P]) { c.release() }, b.chunks)
	if config.PrewarmChunks > 0 {
		b.chunkPool.Allocate(b.chunkSize, config.PrewarmChunks)
	}
	return b
}

// ChunkSize returns the size of each chunk in bytes.
func (b *Buffer[P]) ChunkSize() int {
	return b.chunkSize
}

// Size returns the number of bytes written.
func (b *Buffer[P]) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// AllocatedSize returns the number of bytes held in chunks.
// It is always a multiple of the chunk size and never smaller than Size.
func (b *Buffer[P]) AllocatedSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) * b.chunkSize
}

// NumChunks returns the number of allocated chunks.
func (b *Buffer[P]) NumChunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

func (b *Buffer[P]) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Print outputs a visual representation of the buffer for debugging purposes.
// It prints each chunk as a row of space-separated hexadecimal values.
func (b *Buffer[P]) Print(w io.Writer) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		fmt.Fprintf(w, "(empty)\n")
		return
	}

	// The width is the number of digits in the highest chunk index.
	paddingWidth := len(strconv.Itoa(len(b.buf) - 1))
	for i, chunk := range b.buf {
		end := len(chunk)
		if i == len(b.buf)-1 {
			end = b.writePos
		}
		fmt.Fprintf(w, "%*d: [% x]\n", paddingWidth, i, chunk[:end])
	}
}

// Bytes returns a copy of all bytes written to the buffer.
func (b *Buffer[P]) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, 0, b.size)
	for i, chunk := range b.buf {
		if i == len(b.buf)-1 {
			chunk = chunk[:b.writePos]
		}
		out = append(out, chunk...)
	}
	return out
}

// Write appends the contents of p to the buffer, growing the buffer as needed.
// It implements the [io.Writer] interface.
func (b *Buffer[P]) Write(p []byte) (n int, err error) {
	return b.WriteRange(p, 0, len(p))
}

// WriteString appends the contents of s to the buffer.
func (b *Buffer[P]) WriteString(s string) (n int, err error) {
	return b.Write([]byte(s))
}

// WriteByte appends a single byte to the buffer.
// It implements the [io.ByteWriter] interface.
func (b *Buffer[P]) WriteByte(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkWritableLocked(); err != nil {
		return err
	}
	b.write([]byte{c})
	return nil
}

// WriteRange appends n bytes of p starting at off.
//
// A nil p is rejected with ErrNilArgument before anything else is checked, even when n is zero.
// A negative off or n, or a range that does not fit within p, is rejected with ErrInvalidArgument.
// Writing to a closed buffer fails with ErrClosed. No state is modified on failure.
func (b *Buffer[P]) WriteRange(p []byte, off int, n int) (int, error) {
	if p == nil {
		return 0, fmt.Errorf("buffer: write: %w: source is nil", ErrNilArgument)
	}
	if off < 0 || n < 0 || off > len(p) || n > len(p)-off {
		return 0, fmt.Errorf(
			"buffer: write: %w: offset %d and length %d out of range for %d bytes",
			ErrInvalidArgument, off, n, len(p),
		)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkWritableLocked(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil // No-op; empty range.
	}
	b.write(p[off : off+n])
	return n, nil
}

// ReadFrom appends data from r until EOF and returns the number of bytes appended.
// It implements the [io.ReaderFrom] interface.
func (b *Buffer[P]) ReadFrom(r io.Reader) (n int64, err error) {
	tmp := make([]byte, 32*KiB)
	for {
		m, rerr := r.Read(tmp)
		if m > 0 {
			if _, werr := b.Write(tmp[:m]); werr != nil {
				return n, werr
			}
			n += int64(m)
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// Close closes the buffer for writing and wakes all blocked readers.
// Readers can still read everything written before Close.
// Close is idempotent.
func (b *Buffer[P]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	return nil
}

// Release closes the buffer and returns all chunks to the pool.
// Any subsequent read from a reader of this buffer fails with ErrClosed.
func (b *Buffer[P]) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.cleanup.Stop()
	numChunks := b.release()
	b.writePos = 0
	b.size = 0
	b.closed = true
	b.released = true
	b.cond.Broadcast()
	b.logger.Debug("Buffer released", "chunks", numChunks, "chunkSize", b.chunkSize)
}

// NewReader returns a new reader positioned at the start of the buffer.
// A blocked read is interrupted when ctx is done; a nil ctx never interrupts.
func (b *Buffer[P]) NewReader(ctx context.Context) *Reader[P] {
	return newReader(b, ctx)
}

// checkWritableLocked assumes the caller holds the mutex.
func (b *Buffer[P]) checkWritableLocked() error {
	if b.closed {
		return fmt.Errorf("buffer: write to closed buffer: %w", ErrClosed)
	}
	return nil
}

// wake wakes all blocked readers. It is used as a context.AfterFunc callback.
func (b *Buffer[P]) wake() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

// write appends the contents of p to the buffer, growing the buffer as needed,
// and notifies blocked readers. It assumes the caller holds the mutex and p is not empty.
func (b *Buffer[P]) write(p []byte) {
	chunkSize := b.chunkSize

	// Initialize buffer if it's empty.
	if len(b.buf) == 0 {
		b.buf = append(b.buf, b.getChunk(chunkSize))
		b.writePos = 0
	}

	chunkIdx := len(b.buf) - 1
	chunkOffset := b.writePos
	availableBytes := chunkSize - chunkOffset
	remainingBytes := p

	// Fill any available space in the current chunk.
	bytesToWrite := min(len(remainingBytes), availableBytes)
	copy(b.buf[chunkIdx][chunkOffset:], remainingBytes[:bytesToWrite])
	chunkOffset += bytesToWrite
	remainingBytes = remainingBytes[bytesToWrite:]

	if len(remainingBytes) > 0 {
		// Calculate the number of new chunks required for writing the remainder of p.
		// This is a ceiling division: (a + b - 1) / b
		numChunks := (len(remainingBytes) + chunkSize - 1) / chunkSize

		// Grow the buffer to fit any new chunks.
		if n := numChunks - (cap(b.buf) - len(b.buf)); n > 0 {
			b.buf = append(b.buf[:cap(b.buf)], make([][]byte, n)...)[:len(b.buf)]
		}
		b.buf = b.buf[:len(b.buf)+numChunks]

		b.chunkPool.Allocate(chunkSize, numChunks) // Pre-warm the pool.

		// Write the remaining bytes to the new chunks.
		for range numChunks {
			chunkIdx++
			b.buf[chunkIdx] = b.getChunk(chunkSize)
			bytesToWrite = min(len(remainingBytes), chunkSize)
			copy(b.buf[chunkIdx], remainingBytes[:bytesToWrite])
			chunkOffset = bytesToWrite
			remainingBytes = remainingBytes[bytesToWrite:]
		}
	}

	b.writePos = chunkOffset
	b.size += len(p)
	b.cond.Broadcast()
}

// calcPosition calculates a position from an offset.
func calcPosition(chunkSize int, offset int) (chunkIdx int, pos int) {
	return offset / chunkSize, offset % chunkSize
}

// calcOffset calculates an offset from a position.
func calcOffset(chunkSize int, chunkIdx int, pos int) int {
	return chunkIdx*chunkSize + pos
}

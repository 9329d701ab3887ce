package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

var errUnreadRune = errors.New("buffer: UnreadRune: previous operation was not a successful ReadRune")

// Reader is an independent read cursor over a Buffer.
// It implements the [io.Reader], [io.ByteReader], [io.RuneScanner], [io.Seeker],
// [io.WriterTo] and [io.Closer] interfaces.
//
// Reading is non-destructive: any number of readers can consume the same buffer,
// each at its own pace. A Reader is not safe for concurrent use by multiple
// goroutines, except for Close which may be called from any goroutine.
type Reader[P ChunkPooler] struct {
	b            *Buffer[P]
	ctx          context.Context // Interrupts blocked reads when done.
	chunkIdx     int             // Index of the current chunk.
	pos          int             // Read position within the current chunk.
	mark         int             // Marked offset, rewound to by Reset.
	lastRuneSize int             // Size of the last rune read, or -1.
	closed       bool            // Guarded by b.mu.
}

func newReader[P ChunkPooler](b *Buffer[P], ctx context.Context) *Reader[P] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader[P]{b: b, ctx: ctx, lastRuneSize: -1}
}

// offset returns the absolute read offset of the cursor.
func (r *Reader[P]) offset() int {
	return calcOffset(r.b.chunkSize, r.chunkIdx, r.pos)
}

func (r *Reader[P]) setOffset(offset int) {
	r.chunkIdx, r.pos = calcPosition(r.b.chunkSize, offset)
}

// Offset returns the number of bytes consumed from the start of the buffer.
func (r *Reader[P]) Offset() int64 {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	return int64(r.offset())
}

// Available returns the number of written bytes that can be read without blocking.
// It does not account for data that may be written in the future.
func (r *Reader[P]) Available() int {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.closed || r.b.released {
		return 0
	}
	return r.b.size - r.offset()
}

// waitLocked blocks until at least need bytes are readable, the buffer is closed,
// the reader is closed, or ctx is done. It is the single blocking primitive for
// all read operations and assumes the caller holds the buffer mutex.
//
// After the buffer is closed it returns nil while any bytes remain, and io.EOF once
// the cursor reaches the end of the data.
func (r *Reader[P]) waitLocked(ctx context.Context, need int) error {
	var stop func() bool
	defer func() {
		if stop != nil {
			stop()
		}
	}()
	for {
		if r.closed || r.b.released {
			return fmt.Errorf("buffer: read from closed reader: %w", ErrClosed)
		}
		available := r.b.size - r.offset()
		if available >= need {
			return nil
		}
		if r.b.closed {
			if available > 0 {
				return nil
			}
			return io.EOF
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("buffer: read: %w: %w", ErrInterrupted, err)
		}
		if stop == nil && ctx.Done() != nil {
			stop = context.AfterFunc(ctx, r.b.wake)
		}
		r.b.cond.Wait()
	}
}

// copyLocked copies readable bytes into p, advancing the cursor when advance is set.
// It returns the number of bytes copied and assumes the caller holds the buffer mutex.
func (r *Reader[P]) copyLocked(p []byte, advance bool) int {
	chunkIdx, pos := r.chunkIdx, r.pos
	available := r.b.size - r.offset()
	n := 0
	for n < len(p) && available > 0 {
		chunk := r.b.buf[chunkIdx][:r.b.chunkSize]
		toCopy := min(len(chunk)-pos, available, len(p)-n)
		copy(p[n:], chunk[pos:pos+toCopy])
		pos += toCopy
		n += toCopy
		available -= toCopy
		if pos >= len(chunk) {
			chunkIdx++
			pos = 0 // Move to the next chunk.
		}
	}
	if advance {
		r.chunkIdx, r.pos = chunkIdx, pos
	}
	return n
}

// Read reads up to len(p) bytes into p, blocking until at least one byte is available.
//
// A zero-length p returns (0, nil) immediately, even after the buffer is closed.
// Read may return fewer bytes than requested. Once the buffer is closed and all
// bytes have been consumed it returns (0, [io.EOF]). If the reader's context is done
// while blocked, the error matches ErrInterrupted.
func (r *Reader[P]) Read(p []byte) (n int, err error) {
	return r.ReadContext(r.ctx, p)
}

// ReadContext is like Read but is interrupted by ctx instead of the reader's context.
func (r *Reader[P]) ReadContext(ctx context.Context, p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil // No-op
	}
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.lastRuneSize = -1
	if err := r.waitLocked(ctx, 1); err != nil {
		return 0, err
	}
	return r.copyLocked(p, true), nil
}

// ReadByte reads a single byte, blocking until one is available.
// It returns [io.EOF] once the buffer is closed and all bytes have been consumed.
func (r *Reader[P]) ReadByte() (byte, error) {
	var p [1]byte
	if _, err := r.Read(p[:]); err != nil {
		return 0, err
	}
	return p[0], nil
}

// ReadRune reads a single UTF-8 encoded character, blocking until its encoding
// is complete or the buffer is closed. An incomplete or invalid encoding yields
// [utf8.RuneError] with a size of 1.
func (r *Reader[P]) ReadRune() (ch rune, size int, err error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.lastRuneSize = -1

	var p [utf8.UTFMax]byte
	need := 1
	for {
		if err := r.waitLocked(r.ctx, need); err != nil {
			return 0, 0, err
		}
		n := r.copyLocked(p[:], false)
		if utf8.FullRune(p[:n]) || n == len(p) || r.b.closed {
			ch, size = utf8.DecodeRune(p[:n])
			break
		}
		need = n + 1 // Wait for the rest of the encoding.
	}
	r.setOffset(r.offset() + size)
	r.lastRuneSize = size
	return ch, size, nil
}

// UnreadRune unreads the last rune returned by ReadRune.
func (r *Reader[P]) UnreadRune() error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.lastRuneSize <= 0 {
		return errUnreadRune
	}
	r.setOffset(r.offset() - r.lastRuneSize)
	r.lastRuneSize = -1
	return nil
}

// WriteTo writes data to w until the buffer is closed and drained, or an error occurs.
// It implements the [io.WriterTo] interface.
func (r *Reader[P]) WriteTo(w io.Writer) (n int64, err error) {
	tmp := make([]byte, 32*KiB)
	for {
		m, rerr := r.Read(tmp)
		if m > 0 {
			wn, werr := w.Write(tmp[:m])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
			if wn != m {
				return n, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// Skip advances the cursor by up to n bytes without blocking, stopping at
// the end of the written data. It returns the number of bytes skipped.
func (r *Reader[P]) Skip(n int64) (int64, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.closed || r.b.released {
		return 0, fmt.Errorf("buffer: skip on closed reader: %w", ErrClosed)
	}
	r.lastRuneSize = -1
	if n <= 0 {
		return 0, nil
	}
	offset := r.offset()
	skipped := min(n, int64(r.b.size-offset))
	r.setOffset(offset + int(skipped))
	return skipped, nil
}

// MarkSupported reports whether Mark and Reset are supported, which is always true.
func (r *Reader[P]) MarkSupported() bool {
	return true
}

// Mark records the current position to be restored by Reset.
//
// The read limit is accepted for compatibility only: chunks are never evicted while
// the buffer is alive, so a mark stays valid however many bytes are read after it.
func (r *Reader[P]) Mark(readLimit int) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	r.mark = r.offset()
}

// Reset rewinds the cursor to the last mark, or to the start of the buffer
// if no mark has been set.
func (r *Reader[P]) Reset() error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.closed || r.b.released {
		return fmt.Errorf("buffer: reset on closed reader: %w", ErrClosed)
	}
	r.setOffset(r.mark)
	r.lastRuneSize = -1
	return nil
}

// Seek sets the offset for the next read. It implements the [io.Seeker] interface.
//
// Seeking to an offset before the start of the buffer is an error.
// Offsets beyond the written data are clamped to its end.
func (r *Reader[P]) Seek(offset int64, whence int) (int64, error) {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()

	var newOffset int64
	switch whence {
	case io.SeekStart:
		// Offset is relative to the beginning of the buffer.
		newOffset = offset
	case io.SeekCurrent:
		// Offset is relative to the current position.
		newOffset = int64(r.offset()) + offset
	case io.SeekEnd:
		// Offset is relative to the end of the written data.
		newOffset = int64(r.b.size) + offset
	default:
		return 0, fmt.Errorf("buffer: seek: %w: invalid whence %d", ErrInvalidArgument, whence)
	}
	if newOffset < 0 {
		return 0, fmt.Errorf("buffer: seek: %w: offset cannot be negative", ErrInvalidArgument)
	}
	newOffset = min(newOffset, int64(r.b.size))
	r.setOffset(int(newOffset))
	r.lastRuneSize = -1
	return newOffset, nil
}

// Close closes the reader without affecting the buffer or other readers.
// A read blocked on this reader returns ErrClosed. Close is idempotent.
func (r *Reader[P]) Close() error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.b.cond.Broadcast()
	}
	return nil
}

package syncutil

import (
	"io"

	"github.com/cespare/xxhash/v2"
)

// DigestReader computes the xxhash64 digest of the bytes read through it.
type DigestReader struct {
	r io.Reader
	d *xxhash.Digest
	n int64
}

// NewDigestReader returns a reader that reads from r and digests what it reads.
func NewDigestReader(r io.Reader) *DigestReader {
	return &DigestReader{r: r, d: xxhash.New()}
}

func (dr *DigestReader) Read(p []byte) (int, error) {
	n, err := dr.r.Read(p)
	if n > 0 {
		dr.d.Write(p[:n])
		dr.n += int64(n)
	}
	return n, err
}

// Sum64 returns the digest of the bytes read so far.
func (dr *DigestReader) Sum64() uint64 {
	return dr.d.Sum64()
}

// Count returns the number of bytes read so far.
func (dr *DigestReader) Count() int64 {
	return dr.n
}

// DigestWriter computes the xxhash64 digest of the bytes written through it.
type DigestWriter struct {
	w io.Writer
	d *xxhash.Digest
	n int64
}

// NewDigestWriter returns a writer that writes to w and digests what it writes.
func NewDigestWriter(w io.Writer) *DigestWriter {
	return &DigestWriter{w: w, d: xxhash.New()}
}

func (dw *DigestWriter) Write(p []byte) (int, error) {
	n, err := dw.w.Write(p)
	if n > 0 {
		dw.d.Write(p[:n])
		dw.n += int64(n)
	}
	return n, err
}

// Sum64 returns the digest of the bytes written so far.
func (dw *DigestWriter) Sum64() uint64 {
	return dw.d.Sum64()
}

// Count returns the number of bytes written so far.
func (dw *DigestWriter) Count() int64 {
	return dw.n
}

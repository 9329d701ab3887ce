package buffer

// ChunkPooler defines the contract for a memory pool that manages fixed-size chunks.
type ChunkPooler interface {
	Get(chunkSize int) []byte              // Get retrieves a chunk of the specified size.
	Put(c []byte)                          // Put returns a chunk to the pool.
	Allocate(chunkSize int, numChunks int) // Allocates chunks in the pool (pre-warming).
}

// chunks holds the memory of a buffer.
type chunks[P ChunkPooler] struct {
	chunkPool P // Pool of memory chunks.

	// buf contains uniform-sized chunks of bytes.
	buf [][]byte
}

// getChunk takes a chunk from the pool, trimmed to chunkSize in case the pool
// hands out larger ones.
func (c *chunks[P]) getChunk(chunkSize int) []byte {
	return c.chunkPool.Get(chunkSize)[:chunkSize]
}

// release returns all chunks to the pool and returns how many there were.
func (c *chunks[P]) release() int {
	n := len(c.buf)
	for i := range c.buf {
		c.chunkPool.Put(c.buf[i])
		c.buf[i] = nil
	}
	c.buf = nil // Unreference slice headers.
	return n
}

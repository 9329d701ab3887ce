package buffer

const (
	KiB = 1024
	MiB = KiB * KiB

	// MinChunkSize is the floor for a buffer chunk size, in bytes.
	// Smaller requested sizes are silently raised to it.
	MinChunkSize = 64

	DefaultChunkSize = 64 * KiB
)

type Config struct {
	// ChunkSize is the size of each memory chunk in bytes.
	// Values below MinChunkSize, including zero and negative values, are raised to MinChunkSize.
	ChunkSize int

	// PrewarmChunks is the number of chunks requested from the pool up front
	// when the buffer is created. A value <= 0 disables pre-warming.
	PrewarmChunks int
}

// normalizedChunkSize returns the chunk size clamped to MinChunkSize.
func (c Config) normalizedChunkSize() int {
	return max(c.ChunkSize, MinChunkSize)
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize, // Matches the smallest mmap chunk size of the default pool.
		PrewarmChunks: 0,
	}
}

package syncutil

import (
	"errors"
	"fmt"

	"github.com/holmberd/go-syncutil/internal/buffer"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment variables read by LoadConfig.
const EnvPrefix = "SYNCUTIL"

type Config struct {
	// ChunkSize is the buffer chunk size in bytes. Values below MinChunkSize are raised to it.
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"65536"`

	// PrewarmChunks is the number of chunks allocated in the pool when a buffer is created.
	PrewarmChunks int `envconfig:"PREWARM_CHUNKS" default:"0"`

	// FreeThreshold is the number of free chunks per size the pool holds before releasing memory.
	FreeThreshold int `envconfig:"FREE_THRESHOLD" default:"1024"`

	// Workers is the default number of workers for a worker pool.
	Workers int `envconfig:"WORKERS" default:"4"`
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:     DefaultChunkSize,
		PrewarmChunks: 0,
		FreeThreshold: DefaultChunkPoolConfig().FreeThreshold,
		Workers:       4,
	}
}

// LoadConfig reads the config from SYNCUTIL_* environment variables,
// using defaults for unset variables.
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.PrewarmChunks < 0 {
		errs = append(errs, errors.New("invalid config: PrewarmChunks cannot be negative"))
	}
	if c.FreeThreshold < 0 {
		errs = append(errs, errors.New("invalid config: FreeThreshold cannot be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("invalid config: Workers must be at least 1, got %d", c.Workers))
	}
	return errors.Join(errs...)
}

func (c Config) BufferConfig() BufferConfig {
	return buffer.Config{
		ChunkSize:     c.ChunkSize,
		PrewarmChunks: c.PrewarmChunks,
	}
}

func (c Config) ChunkPoolConfig() ChunkPoolConfig {
	return ChunkPoolConfig{FreeThreshold: c.FreeThreshold}
}

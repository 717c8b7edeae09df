// Package config loads the YAML configuration that sizes the engine
// defaults, write buffer, and background processor (spec.md §3
// "Supplemented features" — PerformanceConfig-style tunables promoted into
// one source of defaults rather than scattered magic numbers).
package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// EngineConfig sizes the PromQL evaluator (spec.md §4.D).
type EngineConfig struct {
	LookbackMs                  int64 `yaml:"lookback_ms"`
	DefaultSubqueryResolutionMs int64 `yaml:"default_subquery_resolution_ms"`
}

// WriteBufferConfig sizes the Sharded Write Buffer (spec.md §4.I).
type WriteBufferConfig struct {
	NumShards            int     `yaml:"num_shards"`
	BufferSizePerShard   int     `yaml:"buffer_size_per_shard"`
	FlushIntervalMs      int64   `yaml:"flush_interval_ms"`
	MaxFlushWorkers      int     `yaml:"max_flush_workers"`
	RetryAttempts        int     `yaml:"retry_attempts"`
	RetryDelayMs         int64   `yaml:"retry_delay_ms"`
	LoadBalanceThreshold float64 `yaml:"load_balance_threshold"`
	RateLimit            float64 `yaml:"rate_limit"`
}

// FlushInterval returns the configured flush interval as a time.Duration.
func (c WriteBufferConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

// RetryDelay returns the configured retry delay as a time.Duration.
func (c WriteBufferConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// BackgroundProcessorConfig sizes the Background Processor (spec.md §4.J).
type BackgroundProcessorConfig struct {
	NumWorkers        int   `yaml:"num_workers"`
	MaxQueueSize      int   `yaml:"max_queue_size"`
	TaskTimeoutMs     int64 `yaml:"task_timeout_ms"`
	ShutdownTimeoutMs int64 `yaml:"shutdown_timeout_ms"`
	WorkerWaitMs      int64 `yaml:"worker_wait_timeout_ms"`
}

// TaskTimeout returns the configured task timeout as a time.Duration.
func (c BackgroundProcessorConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutMs) * time.Millisecond
}

// ShutdownTimeout returns the configured shutdown timeout as a time.Duration.
func (c BackgroundProcessorConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMs) * time.Millisecond
}

// WorkerWaitTimeout returns the configured worker wait timeout as a
// time.Duration.
func (c BackgroundProcessorConfig) WorkerWaitTimeout() time.Duration {
	return time.Duration(c.WorkerWaitMs) * time.Millisecond
}

// Config is the top-level YAML configuration document.
type Config struct {
	Engine              EngineConfig              `yaml:"engine"`
	WriteBuffer         WriteBufferConfig         `yaml:"write_buffer"`
	BackgroundProcessor BackgroundProcessorConfig `yaml:"background_processor"`
}

// Default returns the configuration defaults named in spec.md §4 (5-minute
// lookback, 60s subquery resolution) and sized the way the teacher sizes
// its own worker pools and queues.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			LookbackMs:                  5 * 60 * 1000,
			DefaultSubqueryResolutionMs: 60 * 1000,
		},
		WriteBuffer: WriteBufferConfig{
			NumShards:            16,
			BufferSizePerShard:   1024,
			FlushIntervalMs:      1000,
			MaxFlushWorkers:      4,
			RetryAttempts:        3,
			RetryDelayMs:         100,
			LoadBalanceThreshold: 0.25,
		},
		BackgroundProcessor: BackgroundProcessorConfig{
			NumWorkers:        4,
			MaxQueueSize:      1024,
			TaskTimeoutMs:     30000,
			ShutdownTimeoutMs: 10000,
			WorkerWaitMs:      200,
		},
	}
}

// Load decodes YAML from r over top of Default(), so a partial document
// only overrides the fields it sets.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "config: decode")
	}
	return cfg, nil
}

// LoadFile opens path and decodes it with Load.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "config: open")
	}
	defer f.Close()
	return Load(f)
}

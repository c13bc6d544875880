package barecat

import "github.com/rs/zerolog"

// Option configures Open/Create. Functional options are used here (rather
// than the teacher's flat CacheOptions struct) because Barecat composes two
// already-optioned sub-components (the index and the shard store) instead
// of a single flat set of knobs.
type Option func(*config)

type config struct {
	log              zerolog.Logger
	shardSizeLimit   int64
	threadsafeReads  bool
	useMmap          bool
}

func defaultConfig() config {
	return config{
		log:            zerolog.Nop(),
		shardSizeLimit: 1 << 32, // 4 GiB, matches the Python reference default
	}
}

// WithLogger attaches a structured logger used throughout the facade and
// its maintenance operations (defrag, reshard, verify, merge, migrate).
func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.log = l } }

// WithShardSizeLimit sets the byte threshold at which a new shard is
// started. Create stores it in the index; Open ignores this option and
// uses the stored limit. It does not rewrite existing shards; see Reshard
// for that.
func WithShardSizeLimit(n int64) Option { return func(c *config) { c.shardSizeLimit = n } }

// WithThreadsafeReads gates Barecat.ReaderHandle: when enabled, a goroutine
// can obtain an independent handle onto the same archive — its own
// shardstore.Store (own shard file descriptors) and its own index.DB
// connection — instead of sharing this Barecat's.
func WithThreadsafeReads(enabled bool) Option {
	return func(c *config) { c.threadsafeReads = enabled }
}

// WithMmap enables mmap-accelerated shard reads.
func WithMmap(enabled bool) Option { return func(c *config) { c.useMmap = enabled } }

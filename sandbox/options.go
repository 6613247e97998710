package sandbox

import (
	"github.com/sirupsen/logrus"
)

// Option customizes sandbox construction.
type Option func(*sandboxOptions)

type sandboxOptions struct {
	useCache bool
	cache    *ModuleCache
	engine   *Engine
	logger   *logrus.Logger
}

func defaultOptions() sandboxOptions {
	return sandboxOptions{useCache: true}
}

// WithCache uses a caller-owned module cache instead of the process-wide
// one. Pair the cache with the engine the sandbox runs on.
func WithCache(cache *ModuleCache) Option {
	return func(o *sandboxOptions) {
		o.useCache = true
		o.cache = cache
	}
}

// WithoutCache compiles the interpreter fresh for this sandbox and caches
// nothing. Mostly useful in tests and benchmarks measuring cold starts.
func WithoutCache() Option {
	return func(o *sandboxOptions) {
		o.useCache = false
		o.cache = nil
	}
}

// WithEngine runs the sandbox on a shared engine. The config's MaxFuel must
// match the engine's fuel mode; New rejects a fuel budget on an engine
// without fuel accounting.
func WithEngine(engine *Engine) Option {
	return func(o *sandboxOptions) {
		o.engine = engine
	}
}

// WithLogger attaches a logger. Without one the sandbox is silent.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *sandboxOptions) {
		o.logger = logger
	}
}

package sandbox

import (
	"os"
	"path/filepath"
	"sync"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"
)

// ModuleCache maps canonical interpreter paths to compiled modules so the
// expensive wasm compile happens once per interpreter per process. Safe for
// concurrent use. Modules compiled by one engine are only usable with that
// engine, so a cache should be paired with a single Engine.
type ModuleCache struct {
	mu      sync.RWMutex
	modules map[string]*wasmtime.Module
}

// NewModuleCache returns an empty cache.
func NewModuleCache() *ModuleCache {
	return &ModuleCache{modules: make(map[string]*wasmtime.Module)}
}

var (
	globalCache     *ModuleCache
	globalCacheOnce sync.Once
)

// GlobalCache returns the process-wide cache used by sandboxes that were
// given no cache of their own.
func GlobalCache() *ModuleCache {
	globalCacheOnce.Do(func() {
		globalCache = NewModuleCache()
	})
	return globalCache
}

// canonicalPath resolves symlinks and relative segments so the same
// interpreter file hits the same cache entry regardless of how the path was
// spelled.
func canonicalPath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// GetOrCompile returns the cached module for path, compiling and inserting
// it on first use. Concurrent callers may compile the same module twice;
// the first insert wins and the duplicate is dropped, so every caller gets
// the same *wasmtime.Module for a given path.
func (c *ModuleCache) GetOrCompile(engine *Engine, path string) (*wasmtime.Module, error) {
	key, err := canonicalPath(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errInterpreterNotFound(path)
		}
		return nil, errIO(err)
	}

	c.mu.RLock()
	module, ok := c.modules[key]
	c.mu.RUnlock()
	if ok {
		return module, nil
	}

	module, err = compileModule(engine, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.modules[key]; ok {
		return existing, nil
	}
	c.modules[key] = module
	return module, nil
}

// compileModule reads and compiles the wasm artifact at an already
// canonical path.
func compileModule(engine *Engine, path string) (*wasmtime.Module, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errInterpreterNotFound(path)
		}
		return nil, errIO(err)
	}
	module, err := wasmtime.NewModule(engine.wasmtime(), bytes)
	if err != nil {
		return nil, errModuleLoad(err)
	}
	return module, nil
}

// Contains reports whether path already has a compiled entry. Returns false
// for paths that do not resolve.
func (c *ModuleCache) Contains(path string) bool {
	key, err := canonicalPath(path)
	if err != nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modules[key]
	return ok
}

// Remove drops the entry for path, if present.
func (c *ModuleCache) Remove(path string) {
	key, err := canonicalPath(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modules, key)
}

// Clear drops every entry.
func (c *ModuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules = make(map[string]*wasmtime.Module)
}

// Len returns the number of cached modules.
func (c *ModuleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}

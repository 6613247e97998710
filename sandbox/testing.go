package sandbox

import (
	"sync"
)

// Shared engine and cache for tests and benchmarks, so the interpreter is
// compiled once per test binary instead of once per test.
var (
	testEngine     *Engine
	testEngineOnce sync.Once
	testCache      *ModuleCache
	testCacheOnce  sync.Once
)

// GetTestEngine returns a process-shared engine for tests and benchmarks.
// Fuel accounting is off; tests that need fuel build their own engine.
func GetTestEngine() *Engine {
	testEngineOnce.Do(func() {
		testEngine = NewEngine()
	})
	return testEngine
}

// GetTestCache returns a process-shared module cache paired with
// GetTestEngine.
func GetTestCache() *ModuleCache {
	testCacheOnce.Do(func() {
		testCache = NewModuleCache()
	})
	return testCache
}

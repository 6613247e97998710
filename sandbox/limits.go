package sandbox

import (
	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"
)

// Backstop against runaway indirect-call table growth. Independent of the
// configured memory ceiling.
const maxTableElements = 10_000

// SandboxLimiter is the per-execution resource policy: it owns the memory
// ceiling decision (MemoryGrowing / TableGrowing) and the usage accounting
// an execution reports in its metadata. Each execution gets a fresh
// limiter; it is not safe for concurrent use.
type SandboxLimiter struct {
	maxMemory     uint64
	currentMemory uint64
	peakMemory    uint64
	exceeded      bool
}

// NewSandboxLimiter returns a limiter enforcing the given memory ceiling in
// bytes.
func NewSandboxLimiter(maxMemory uint64) *SandboxLimiter {
	return &SandboxLimiter{maxMemory: maxMemory}
}

// MemoryGrowing decides whether a linear memory grow from current to
// desired bytes is allowed. A denial is sticky: Exceeded stays true for the
// rest of the execution even if later, smaller requests would fit.
func (l *SandboxLimiter) MemoryGrowing(current, desired uint64) bool {
	if desired > l.maxMemory {
		l.exceeded = true
		return false
	}
	l.currentMemory = desired
	if desired > l.peakMemory {
		l.peakMemory = desired
	}
	return true
}

// TableGrowing decides whether a table grow to desired elements is allowed.
// Table denials do not set the exceeded flag; only memory pressure does.
func (l *SandboxLimiter) TableGrowing(current, desired uint64) bool {
	return desired <= maxTableElements
}

// Observe records an externally measured linear memory size. Wasm memories
// never shrink, so the size observed after a run is also the peak.
func (l *SandboxLimiter) Observe(bytes uint64) {
	l.currentMemory = bytes
	if bytes > l.peakMemory {
		l.peakMemory = bytes
	}
}

// Exceeded reports whether the memory ceiling was hit during this
// execution.
func (l *SandboxLimiter) Exceeded() bool { return l.exceeded }

// CurrentMemory returns the last recorded linear memory size in bytes.
func (l *SandboxLimiter) CurrentMemory() uint64 { return l.currentMemory }

// PeakMemory returns the largest linear memory size recorded in bytes.
func (l *SandboxLimiter) PeakMemory() uint64 { return l.peakMemory }

// MaxMemory returns the configured ceiling in bytes.
func (l *SandboxLimiter) MaxMemory() uint64 { return l.maxMemory }

func (l *SandboxLimiter) markExceeded() { l.exceeded = true }

// install configures the store to enforce this limiter's ceilings. The
// engine checks them on every grow; the limiter keeps the accounting side
// through Observe and markExceeded.
func (l *SandboxLimiter) install(store *wasmtime.Store) {
	store.Limiter(int64(l.maxMemory), maxTableElements, -1, -1, -1)
}

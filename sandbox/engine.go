package sandbox

import (
	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"
)

// Engine wraps a wasmtime engine configured for sandboxing. Engines are
// safe to share between sandboxes; sharing one lets concurrent executions
// reuse the same compiled interpreter code. Interrupt-counter (epoch)
// support is always on.
type Engine struct {
	engine      *wasmtime.Engine
	fuelEnabled bool
}

// NewEngine returns an engine without fuel accounting.
func NewEngine() *Engine { return newEngine(false) }

// NewEngineWithFuel returns an engine with per-instruction fuel accounting.
// Required for configs with a MaxFuel budget; executions on such an engine
// always charge fuel, so only use it when budgets are wanted.
func NewEngineWithFuel() *Engine { return newEngine(true) }

func newEngine(consumeFuel bool) *Engine {
	cfg := wasmtime.NewConfig()
	cfg.SetEpochInterruption(true)
	if consumeFuel {
		cfg.SetConsumeFuel(true)
	}
	return &Engine{
		engine:      wasmtime.NewEngineWithConfig(cfg),
		fuelEnabled: consumeFuel,
	}
}

// IncrementEpoch advances the engine-wide interrupt counter by one. Running
// code on this engine traps once the counter passes its store's deadline.
func (e *Engine) IncrementEpoch() { e.engine.IncrementEpoch() }

// FuelEnabled reports whether this engine charges fuel.
func (e *Engine) FuelEnabled() bool { return e.fuelEnabled }

func (e *Engine) wasmtime() *wasmtime.Engine { return e.engine }

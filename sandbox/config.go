package sandbox

import (
	"fmt"
	"time"
)

// Defaults applied by NewConfig and DefaultConfig.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultMaxMemory         = 64 * 1024 * 1024
	DefaultInterpreterPath   = "assets/rustpython.wasm"
	DefaultEpochTickInterval = 10 * time.Millisecond
)

// EnvVar is a single KEY=VALUE pair passed to the guest environment.
type EnvVar struct {
	Key   string
	Value string
}

// SandboxConfig controls a PythonSandbox. Build one with NewConfig; the
// zero value is not usable (Validate rejects it).
type SandboxConfig struct {
	// Timeout is the wall-clock limit per execution.
	Timeout time.Duration
	// MaxMemory is the guest linear memory ceiling in bytes.
	MaxMemory uint64
	// MaxFuel is the instruction budget per execution. Zero disables fuel
	// accounting.
	MaxFuel uint64
	// InterpreterPath locates the Python interpreter wasm artifact.
	InterpreterPath string
	// EpochTickInterval is how often the interrupt counter advances while an
	// execution is in flight.
	EpochTickInterval time.Duration
	// Stdin, when non-empty, is fed to the guest and takes precedence over
	// the input argument of ExecuteWithInput.
	Stdin string
	// EnvVars are passed to the guest in order.
	EnvVars []EnvVar
	// Prelude, when non-empty, is prepended to every executed source string
	// with a newline separator.
	Prelude string
}

// DefaultConfig returns the stock configuration: 30s timeout, 64MB memory,
// no fuel accounting, interpreter at assets/rustpython.wasm.
func DefaultConfig() SandboxConfig {
	return NewConfig().Build()
}

// Validate checks the invariants every execution relies on.
func (c SandboxConfig) Validate() error {
	if c.Timeout <= 0 {
		return errConfig(fmt.Sprintf("timeout must be positive, got %s", c.Timeout))
	}
	if c.MaxMemory == 0 {
		return errConfig("max memory must be nonzero")
	}
	if c.EpochTickInterval <= 0 {
		return errConfig(fmt.Sprintf("epoch tick interval must be positive, got %s", c.EpochTickInterval))
	}
	return nil
}

// ConfigBuilder accumulates settings on top of the defaults. Later calls to
// the same setter override earlier ones; Env appends.
type ConfigBuilder struct {
	cfg SandboxConfig
}

// NewConfig starts a builder preloaded with the default configuration.
func NewConfig() *ConfigBuilder {
	return &ConfigBuilder{cfg: SandboxConfig{
		Timeout:           DefaultTimeout,
		MaxMemory:         DefaultMaxMemory,
		InterpreterPath:   DefaultInterpreterPath,
		EpochTickInterval: DefaultEpochTickInterval,
	}}
}

// Timeout sets the wall-clock limit per execution.
func (b *ConfigBuilder) Timeout(d time.Duration) *ConfigBuilder {
	b.cfg.Timeout = d
	return b
}

// MaxMemory sets the guest linear memory ceiling in bytes.
func (b *ConfigBuilder) MaxMemory(bytes uint64) *ConfigBuilder {
	b.cfg.MaxMemory = bytes
	return b
}

// MaxFuel enables fuel accounting with the given instruction budget.
func (b *ConfigBuilder) MaxFuel(fuel uint64) *ConfigBuilder {
	b.cfg.MaxFuel = fuel
	return b
}

// InterpreterPath points the sandbox at a Python interpreter wasm artifact.
func (b *ConfigBuilder) InterpreterPath(path string) *ConfigBuilder {
	b.cfg.InterpreterPath = path
	return b
}

// EpochTickInterval sets the interrupt counter tick interval.
func (b *ConfigBuilder) EpochTickInterval(d time.Duration) *ConfigBuilder {
	b.cfg.EpochTickInterval = d
	return b
}

// Stdin fixes the guest stdin payload for every execution.
func (b *ConfigBuilder) Stdin(data string) *ConfigBuilder {
	b.cfg.Stdin = data
	return b
}

// Env appends one guest environment variable.
func (b *ConfigBuilder) Env(key, value string) *ConfigBuilder {
	b.cfg.EnvVars = append(b.cfg.EnvVars, EnvVar{Key: key, Value: value})
	return b
}

// Envs appends several guest environment variables at once.
func (b *ConfigBuilder) Envs(vars ...EnvVar) *ConfigBuilder {
	b.cfg.EnvVars = append(b.cfg.EnvVars, vars...)
	return b
}

// Prelude sets code prepended to every executed source string.
func (b *ConfigBuilder) Prelude(code string) *ConfigBuilder {
	b.cfg.Prelude = code
	return b
}

// Build returns the accumulated configuration. The builder stays usable;
// each Build returns an independent copy.
func (b *ConfigBuilder) Build() SandboxConfig {
	cfg := b.cfg
	cfg.EnvVars = append([]EnvVar(nil), b.cfg.EnvVars...)
	return cfg
}

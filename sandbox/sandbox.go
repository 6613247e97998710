package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/sirupsen/logrus"
)

// ExecutionMetadata describes how an execution behaved.
type ExecutionMetadata struct {
	// Duration is the wall-clock time the execution took.
	Duration time.Duration `json:"duration"`
	// PeakMemory is the largest guest linear memory size observed, in bytes.
	PeakMemory uint64 `json:"peak_memory"`
	// FuelConsumed is the number of instructions charged. Nil when the
	// engine does not account fuel.
	FuelConsumed *uint64 `json:"fuel_consumed,omitempty"`
	// UsedCachedModule reports whether the interpreter module came from a
	// cache rather than being compiled for this sandbox.
	UsedCachedModule bool `json:"used_cached_module"`
}

// ExecutionResult is the outcome of a guest run that completed on its own.
// A nonzero ExitCode is still a result, not an error: uncaught Python
// exceptions and explicit sys.exit calls land here with their stderr
// intact.
type ExecutionResult struct {
	Stdout   string            `json:"stdout"`
	Stderr   string            `json:"stderr"`
	ExitCode int               `json:"exit_code"`
	Metadata ExecutionMetadata `json:"metadata"`
}

// IsSuccess reports whether the guest exited with status zero.
func (r *ExecutionResult) IsSuccess() bool { return r.ExitCode == 0 }

// PythonSandbox runs untrusted Python source strings in a wasm VM. A
// sandbox is immutable after New and safe for concurrent use; every
// execution gets a fresh store, limiter, and stdio capture.
type PythonSandbox struct {
	config SandboxConfig
	engine *Engine
	module *wasmtime.Module
	cached bool
	logger *logrus.Logger
}

// New builds a sandbox for the given configuration. The interpreter module
// is resolved through the process-wide cache unless an option says
// otherwise.
func New(config SandboxConfig, opts ...Option) (*PythonSandbox, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	engine := o.engine
	if engine == nil {
		if config.MaxFuel > 0 {
			engine = NewEngineWithFuel()
		} else {
			engine = NewEngine()
		}
	} else if config.MaxFuel > 0 && !engine.FuelEnabled() {
		return nil, errConfig("max fuel requires an engine with fuel accounting")
	}

	logger := o.logger
	if logger == nil {
		logger = nopLogger()
	}

	var (
		module *wasmtime.Module
		cached bool
		err    error
	)
	if o.useCache {
		cache := o.cache
		if cache == nil {
			cache = GlobalCache()
		}
		cached = cache.Contains(config.InterpreterPath)
		module, err = cache.GetOrCompile(engine, config.InterpreterPath)
	} else {
		key, cerr := canonicalPath(config.InterpreterPath)
		if cerr != nil {
			if os.IsNotExist(cerr) {
				return nil, errInterpreterNotFound(config.InterpreterPath)
			}
			return nil, errIO(cerr)
		}
		module, err = compileModule(engine, key)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"interpreter": config.InterpreterPath,
		"cached":      cached,
		"timeout":     config.Timeout,
		"max_memory":  config.MaxMemory,
		"max_fuel":    config.MaxFuel,
	}).Debug("sandbox created")

	return &PythonSandbox{
		config: config,
		engine: engine,
		module: module,
		cached: cached,
		logger: logger,
	}, nil
}

// Config returns the sandbox configuration.
func (s *PythonSandbox) Config() SandboxConfig { return s.config }

// Engine returns the engine this sandbox runs on, for sharing with other
// sandboxes.
func (s *PythonSandbox) Engine() *Engine { return s.engine }

// UsesCachedModule reports whether New found the interpreter already
// compiled.
func (s *PythonSandbox) UsesCachedModule() bool { return s.cached }

// Execute runs code with no stdin beyond what the config provides.
func (s *PythonSandbox) Execute(ctx context.Context, code string) (*ExecutionResult, error) {
	return s.execute(ctx, code, "")
}

// ExecuteWithInput runs code with input as the guest's stdin. Config-level
// stdin, when set, takes precedence over input.
func (s *PythonSandbox) ExecuteWithInput(ctx context.Context, code, input string) (*ExecutionResult, error) {
	return s.execute(ctx, code, input)
}

type runOutcome struct {
	result *ExecutionResult
	err    error
}

func (s *PythonSandbox) execute(ctx context.Context, code, input string) (*ExecutionResult, error) {
	start := time.Now()
	s.logger.WithFields(logrus.Fields{
		"code_len":  len(code),
		"has_input": input != "",
	}).Debug("starting execution")

	resCh := make(chan runOutcome, 1)
	stopTicker := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.config.EpochTickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopTicker:
				return
			case <-ticker.C:
				s.engine.IncrementEpoch()
			}
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- runOutcome{err: errExecutionFailed("task panicked: %v", r)}
			}
		}()
		result, err := s.runSync(code, input, start)
		resCh <- runOutcome{result: result, err: err}
	}()

	// The run goroutine is abandoned, not joined, when a deadline fires.
	// Bursting the interrupt counter past the store's full deadline makes
	// the guest trap at its next safepoint, so the VM unwinds promptly even
	// on early cancellation. The drain goroutine stops the ticker once it
	// has. On a shared engine the burst costs other in-flight executions
	// part of their tick budget; their deadlines carry the same slack.
	abandon := func() {
		for i := uint64(0); i < s.deadlineTicks(); i++ {
			s.engine.IncrementEpoch()
		}
		go func() {
			<-resCh
			close(stopTicker)
		}()
	}

	timer := time.NewTimer(s.config.Timeout)
	defer timer.Stop()

	select {
	case out := <-resCh:
		close(stopTicker)
		if out.err != nil {
			s.logger.WithError(out.err).Debug("execution errored")
			return nil, out.err
		}
		s.logger.WithFields(logrus.Fields{
			"exit_code":   out.result.ExitCode,
			"duration_ms": out.result.Metadata.Duration.Milliseconds(),
			"peak_memory": out.result.Metadata.PeakMemory,
		}).Info("execution finished")
		return out.result, nil
	case <-timer.C:
		abandon()
		s.logger.WithField("timeout", s.config.Timeout).Warn("execution timed out")
		return nil, errTimeout(s.config.Timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// runSync performs one blocking execution: store setup, WASI wiring,
// instantiation, the _start call, and outcome classification. It runs on
// the dedicated goroutine execute spawns.
func (s *PythonSandbox) runSync(code, input string, start time.Time) (*ExecutionResult, error) {
	source := code
	if s.config.Prelude != "" {
		source = s.config.Prelude + "\n" + code
	}
	stdin := input
	if s.config.Stdin != "" {
		stdin = s.config.Stdin
	}

	capture, err := newExecIO(stdin)
	if err != nil {
		return nil, errIO(err)
	}
	defer capture.Close()

	wasi := wasmtime.NewWasiConfig()
	wasi.SetArgv([]string{"python", "-c", source})
	if len(s.config.EnvVars) > 0 {
		keys := make([]string, len(s.config.EnvVars))
		values := make([]string, len(s.config.EnvVars))
		for i, v := range s.config.EnvVars {
			keys[i] = v.Key
			values[i] = v.Value
		}
		wasi.SetEnv(keys, values)
	}
	// No preopened directories: the guest gets stdio and nothing else.
	if err := wasi.SetStdinFile(capture.stdinPath); err != nil {
		return nil, errRuntimeInit(err)
	}
	if err := wasi.SetStdoutFile(capture.stdoutPath); err != nil {
		return nil, errRuntimeInit(err)
	}
	if err := wasi.SetStderrFile(capture.stderrPath); err != nil {
		return nil, errRuntimeInit(err)
	}

	store := wasmtime.NewStore(s.engine.wasmtime())
	limiter := NewSandboxLimiter(s.config.MaxMemory)
	limiter.install(store)
	store.SetWasi(wasi)

	// Deadline sized to the full timeout in ticks. The wall-clock timer in
	// execute is the primary enforcement; the epoch deadline is the backstop
	// that kills the guest, immediately after abandonment or at roughly the
	// timeout if the host timer never fires.
	store.SetEpochDeadline(s.deadlineTicks())

	var initialFuel uint64
	if s.config.MaxFuel > 0 {
		initialFuel = s.config.MaxFuel
		if err := store.SetFuel(initialFuel); err != nil {
			return nil, errRuntimeInit(err)
		}
	}

	linker := wasmtime.NewLinker(s.engine.wasmtime())
	if err := linker.DefineWasi(); err != nil {
		return nil, errRuntimeInit(err)
	}

	instance, err := linker.Instantiate(store, s.module)
	if err != nil {
		if isResourceLimitError(err) {
			limiter.markExceeded()
			return nil, errMemoryLimit(err.Error())
		}
		return nil, errModuleLoad(err)
	}

	startFn := instance.GetFunc(store, "_start")
	if startFn == nil {
		return nil, errModuleLoad(errors.New("interpreter module has no _start export"))
	}

	_, callErr := startFn.Call(store)

	if ext := instance.GetExport(store, "memory"); ext != nil {
		if mem := ext.Memory(); mem != nil {
			limiter.Observe(uint64(mem.DataSize(store)))
		}
	}

	exitCode := 0
	if callErr != nil {
		ec, serr := s.classifyCallError(callErr, store, limiter, start, initialFuel)
		if serr != nil {
			return nil, serr
		}
		exitCode = ec
	}

	stdout, err := capture.Stdout()
	if err != nil {
		return nil, errIO(err)
	}
	stderr, err := capture.Stderr()
	if err != nil {
		return nil, errIO(err)
	}

	var consumed *uint64
	if s.engine.FuelEnabled() && initialFuel > 0 {
		c := fuelConsumed(store, initialFuel)
		consumed = &c
	}

	return &ExecutionResult{
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Metadata: ExecutionMetadata{
			Duration:         time.Since(start),
			PeakMemory:       limiter.PeakMemory(),
			FuelConsumed:     consumed,
			UsedCachedModule: s.cached,
		},
	}, nil
}

// classifyCallError maps a _start failure to either an exit code (clean
// guest exit, returned as data) or a SandboxError. The precedence is fixed:
// memory ceiling, interrupt, fuel exhaustion, exit status, then the
// catch-all.
func (s *PythonSandbox) classifyCallError(callErr error, store *wasmtime.Store, limiter *SandboxLimiter, start time.Time, initialFuel uint64) (int, error) {
	if limiter.Exceeded() || isResourceLimitError(callErr) {
		limiter.markExceeded()
		return 0, errMemoryLimit(callErr.Error())
	}

	var trap *wasmtime.Trap
	if errors.As(callErr, &trap) {
		if code := trap.Code(); code != nil {
			switch *code {
			case wasmtime.Interrupt:
				return 0, errTimeout(time.Since(start))
			case wasmtime.OutOfFuel:
				return 0, errOutOfFuel(fuelConsumed(store, initialFuel))
			}
		}
	}

	// Fallback for error chains that lose the structured trap. Fragile by
	// nature; the trap-code path above is the one that should hit.
	msg := strings.ToLower(callErr.Error())
	if strings.Contains(msg, "epoch") || strings.Contains(msg, "interrupt") {
		return 0, errTimeout(time.Since(start))
	}
	if strings.Contains(msg, "fuel") {
		return 0, errOutOfFuel(fuelConsumed(store, initialFuel))
	}

	var werr *wasmtime.Error
	if errors.As(callErr, &werr) {
		if status, ok := werr.ExitStatus(); ok {
			return int(status), nil
		}
	}

	return 0, errExecutionFailed("%s", callErr.Error())
}

// deadlineTicks is the epoch budget a store gets: the full timeout in tick
// intervals, plus one so a store never starts at its deadline.
func (s *PythonSandbox) deadlineTicks() uint64 {
	return uint64(s.config.Timeout/s.config.EpochTickInterval) + 1
}

// fuelConsumed reads how much of the initial budget the store has charged.
func fuelConsumed(store *wasmtime.Store, initial uint64) uint64 {
	remaining, err := store.GetFuel()
	if err != nil || remaining > initial {
		return initial
	}
	return initial - remaining
}

// isResourceLimitError matches the engine's wording for limiter-denied
// allocations.
func isResourceLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "exceeds memory limits") ||
		strings.Contains(msg, "resource limit")
}

func nopLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

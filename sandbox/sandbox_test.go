package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	wasmtime "github.com/bytecodealliance/wasmtime-go/v25"

	"github.com/snakepit-dev/snakepit/sandbox"
)

// Minimal guest programs. The sandbox does not care that they are not a
// Python interpreter, which lets the execution protocol be tested without
// the real artifact.
const (
	watExitClean = `(module
  (memory (export "memory") 1)
  (func (export "_start")))`

	watBusyLoop = `(module
  (memory (export "memory") 1)
  (func (export "_start") (loop (br 0))))`

	watTrap = `(module
  (memory (export "memory") 1)
  (func (export "_start") unreachable))`

	watExitSeven = `(module
  (import "wasi_snapshot_preview1" "proc_exit" (func $exit (param i32)))
  (memory (export "memory") 1)
  (func (export "_start") (call $exit (i32.const 7))))`

	// 200 pages is a 12.8MB minimum memory, far past a 1MB ceiling.
	watBigMemory = `(module
  (memory (export "memory") 200)
  (func (export "_start")))`
)

func watGuest(t *testing.T, wat string) string {
	t.Helper()
	wasm, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}
	path := filepath.Join(t.TempDir(), "guest.wasm")
	if err := os.WriteFile(path, wasm, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newGuestSandbox(t *testing.T, wat string, cfg *sandbox.ConfigBuilder) *sandbox.PythonSandbox {
	t.Helper()
	sb, err := sandbox.New(
		cfg.InterpreterPath(watGuest(t, wat)).Build(),
		sandbox.WithCache(sandbox.NewModuleCache()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func TestExecuteCleanExit(t *testing.T) {
	sb := newGuestSandbox(t, watExitClean, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess() {
		t.Errorf("ExitCode = %d, want 0", result.ExitCode)
	}
	if result.Stdout != "" || result.Stderr != "" {
		t.Errorf("unexpected output %q / %q", result.Stdout, result.Stderr)
	}
	if result.Metadata.Duration <= 0 {
		t.Error("Duration not recorded")
	}
	if result.Metadata.PeakMemory < 64*1024 {
		t.Errorf("PeakMemory = %d, want at least one wasm page", result.Metadata.PeakMemory)
	}
	if result.Metadata.FuelConsumed != nil {
		t.Error("FuelConsumed set without fuel accounting")
	}
}

func TestExecuteExitCodeIsData(t *testing.T) {
	sb := newGuestSandbox(t, watExitSeven, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("a guest exit must not be an error, got %v", err)
	}
	if result.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", result.ExitCode)
	}
	if result.IsSuccess() {
		t.Error("IsSuccess true for a nonzero exit")
	}
}

func TestExecuteTrapIsExecutionFailed(t *testing.T) {
	sb := newGuestSandbox(t, watTrap, sandbox.NewConfig())

	_, err := sb.Execute(context.Background(), "")
	if err == nil {
		t.Fatal("expected an error")
	}
	var serr *sandbox.SandboxError
	if !errors.As(err, &serr) || serr.Kind != sandbox.ErrExecutionFailed {
		t.Errorf("got %v, want ErrExecutionFailed", err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	sb := newGuestSandbox(t, watBusyLoop, sandbox.NewConfig().
		Timeout(250*time.Millisecond).
		EpochTickInterval(5*time.Millisecond))

	start := time.Now()
	_, err := sb.Execute(context.Background(), "")
	elapsed := time.Since(start)

	if !sandbox.IsTimeout(err) {
		t.Fatalf("got %v, want a timeout", err)
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took %s to fire", elapsed)
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	sb := newGuestSandbox(t, watBusyLoop, sandbox.NewConfig().
		Timeout(10*time.Second).
		EpochTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := sb.Execute(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestExecuteOutOfFuel(t *testing.T) {
	sb := newGuestSandbox(t, watBusyLoop, sandbox.NewConfig().
		Timeout(10*time.Second).
		MaxFuel(100_000))

	_, err := sb.Execute(context.Background(), "")
	if !sandbox.IsOutOfFuel(err) {
		t.Fatalf("got %v, want out of fuel", err)
	}
	var serr *sandbox.SandboxError
	if errors.As(err, &serr) {
		if serr.FuelConsumed == 0 || serr.FuelConsumed > 100_000 {
			t.Errorf("FuelConsumed = %d, want within the budget", serr.FuelConsumed)
		}
	}
}

func TestExecuteFuelConsumedMetadata(t *testing.T) {
	sb := newGuestSandbox(t, watExitClean, sandbox.NewConfig().
		MaxFuel(1_000_000))

	result, err := sb.Execute(context.Background(), "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Metadata.FuelConsumed == nil {
		t.Fatal("FuelConsumed missing with fuel accounting on")
	}
	if *result.Metadata.FuelConsumed >= 1_000_000 {
		t.Errorf("FuelConsumed = %d, want below the budget", *result.Metadata.FuelConsumed)
	}
}

func TestExecuteMemoryLimitAtInstantiation(t *testing.T) {
	sb := newGuestSandbox(t, watBigMemory, sandbox.NewConfig().
		MaxMemory(1024*1024))

	_, err := sb.Execute(context.Background(), "")
	if !sandbox.IsMemoryLimit(err) {
		t.Fatalf("got %v, want a memory limit error", err)
	}
}

func TestExecuteConcurrent(t *testing.T) {
	sb := newGuestSandbox(t, watExitClean, sandbox.NewConfig())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := sb.Execute(context.Background(), "")
			if err == nil && !result.IsSuccess() {
				err = errors.New("nonzero exit")
			}
			errs[i] = err
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := sandbox.New(sandbox.SandboxConfig{})
	var serr *sandbox.SandboxError
	if !errors.As(err, &serr) || serr.Kind != sandbox.ErrConfig {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestNewMissingInterpreter(t *testing.T) {
	cfg := sandbox.NewConfig().
		InterpreterPath(filepath.Join(t.TempDir(), "missing.wasm")).
		Build()
	_, err := sandbox.New(cfg)
	var serr *sandbox.SandboxError
	if !errors.As(err, &serr) || serr.Kind != sandbox.ErrInterpreterNotFound {
		t.Errorf("got %v, want ErrInterpreterNotFound", err)
	}
}

func TestNewRejectsFuelOnPlainEngine(t *testing.T) {
	cfg := sandbox.NewConfig().
		InterpreterPath(watGuest(t, watExitClean)).
		MaxFuel(1000).
		Build()
	_, err := sandbox.New(cfg, sandbox.WithEngine(sandbox.NewEngine()))
	var serr *sandbox.SandboxError
	if !errors.As(err, &serr) || serr.Kind != sandbox.ErrConfig {
		t.Errorf("got %v, want ErrConfig", err)
	}
}

func TestNewCacheModes(t *testing.T) {
	path := watGuest(t, watExitClean)
	cache := sandbox.NewModuleCache()
	engine := sandbox.NewEngine()
	cfg := sandbox.NewConfig().InterpreterPath(path).Build()

	first, err := sandbox.New(cfg, sandbox.WithCache(cache), sandbox.WithEngine(engine))
	if err != nil {
		t.Fatal(err)
	}
	if first.UsesCachedModule() {
		t.Error("first sandbox reported a cache hit")
	}

	second, err := sandbox.New(cfg, sandbox.WithCache(cache), sandbox.WithEngine(engine))
	if err != nil {
		t.Fatal(err)
	}
	if !second.UsesCachedModule() {
		t.Error("second sandbox missed the cache")
	}

	uncached, err := sandbox.New(cfg, sandbox.WithoutCache(), sandbox.WithEngine(engine))
	if err != nil {
		t.Fatal(err)
	}
	if uncached.UsesCachedModule() {
		t.Error("WithoutCache sandbox reported a cache hit")
	}
	if cache.Len() != 1 {
		t.Errorf("cache Len = %d, want 1", cache.Len())
	}
}

func TestSharedEngine(t *testing.T) {
	path := watGuest(t, watExitClean)
	engine := sandbox.NewEngine()
	cache := sandbox.NewModuleCache()
	cfg := sandbox.NewConfig().InterpreterPath(path).Build()

	a, err := sandbox.New(cfg, sandbox.WithEngine(engine), sandbox.WithCache(cache))
	if err != nil {
		t.Fatal(err)
	}
	b, err := sandbox.New(cfg, sandbox.WithEngine(engine), sandbox.WithCache(cache))
	if err != nil {
		t.Fatal(err)
	}
	if a.Engine() != b.Engine() {
		t.Error("sandboxes do not share the engine")
	}

	ra, err := a.Execute(context.Background(), "")
	if err != nil || !ra.IsSuccess() {
		t.Errorf("a: %v", err)
	}
	rb, err := b.Execute(context.Background(), "")
	if err != nil || !rb.IsSuccess() {
		t.Errorf("b: %v", err)
	}
}

// --- Integration tests against the real interpreter artifact ---

// pythonInterpreter returns the rustpython artifact path, skipping the test
// when it is not present. Fetch it with: go run ./internal/tools/download
func pythonInterpreter(t *testing.T) string {
	t.Helper()
	if path := os.Getenv("SNAKEPIT_INTERPRETER"); path != "" {
		return path
	}
	path := filepath.Join("..", "assets", "rustpython.wasm")
	if _, err := os.Stat(path); err != nil {
		t.Skip("rustpython.wasm not present; run go run ./internal/tools/download")
	}
	return path
}

func pythonSandbox(t *testing.T, cfg *sandbox.ConfigBuilder) *sandbox.PythonSandbox {
	t.Helper()
	sb, err := sandbox.New(
		cfg.InterpreterPath(pythonInterpreter(t)).Build(),
		sandbox.WithEngine(sandbox.GetTestEngine()),
		sandbox.WithCache(sandbox.GetTestCache()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sb
}

func TestPythonHelloWorld(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(), "print(1 + 1)")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsSuccess() {
		t.Fatalf("exit %d, stderr: %s", result.ExitCode, result.Stderr)
	}
	if strings.TrimSpace(result.Stdout) != "2" {
		t.Errorf("stdout = %q, want 2", result.Stdout)
	}
}

func TestPythonStdin(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.ExecuteWithInput(context.Background(),
		"import sys; print(sys.stdin.read().upper())", "hello")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "HELLO" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestPythonConfigStdinWins(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig().Stdin("config"))

	result, err := sb.ExecuteWithInput(context.Background(),
		"import sys; print(sys.stdin.read())", "call")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "config" {
		t.Errorf("stdout = %q, want the config-level stdin", result.Stdout)
	}
}

func TestPythonEnvVars(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig().Env("GREETING", "hi"))

	result, err := sb.Execute(context.Background(),
		"import os; print(os.environ.get('GREETING', 'missing'))")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "hi" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestPythonPrelude(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig().Prelude("x = 40"))

	result, err := sb.Execute(context.Background(), "print(x + 2)")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "42" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestPythonUncaughtExceptionIsData(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(), "1 / 0")
	if err != nil {
		t.Fatalf("an uncaught exception must not be a sandbox error, got %v", err)
	}
	if result.IsSuccess() {
		t.Error("exit code 0 for an uncaught exception")
	}
	exc := sandbox.ParsePythonException(result.Stderr)
	if exc == nil {
		t.Fatalf("no exception parsed from stderr %q", result.Stderr)
	}
	if exc.Type != "ZeroDivisionError" {
		t.Errorf("exception type = %q", exc.Type)
	}
}

func TestPythonSysExit(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(), "import sys; sys.exit(3)")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
}

func TestPythonInfiniteLoopTimesOut(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig().
		Timeout(500*time.Millisecond).
		EpochTickInterval(5*time.Millisecond))

	_, err := sb.Execute(context.Background(), "while True: pass")
	if !sandbox.IsTimeout(err) {
		t.Fatalf("got %v, want a timeout", err)
	}
}

func TestPythonNoFilesystemAccess(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(),
		"open('/etc/passwd').read()")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsSuccess() {
		t.Fatalf("guest opened a host file; stdout: %s", result.Stdout)
	}
}

func TestPythonHostEnvNotLeaked(t *testing.T) {
	t.Setenv("SNAKEPIT_SECRET", "hunter2")
	sb := pythonSandbox(t, sandbox.NewConfig())

	result, err := sb.Execute(context.Background(),
		"import os; print(os.environ.get('SNAKEPIT_SECRET', 'unset'))")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "unset" {
		t.Error("host environment leaked into the guest")
	}
}

func TestPythonMemoryLimit(t *testing.T) {
	sb := pythonSandbox(t, sandbox.NewConfig().
		MaxMemory(32*1024*1024).
		Timeout(10*time.Second))

	result, err := sb.Execute(context.Background(),
		"x = ' ' * (64 * 1024 * 1024)")
	if err != nil {
		if !sandbox.IsMemoryLimit(err) {
			t.Fatalf("got %v, want a memory limit error", err)
		}
		return
	}
	// A denied grow can also surface inside the guest as MemoryError.
	if result.IsSuccess() {
		t.Error("guest allocated past the ceiling")
	}
}

package sandbox

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind discriminates the failure classes a sandboxed execution can
// produce. Guest-level failures (an uncaught Python exception, a nonzero
// exit) are not errors at all; they come back as a successful
// ExecutionResult. SandboxError is reserved for the host side: the VM, its
// limits, and the machinery around it.
type ErrorKind int

const (
	// ErrTimeout means the wall-clock deadline elapsed before the guest
	// finished.
	ErrTimeout ErrorKind = iota
	// ErrMemoryLimitExceeded means the guest tried to grow past the
	// configured linear memory ceiling.
	ErrMemoryLimitExceeded
	// ErrRuntimeInit covers failures wiring up the VM before the guest ran.
	ErrRuntimeInit
	// ErrModuleLoad covers compile, link, and instantiation failures of the
	// interpreter module.
	ErrModuleLoad
	// ErrExecutionFailed is the catch-all for engine-level failures that fit
	// no more specific kind, including guest panics surfaced as traps.
	ErrExecutionFailed
	// ErrPythonException carries a parsed Python exception. Produced only by
	// FromPythonStderr; the execution path never returns it on its own.
	ErrPythonException
	// ErrIO covers host-side I/O failures around the capture files.
	ErrIO
	// ErrConfig means the SandboxConfig failed validation.
	ErrConfig
	// ErrInterpreterNotFound means the configured interpreter path does not
	// resolve to a file.
	ErrInterpreterNotFound
	// ErrOutOfFuel means the instruction budget was exhausted.
	ErrOutOfFuel
)

// String returns a stable snake_case name, used in logs and API payloads.
func (k ErrorKind) String() string {
	switch k {
	case ErrTimeout:
		return "timeout"
	case ErrMemoryLimitExceeded:
		return "memory_limit_exceeded"
	case ErrRuntimeInit:
		return "runtime_init"
	case ErrModuleLoad:
		return "module_load"
	case ErrExecutionFailed:
		return "execution_failed"
	case ErrPythonException:
		return "python_exception"
	case ErrIO:
		return "io"
	case ErrConfig:
		return "config"
	case ErrInterpreterNotFound:
		return "interpreter_not_found"
	case ErrOutOfFuel:
		return "out_of_fuel"
	default:
		return "unknown"
	}
}

// PythonException is a Python exception reconstructed from guest stderr.
type PythonException struct {
	// Type is the exception class name, e.g. "ValueError".
	Type string
	// Message is the text after the colon, empty when the exception line had
	// none.
	Message string
	// Traceback is the raw traceback block when one preceded the exception
	// line, empty otherwise.
	Traceback string
}

// SandboxError is the error type returned by every operation in this
// package. Inspect Kind (or the Is* helpers) to branch on the failure class.
type SandboxError struct {
	Kind ErrorKind

	// Detail holds the human-readable specifics for kinds that carry text.
	Detail string
	// Duration is the configured timeout or observed elapsed time for
	// ErrTimeout.
	Duration time.Duration
	// FuelConsumed is the number of instructions charged before an
	// ErrOutOfFuel.
	FuelConsumed uint64
	// Exception is set for ErrPythonException.
	Exception *PythonException

	cause error
}

func (e *SandboxError) Error() string {
	switch e.Kind {
	case ErrTimeout:
		return fmt.Sprintf("execution timed out after %s", e.Duration)
	case ErrMemoryLimitExceeded:
		return fmt.Sprintf("memory limit exceeded: %s", e.Detail)
	case ErrRuntimeInit:
		return fmt.Sprintf("failed to initialize runtime: %v", e.cause)
	case ErrModuleLoad:
		return fmt.Sprintf("failed to load Python interpreter: %v", e.cause)
	case ErrExecutionFailed:
		return fmt.Sprintf("execution failed: %s", e.Detail)
	case ErrPythonException:
		if e.Exception.Message != "" {
			return fmt.Sprintf("Python %s: %s", e.Exception.Type, e.Exception.Message)
		}
		return fmt.Sprintf("Python %s", e.Exception.Type)
	case ErrIO:
		return fmt.Sprintf("I/O error: %v", e.cause)
	case ErrConfig:
		return fmt.Sprintf("configuration error: %s", e.Detail)
	case ErrInterpreterNotFound:
		return fmt.Sprintf("Python interpreter wasm not found at: %s", e.Detail)
	case ErrOutOfFuel:
		return fmt.Sprintf("execution ran out of fuel after %d instructions", e.FuelConsumed)
	default:
		return e.Detail
	}
}

// Unwrap exposes the wrapped cause for ErrRuntimeInit, ErrModuleLoad and
// ErrIO so errors.Is/As reach the underlying failure.
func (e *SandboxError) Unwrap() error { return e.cause }

// IsTimeout reports whether err is a sandbox timeout.
func IsTimeout(err error) bool { return hasKind(err, ErrTimeout) }

// IsMemoryLimit reports whether err is a memory ceiling violation.
func IsMemoryLimit(err error) bool { return hasKind(err, ErrMemoryLimitExceeded) }

// IsOutOfFuel reports whether err is an instruction budget exhaustion.
func IsOutOfFuel(err error) bool { return hasKind(err, ErrOutOfFuel) }

// IsPythonException reports whether err carries a parsed Python exception.
func IsPythonException(err error) bool { return hasKind(err, ErrPythonException) }

func hasKind(err error, kind ErrorKind) bool {
	var serr *SandboxError
	return errors.As(err, &serr) && serr.Kind == kind
}

func errTimeout(d time.Duration) *SandboxError {
	return &SandboxError{Kind: ErrTimeout, Duration: d}
}

func errMemoryLimit(detail string) *SandboxError {
	return &SandboxError{Kind: ErrMemoryLimitExceeded, Detail: detail}
}

func errRuntimeInit(cause error) *SandboxError {
	return &SandboxError{Kind: ErrRuntimeInit, cause: cause}
}

func errModuleLoad(cause error) *SandboxError {
	return &SandboxError{Kind: ErrModuleLoad, cause: cause}
}

func errExecutionFailed(format string, args ...any) *SandboxError {
	return &SandboxError{Kind: ErrExecutionFailed, Detail: fmt.Sprintf(format, args...)}
}

func errIO(cause error) *SandboxError {
	return &SandboxError{Kind: ErrIO, cause: cause}
}

func errConfig(detail string) *SandboxError {
	return &SandboxError{Kind: ErrConfig, Detail: detail}
}

func errInterpreterNotFound(path string) *SandboxError {
	return &SandboxError{Kind: ErrInterpreterNotFound, Detail: path}
}

func errOutOfFuel(consumed uint64) *SandboxError {
	return &SandboxError{Kind: ErrOutOfFuel, FuelConsumed: consumed}
}

const tracebackMarker = "Traceback (most recent call last):"

// Exception class names that match without an Error/Exception/Warning suffix.
var standaloneExceptions = []string{
	"KeyboardInterrupt",
	"SystemExit",
	"StopIteration",
	"GeneratorExit",
}

var exceptionSuffixes = []string{"Error", "Exception", "Warning"}

// ParsePythonException scans interpreter stderr for an uncaught Python
// exception and returns it, or nil when none is found. When several
// candidate lines appear (nested tracebacks, exception chaining) the last
// one wins, matching how CPython prints the finally-raised exception at the
// bottom.
func ParsePythonException(stderr string) *PythonException {
	if strings.TrimSpace(stderr) == "" {
		return nil
	}

	lines := strings.Split(stderr, "\n")
	tracebackStart := -1
	winner := -1

	for i, line := range lines {
		if strings.HasPrefix(line, tracebackMarker) {
			tracebackStart = i
		}
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "Traceback") {
			continue
		}
		if looksLikeException(line) {
			winner = i
		}
	}

	if winner < 0 {
		return nil
	}

	line := lines[winner]
	exc := &PythonException{}
	if idx := strings.Index(line, ":"); idx >= 0 {
		exc.Type = strings.TrimSpace(line[:idx])
		exc.Message = strings.TrimSpace(line[idx+1:])
	} else {
		exc.Type = strings.TrimSpace(line)
	}
	if tracebackStart >= 0 && tracebackStart <= winner {
		exc.Traceback = strings.Join(lines[tracebackStart:winner+1], "\n")
	}
	return exc
}

// looksLikeException reports whether a non-indented stderr line reads like
// the final line of a Python traceback.
func looksLikeException(line string) bool {
	if line == "" || line[0] < 'A' || line[0] > 'Z' {
		return false
	}
	for _, suffix := range exceptionSuffixes {
		if idx := strings.Index(line, suffix); idx >= 0 && boundaryAt(line, idx+len(suffix)) {
			return true
		}
	}
	for _, name := range standaloneExceptions {
		if strings.HasPrefix(line, name) && boundaryAt(line, len(name)) {
			return true
		}
	}
	return false
}

// boundaryAt reports whether position i ends the exception name: end of
// line, a colon, or a space.
func boundaryAt(line string, i int) bool {
	return i >= len(line) || line[i] == ':' || line[i] == ' '
}

// FromPythonStderr turns captured stderr into an ErrPythonException error,
// or nil when stderr contains no recognizable exception. Execution never
// calls this itself; uncaught guest exceptions surface as a nonzero
// ExitCode with the raw stderr, and callers that want the structured form
// opt in here.
func FromPythonStderr(stderr string) error {
	exc := ParsePythonException(stderr)
	if exc == nil {
		return nil
	}
	return &SandboxError{Kind: ErrPythonException, Exception: exc}
}

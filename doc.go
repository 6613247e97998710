// Package snakepit provides a WebAssembly-based sandbox for executing
// untrusted Python code safely.
//
// # Overview
//
// snakepit runs Python inside a WASM VM with zero default capabilities. The
// guest sees argv, configured environment variables, and stdio; there is no
// filesystem, network, or host access. Every execution is bounded by a
// wall-clock timeout, a linear memory ceiling, and optionally an
// instruction budget.
//
// # Basic Usage
//
//	sb, _ := sandbox.New(sandbox.DefaultConfig())
//	result, _ := sb.Execute(ctx, `print("hello")`)
//	fmt.Println(result.Stdout)
//
//	// With limits and stdin
//	cfg := sandbox.NewConfig().
//	    Timeout(5 * time.Second).
//	    MaxMemory(32 * 1024 * 1024).
//	    MaxFuel(50_000_000).
//	    Build()
//	sb, _ = sandbox.New(cfg)
//	result, _ = sb.ExecuteWithInput(ctx, code, "stdin data")
//
// Guest failures are data: an uncaught Python exception comes back as a
// result with a nonzero exit code and its traceback on stderr, which
// sandbox.ParsePythonException can turn into a structured form. Sandbox
// errors (timeout, memory ceiling, fuel exhaustion) are typed
// *sandbox.SandboxError values.
//
// See the [sandbox] package for the library API; cmd/snakepit provides a
// CLI with run, repl, and serve commands.
package snakepit

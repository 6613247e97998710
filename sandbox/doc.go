// Package sandbox executes untrusted Python code inside a WebAssembly VM.
//
// A PythonSandbox pairs a compiled Python interpreter module with a
// SandboxConfig and runs source strings under a wall-clock timeout, a linear
// memory ceiling, and an optional instruction budget. The guest sees only
// argv, environment variables, and stdio; it is granted no filesystem access,
// no network, and no host functions.
//
// Compiled modules are cached by canonical interpreter path (ModuleCache),
// and engines may be shared between sandboxes so concurrent executions reuse
// the same compiled machine code.
package sandbox

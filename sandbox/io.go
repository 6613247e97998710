package sandbox

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// execIO owns the stdio files for a single execution. The WASI layer wires
// stdin/stdout/stderr to file paths, so each execution gets a private temp
// directory holding the three of them, removed on Close.
type execIO struct {
	dir        string
	stdinPath  string
	stdoutPath string
	stderrPath string
}

// newExecIO creates the capture directory and writes the stdin payload.
// The stdin file exists even when input is empty so the guest always reads
// exactly the provided payload and never inherits a host stream.
func newExecIO(input string) (*execIO, error) {
	dir, err := os.MkdirTemp("", "snakepit-io-")
	if err != nil {
		return nil, err
	}
	io := &execIO{
		dir:        dir,
		stdinPath:  filepath.Join(dir, "stdin"),
		stdoutPath: filepath.Join(dir, "stdout"),
		stderrPath: filepath.Join(dir, "stderr"),
	}
	if err := os.WriteFile(io.stdinPath, []byte(input), 0o600); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	for _, p := range []string{io.stdoutPath, io.stderrPath} {
		if err := os.WriteFile(p, nil, 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, err
		}
	}
	return io, nil
}

// Stdout returns everything the guest wrote to stdout.
func (io *execIO) Stdout() (string, error) { return io.readCapture(io.stdoutPath) }

// Stderr returns everything the guest wrote to stderr.
func (io *execIO) Stderr() (string, error) { return io.readCapture(io.stderrPath) }

func (io *execIO) readCapture(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return lossyString(data), nil
}

// Close removes the capture directory.
func (io *execIO) Close() error { return os.RemoveAll(io.dir) }

// lossyString decodes bytes as UTF-8, replacing invalid sequences with the
// replacement character. Guests can write arbitrary bytes; output stays a
// valid string either way.
func lossyString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "�")
}

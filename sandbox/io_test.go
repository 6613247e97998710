package sandbox

import (
	"os"
	"strings"
	"testing"
)

func TestExecIORoundtrip(t *testing.T) {
	capture, err := newExecIO("stdin payload")
	if err != nil {
		t.Fatal(err)
	}
	defer capture.Close()

	data, err := os.ReadFile(capture.stdinPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "stdin payload" {
		t.Errorf("stdin file = %q", data)
	}

	if err := os.WriteFile(capture.stdoutPath, []byte("out\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(capture.stderrPath, []byte("err\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, err := capture.Stdout()
	if err != nil || stdout != "out\n" {
		t.Errorf("Stdout = %q, %v", stdout, err)
	}
	stderr, err := capture.Stderr()
	if err != nil || stderr != "err\n" {
		t.Errorf("Stderr = %q, %v", stderr, err)
	}
}

func TestExecIOEmptyStdin(t *testing.T) {
	capture, err := newExecIO("")
	if err != nil {
		t.Fatal(err)
	}
	defer capture.Close()

	// The stdin file must exist even when empty so the guest never reads a
	// host stream.
	info, err := os.Stat(capture.stdinPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("stdin size = %d, want 0", info.Size())
	}

	stdout, err := capture.Stdout()
	if err != nil || stdout != "" {
		t.Errorf("Stdout = %q, %v", stdout, err)
	}
}

func TestExecIOCloseRemovesDir(t *testing.T) {
	capture, err := newExecIO("x")
	if err != nil {
		t.Fatal(err)
	}
	if err := capture.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(capture.dir); !os.IsNotExist(err) {
		t.Errorf("capture dir still present after Close: %v", err)
	}
}

func TestLossyString(t *testing.T) {
	if got := lossyString([]byte("plain")); got != "plain" {
		t.Errorf("lossyString(plain) = %q", got)
	}
	got := lossyString([]byte{'a', 0xff, 'b'})
	if !strings.Contains(got, "a") || !strings.Contains(got, "b") {
		t.Errorf("lossyString dropped valid bytes: %q", got)
	}
	if strings.Contains(got, "\xff") {
		t.Errorf("lossyString kept an invalid byte: %q", got)
	}
}

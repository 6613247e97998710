// Command download fetches the RustPython WASI build used as the sandbox
// interpreter.
//
//	go run ./internal/tools/download [url output]
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

const (
	defaultURL    = "https://github.com/RustPython/RustPython/releases/download/v0.4.0/rustpython-wasi.wasm"
	defaultOutput = "assets/rustpython.wasm"
)

func main() {
	url, output := defaultURL, defaultOutput
	switch len(os.Args) {
	case 1:
	case 3:
		url, output = os.Args[1], os.Args[2]
	default:
		fmt.Fprintln(os.Stderr, "usage: download [url output]")
		os.Exit(1)
	}

	if _, err := os.Stat(output); err == nil {
		return
	}

	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "download failed: %s\n", resp.Status)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	f, err := os.Create(output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

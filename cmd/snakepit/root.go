package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snakepit-dev/snakepit/sandbox"
)

var rootCmd = &cobra.Command{
	Use:   "snakepit [file]",
	Short: "Run untrusted Python safely in a WebAssembly sandbox",
	Long: `snakepit - Execute untrusted Python code inside a WASM VM.

Code runs under a wall-clock timeout, a memory ceiling, and an optional
instruction budget. The sandboxed code has no access to the filesystem,
network, or host environment.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRun, // Default to run command behavior
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("interpreter", defaultInterpreter(),
		"Path to the Python interpreter wasm (env SNAKEPIT_INTERPRETER)")
	rootCmd.PersistentFlags().Bool("no-cache", false, "Disable the compiled module cache")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	// Add run-specific flags to root (for default command)
	addRunFlags(rootCmd)
}

func defaultInterpreter() string {
	if path := os.Getenv("SNAKEPIT_INTERPRETER"); path != "" {
		return path
	}
	return sandbox.DefaultInterpreterPath
}

func addLimitFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", sandbox.DefaultTimeout, "Execution timeout")
	cmd.Flags().String("memory", "64mb", "Memory limit, e.g. 16mb, 256mb, 1gb, or bytes")
	cmd.Flags().Uint64("fuel", 0, "Instruction budget (0 disables fuel accounting)")
	cmd.Flags().Duration("tick", sandbox.DefaultEpochTickInterval, "Interrupt counter tick interval")
	cmd.Flags().StringSlice("env", nil, "Guest environment variable KEY=VALUE (repeatable)")
	cmd.Flags().String("prelude", "", "Code prepended to every execution")
}

// buildConfig turns the limit flags into a SandboxConfig.
func buildConfig(cmd *cobra.Command) (sandbox.SandboxConfig, error) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	memory, _ := cmd.Flags().GetString("memory")
	fuel, _ := cmd.Flags().GetUint64("fuel")
	tick, _ := cmd.Flags().GetDuration("tick")
	envs, _ := cmd.Flags().GetStringSlice("env")
	prelude, _ := cmd.Flags().GetString("prelude")
	interpreter, _ := cmd.Root().PersistentFlags().GetString("interpreter")

	maxMemory, err := parseMemorySize(memory)
	if err != nil {
		return sandbox.SandboxConfig{}, err
	}

	builder := sandbox.NewConfig().
		Timeout(timeout).
		MaxMemory(maxMemory).
		EpochTickInterval(tick).
		InterpreterPath(interpreter).
		Prelude(prelude)
	if fuel > 0 {
		builder.MaxFuel(fuel)
	}
	for _, pair := range envs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return sandbox.SandboxConfig{}, fmt.Errorf("invalid env %q (expected KEY=VALUE)", pair)
		}
		builder.Env(key, value)
	}

	return builder.Build(), nil
}

// buildSandbox assembles a sandbox from the shared flags.
func buildSandbox(cmd *cobra.Command) (*sandbox.PythonSandbox, error) {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return nil, err
	}

	noCache, _ := cmd.Root().PersistentFlags().GetBool("no-cache")
	opts := []sandbox.Option{sandbox.WithLogger(newLogger(cmd))}
	if noCache {
		opts = append(opts, sandbox.WithoutCache())
	}

	return sandbox.New(cfg, opts...)
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose"); verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}

// parseMemorySize accepts plain byte counts and kb/mb/gb suffixes.
func parseMemorySize(s string) (uint64, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	mult := uint64(1)
	switch {
	case strings.HasSuffix(v, "kb"):
		mult, v = 1024, strings.TrimSuffix(v, "kb")
	case strings.HasSuffix(v, "mb"):
		mult, v = 1024*1024, strings.TrimSuffix(v, "mb")
	case strings.HasSuffix(v, "gb"):
		mult, v = 1024*1024*1024, strings.TrimSuffix(v, "gb")
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return n * mult, nil
}

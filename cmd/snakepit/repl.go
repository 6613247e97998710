package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/snakepit-dev/snakepit/sandbox"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive Python REPL",
	Long: `Start an interactive REPL (Read-Eval-Print Loop).

Executions are stateless, so the REPL replays the accumulated transcript
on every line and shows only the new output. Statements that fail are not
added to the transcript.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Run: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.snakepit_history)")
	addLimitFlags(replCmd)
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".snakepit_history")
	}

	sb, err := buildSandbox(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Fprintln(os.Stderr, "snakepit Python REPL (type 'exit' to quit, Ctrl+D to exit)")

	var transcript []string
	var lastStdout string
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
			break
		}

		// Handle multi-line input
		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		program := strings.Join(append(append([]string{}, transcript...), line), "\n")
		result, err := sb.Execute(context.Background(), program)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		output := result.Stdout
		if strings.HasPrefix(output, lastStdout) {
			output = output[len(lastStdout):]
		}
		if output != "" {
			fmt.Print(output)
			if !strings.HasSuffix(output, "\n") {
				fmt.Println()
			}
		}

		if result.IsSuccess() {
			transcript = append(transcript, line)
			lastStdout = result.Stdout
			continue
		}

		if exc := sandbox.ParsePythonException(result.Stderr); exc != nil {
			if exc.Message != "" {
				fmt.Fprintf(os.Stderr, "%s: %s\n", exc.Type, exc.Message)
			} else {
				fmt.Fprintln(os.Stderr, exc.Type)
			}
		} else if result.Stderr != "" {
			fmt.Fprint(os.Stderr, result.Stderr)
		}
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/snakepit-dev/snakepit/internal/server"
	"github.com/snakepit-dev/snakepit/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP execution service",
	Long: `Start an HTTP server exposing sandboxed execution.

Endpoints:
  POST /v1/executions        execute code, record and return the result
  GET  /v1/executions        list recorded executions
  GET  /v1/executions/{id}   fetch one recorded execution
  GET  /v1/stats             aggregate statistics
  GET  /healthz              liveness probe
  GET  /metrics              Prometheus metrics`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	serveCmd.Flags().String("db", "snakepit.db", "SQLite database path (:memory: for ephemeral)")
	addLimitFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("addr")
	dbPath, _ := cmd.Flags().GetString("db")

	logger := newLogger(cmd)
	if logger.GetLevel() == logrus.WarnLevel {
		// The service wants request logs even without --verbose.
		logger.SetLevel(logrus.InfoLevel)
	}

	sb, err := buildSandbox(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	srv := server.New(addr, sb, st, logger)
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

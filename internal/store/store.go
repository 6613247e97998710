// Package store persists execution records for the HTTP service.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an execution record does not exist.
var ErrNotFound = errors.New("execution not found")

// Execution is one recorded sandbox run.
type Execution struct {
	ID           string    `json:"id"`
	Code         string    `json:"code"`
	Stdout       string    `json:"stdout"`
	Stderr       string    `json:"stderr"`
	ExitCode     int       `json:"exit_code"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	PeakMemory   uint64    `json:"peak_memory"`
	FuelConsumed *uint64   `json:"fuel_consumed,omitempty"`
	CachedModule bool      `json:"cached_module"`
	CreatedAt    time.Time `json:"created_at"`
}

// Succeeded reports whether the run produced a zero exit and no sandbox
// error.
func (e *Execution) Succeeded() bool {
	return e.Error == "" && e.ExitCode == 0
}

// Stats holds aggregate execution statistics.
type Stats struct {
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Store defines the persistence operations for executions.
type Store interface {
	Insert(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	List(ctx context.Context, limit, offset int) ([]*Execution, int, error)
	GetStats(ctx context.Context) (*Stats, error)
	Close() error
}

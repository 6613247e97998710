package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/snakepit-dev/snakepit/internal/store"
	"github.com/snakepit-dev/snakepit/sandbox"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createExecutionRequest is the JSON body for POST /v1/executions.
type createExecutionRequest struct {
	Code      string `json:"code"`
	Stdin     string `json:"stdin"`
	TimeoutMS int64  `json:"timeout_ms"`
}

// executionResponse is a stored record plus the parsed Python exception
// when the guest failed with one.
type executionResponse struct {
	*store.Execution
	PythonException *pythonExceptionBody `json:"python_exception,omitempty"`
}

type pythonExceptionBody struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// listExecutionsResponse wraps the paginated list response.
type listExecutionsResponse struct {
	Executions []*store.Execution `json:"executions"`
	Total      int                `json:"total"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

func (s *Server) handleCreateExecution(w http.ResponseWriter, r *http.Request) {
	var req createExecutionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	ctx := r.Context()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	started := time.Now()
	result, execErr := s.runner.ExecuteWithInput(ctx, req.Code, req.Stdin)
	elapsed := time.Since(started)

	record := &store.Execution{
		ID:        ulid.Make().String(),
		Code:      req.Code,
		CreatedAt: time.Now().UTC(),
	}

	var exception *pythonExceptionBody
	switch {
	case execErr == nil:
		record.Stdout = result.Stdout
		record.Stderr = result.Stderr
		record.ExitCode = result.ExitCode
		record.DurationMS = result.Metadata.Duration.Milliseconds()
		record.PeakMemory = result.Metadata.PeakMemory
		record.FuelConsumed = result.Metadata.FuelConsumed
		record.CachedModule = result.Metadata.UsedCachedModule
		if result.IsSuccess() {
			recordExecution("success", result.Metadata.Duration)
		} else {
			recordExecution("python_error", result.Metadata.Duration)
			if exc := sandbox.ParsePythonException(result.Stderr); exc != nil {
				exception = &pythonExceptionBody{Type: exc.Type, Message: exc.Message}
			}
		}
	default:
		record.Error = execErr.Error()
		record.ErrorKind = errorKind(execErr)
		record.DurationMS = elapsed.Milliseconds()
		recordExecution(record.ErrorKind, elapsed)

		var serr *sandbox.SandboxError
		if errors.As(execErr, &serr) {
			switch serr.Kind {
			case sandbox.ErrConfig:
				s.writeError(w, http.StatusBadRequest, execErr.Error())
				return
			case sandbox.ErrRuntimeInit, sandbox.ErrModuleLoad,
				sandbox.ErrInterpreterNotFound, sandbox.ErrIO:
				s.logger.WithError(execErr).Error("sandbox infrastructure failure")
				s.writeError(w, http.StatusInternalServerError, "execution backend failure")
				return
			}
		}
	}

	if err := s.store.Insert(r.Context(), record); err != nil {
		s.logger.WithError(err).Error("insert execution record")
	}

	s.writeJSON(w, http.StatusCreated, executionResponse{
		Execution:       record,
		PythonException: exception,
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("get execution")
		s.writeError(w, http.StatusInternalServerError, "failed to get execution")
		return
	}

	s.writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	executions, total, err := s.store.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithError(err).Error("list executions")
		s.writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	if executions == nil {
		executions = []*store.Execution{}
	}

	s.writeJSON(w, http.StatusOK, listExecutionsResponse{
		Executions: executions,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("get stats")
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// errorKind maps an execution error to a stable label for records and
// metrics.
func errorKind(err error) string {
	var serr *sandbox.SandboxError
	if errors.As(err, &serr) {
		return serr.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "unknown"
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encode response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/hivelang/internal/ir"
	"github.com/roach88/hivelang/internal/metrics"
	"github.com/roach88/hivelang/internal/service"
)

// maxRequestBytes bounds request bodies on the HTTP surface.
const maxRequestBytes = 1 << 20

// invokeBody is the POST /v1/invoke request.
type invokeBody struct {
	service.InvocationRequest
	Context ir.ExecutionContext `json:"context"`
}

// putIntegrationBody is the PUT /v1/integrations/{id} request.
type putIntegrationBody struct {
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Source string `json:"source"`
}

type apiError struct {
	Error string `json:"error"`
}

// newServerHandler routes the HTTP surface to svc.
func newServerHandler(svc *service.Service, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"service": "hive", "status": "ok"})
	})
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("POST /v1/invoke", func(w http.ResponseWriter, r *http.Request) {
		var body invokeBody
		if err := decodeBody(w, r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		if body.IntegrationID == "" || body.Capability == "" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "integration_id and capability are required"})
			return
		}
		writeJSON(w, http.StatusOK, svc.Invoke(r.Context(), body.InvocationRequest, body.Context))
	})

	mux.HandleFunc("PUT /v1/integrations/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body putIntegrationBody
		if err := decodeBody(w, r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
			return
		}
		if body.Name == "" || body.Slug == "" || body.Source == "" {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "name, slug and source are required"})
			return
		}
		integ := ir.Integration{ID: r.PathValue("id"), Name: body.Name, Slug: body.Slug, Source: body.Source}
		res, err := svc.Register(r.Context(), integ)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, res)
		case res.ErrorKind != "":
			writeJSON(w, http.StatusUnprocessableEntity, res)
		default:
			logger.Error("register integration", "integration", integ.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to save integration"})
		}
	})

	mux.HandleFunc("GET /v1/integrations/{id}/capabilities", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		caps, err := svc.Capabilities(r.Context(), id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "capabilities": caps})
		case service.IsIntegrationNotFoundError(err):
			writeJSON(w, http.StatusNotFound, apiError{Error: err.Error()})
		default:
			writeJSON(w, http.StatusUnprocessableEntity, apiError{Error: err.Error()})
		}
	})

	return recoverPanics(logger, logRequests(logger, mux))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func recoverPanics(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("panic serving request", "method", r.Method, "path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// serveHTTP runs srv until ctx is done, then shuts it down gracefully.
func serveHTTP(ctx context.Context, logger *slog.Logger, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

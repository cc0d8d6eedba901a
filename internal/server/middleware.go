package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"dedup-go/internal/dedup"
)

const (
	headerProjectID     = "X-Project-ID"
	headerTransactionID = "Transaction-ID"
)

type scopeKey struct{}

func scopeFrom(ctx context.Context) dedup.Scope {
	scope, _ := ctx.Value(scopeKey{}).(dedup.Scope)
	return scope
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", dedup.ErrBadRequest, fmt.Sprintf(format, args...))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	n, err := r.ResponseWriter.Write(p)
	r.written += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// withScope resolves the request's Scope from its headers, tags the response
// with a fresh transaction id, and logs the request once it completes.
// Requests without a project id are rejected.
func (s *Server) withScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		scope := dedup.Scope{
			ProjectID:     r.Header.Get(headerProjectID),
			TransactionID: uuid.New().String(),
		}
		w.Header().Set(headerTransactionID, scope.TransactionID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"bytes", rec.written,
				"duration", time.Since(start),
				"project", scope.ProjectID,
				"transaction", scope.TransactionID)
		}()

		if err := scope.Validate(); err != nil {
			writeError(rec, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), scopeKey{}, scope)))
	})
}

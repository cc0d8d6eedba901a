package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

// Server is the HTTP transport for the dedup core.
type Server struct {
	ns      *dedup.Namespace
	logger  dedup.Logger
	api     config.APIConfig
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a new Server with all routes registered.
func New(ns *dedup.Namespace, logger dedup.Logger, api config.APIConfig) *Server {
	s := &Server{
		ns:     ns,
		logger: logger,
		api:    api,
		mux:    http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withScope(s.mux)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	s.mux.HandleFunc("GET /ping", s.handlePing)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// Vaults
	s.mux.HandleFunc("GET /vaults", s.handleListVaults)
	s.mux.HandleFunc("PUT /vaults/{vault}", s.handleCreateVault)
	s.mux.HandleFunc("HEAD /vaults/{vault}", s.handleHeadVault)
	s.mux.HandleFunc("GET /vaults/{vault}", s.handleVaultStatistics)
	s.mux.HandleFunc("DELETE /vaults/{vault}", s.handleDeleteVault)

	// Blocks
	s.mux.HandleFunc("GET /vaults/{vault}/blocks", s.handleListBlocks)
	s.mux.HandleFunc("POST /vaults/{vault}/blocks", s.handleUploadBlocks)
	s.mux.HandleFunc("PUT /vaults/{vault}/blocks/{block}", s.handleUploadBlock)
	s.mux.HandleFunc("GET /vaults/{vault}/blocks/{block}", s.handleGetBlock)
	s.mux.HandleFunc("HEAD /vaults/{vault}/blocks/{block}", s.handleHeadBlock)
	s.mux.HandleFunc("DELETE /vaults/{vault}/blocks/{block}", s.handleDeleteBlock)

	// Files
	s.mux.HandleFunc("GET /vaults/{vault}/files", s.handleListFiles)
	s.mux.HandleFunc("POST /vaults/{vault}/files", s.handleCreateFile)
	s.mux.HandleFunc("POST /vaults/{vault}/files/{file}", s.handlePostFile)
	s.mux.HandleFunc("GET /vaults/{vault}/files/{file}", s.handleGetFile)
	s.mux.HandleFunc("DELETE /vaults/{vault}/files/{file}", s.handleDeleteFile)
	s.mux.HandleFunc("POST /vaults/{vault}/files/{file}/blocks", s.handleAssignBlocks)
	s.mux.HandleFunc("GET /vaults/{vault}/files/{file}/blocks", s.handleListFileBlocks)

	// Storage, read-only apart from orphan removal
	s.mux.HandleFunc("GET /vaults/{vault}/storage/blocks", s.handleListStorage)
	s.mux.HandleFunc("POST /vaults/{vault}/storage/blocks", s.handleStorageWrite)
	s.mux.HandleFunc("GET /vaults/{vault}/storage/blocks/{storage}", s.handleGetStorage)
	s.mux.HandleFunc("HEAD /vaults/{vault}/storage/blocks/{storage}", s.handleHeadStorage)
	s.mux.HandleFunc("DELETE /vaults/{vault}/storage/blocks/{storage}", s.handleDeleteStorage)
	s.mux.HandleFunc("PUT /vaults/{vault}/storage/blocks/{storage}", s.handleStorageWrite)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ns.Health(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "dedup",
	})
}

// vault opens the vault named in the path, writing the error response if it
// cannot.
func (s *Server) vault(w http.ResponseWriter, r *http.Request) (*dedup.Vault, bool) {
	v, err := s.ns.Open(r.Context(), scopeFrom(r.Context()), r.PathValue("vault"))
	if err != nil {
		s.writeErr(w, r, err)
		return nil, false
	}
	return v, true
}

// pageParams reads marker and limit from the query string. valid checks a
// non-empty marker.
func (s *Server) pageParams(r *http.Request, valid func(string) bool) (string, int, error) {
	q := r.URL.Query()
	marker := q.Get("marker")
	if marker != "" && !valid(marker) {
		return "", 0, badRequest("invalid marker %q", marker)
	}

	limit := s.api.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.api.MaxLimit {
			return "", 0, badRequest("limit must be an integer between 1 and %d", s.api.MaxLimit)
		}
		limit = n
	}
	return marker, limit, nil
}

// writePage writes a page of items and, when more remain, an X-Next-Batch
// header holding the URL of the next batch.
func writePage[T any](w http.ResponseWriter, r *http.Request, page *dedup.Page[T], limit int, render func(T) any) {
	if page.NextMarker != "" {
		next := url.URL{Path: r.URL.Path}
		q := r.URL.Query()
		q.Set("marker", page.NextMarker)
		q.Set("limit", strconv.Itoa(limit))
		next.RawQuery = q.Encode()
		w.Header().Set("X-Next-Batch", next.String())
	}
	out := make([]any, len(page.Items))
	for i, item := range page.Items {
		out[i] = render(item)
	}
	writeJSON(w, http.StatusOK, out)
}

func asIs[T any](v T) any { return v }

// statusFor maps an error from the core onto a status code.
func statusFor(err error) int {
	var verr *dedup.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusConflict
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dedup.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, dedup.ErrHashMismatch):
		return http.StatusPreconditionFailed
	case errors.Is(err, dedup.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dedup.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, dedup.ErrReadOnly):
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// writeErr writes the error response for err. Layout problems are listed in
// full; unexpected errors are logged and hidden from the caller.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	var verr *dedup.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, status, map[string]any{
			"error":    verr.Error(),
			"problems": verr.Problems,
		})
	case status == http.StatusInternalServerError:
		s.logFailure(r, "request failed", err)
		writeError(w, status, "internal error")
	default:
		writeError(w, status, err.Error())
	}
}

func (s *Server) logFailure(r *http.Request, msg string, err error) {
	scope := scopeFrom(r.Context())
	s.logger.Error(msg,
		"method", r.Method,
		"path", r.URL.Path,
		"project", scope.ProjectID,
		"transaction", scope.TransactionID,
		"error", err)
}

// stream copies a response body whose headers are already sent. A failure
// part way cannot be reported in the status, so the connection is aborted
// and the client sees a truncated body.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, src io.Reader) {
	if _, err := io.Copy(w, src); err != nil {
		if r.Context().Err() == nil {
			s.logFailure(r, "response aborted", err)
		}
		panic(http.ErrAbortHandler)
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

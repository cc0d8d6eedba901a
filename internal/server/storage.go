package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"dedup-go/internal/dedup"
)

func setStorageHeaders(w http.ResponseWriter, sb *dedup.StorageBlock) {
	w.Header().Set("X-Storage-ID", sb.StorageID)
	w.Header().Set("X-Block-ID", sb.BlockID)
	w.Header().Set("X-Block-Reference-Count", strconv.FormatInt(sb.RefCount, 10))
	w.Header().Set("X-Block-Size", strconv.FormatInt(sb.Length, 10))
	if sb.Indexed {
		w.Header().Set("X-Ref-Modified", strconv.FormatInt(sb.RefModified.Unix(), 10))
	}
}

// absoluteURL resolves path against the host the request was addressed to.
func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}

// handleListStorage handles GET /vaults/{vault}/storage/blocks.
func (s *Server) handleListStorage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	marker, limit, err := s.pageParams(r, v.Blocks.ValidStorageID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := v.Blocks.ListStorage(r.Context(), marker, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writePage(w, r, page, limit, asIs[string])
}

// handleGetStorage handles GET /vaults/{vault}/storage/blocks/{storage}.
func (s *Server) handleGetStorage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	sb, rc, err := v.Blocks.OpenStorage(r.Context(), r.PathValue("storage"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer rc.Close()

	setStorageHeaders(w, sb)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(sb.Length, 10))
	w.WriteHeader(http.StatusOK)
	s.stream(w, r, rc)
}

// handleHeadStorage handles HEAD /vaults/{vault}/storage/blocks/{storage}.
func (s *Server) handleHeadStorage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	sb, err := v.Blocks.HeadStorage(r.Context(), r.PathValue("storage"))
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	setStorageHeaders(w, sb)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteStorage handles DELETE /vaults/{vault}/storage/blocks/{storage}.
// Only orphaned objects can be removed this way.
func (s *Server) handleDeleteStorage(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	if err := v.Blocks.DeleteStorage(r.Context(), r.PathValue("storage")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStorageWrite rejects uploads to the storage surface and points the
// caller at the blocks endpoint that accepts them.
func (s *Server) handleStorageWrite(w http.ResponseWriter, r *http.Request) {
	location := "/vaults/" + r.PathValue("vault") + "/blocks"
	allow := "GET"
	if sid := r.PathValue("storage"); sid != "" {
		blockID, _, _ := strings.Cut(sid, "_")
		location += "/" + blockID
		allow = "GET, HEAD, DELETE"
	}
	location = absoluteURL(r, location)
	w.Header().Set("X-Block-Location", location)
	w.Header().Set("Allow", allow)
	s.logger.Warn("upload attempted on storage surface",
		"path", r.URL.Path,
		"project", scopeFrom(r.Context()).ProjectID,
		"transaction", scopeFrom(r.Context()).TransactionID)
	s.writeErr(w, r, fmt.Errorf("%w: storage blocks are read-only, upload to %s", dedup.ErrReadOnly, location))
}

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"dedup-go/internal/dedup"
)

// maxAssignBody bounds the JSON body of an assignment request.
const maxAssignBody = 8 << 20

// assignRequest is the body of an assignment request:
//
//	{"blocks": [{"id": "<block id>", "offset": 0}, ...]}
type assignRequest struct {
	Blocks []dedup.Assignment `json:"blocks"`
}

func validFileID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// handleListFiles handles GET /vaults/{vault}/files.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	marker, limit, err := s.pageParams(r, validFileID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := v.Files.List(r.Context(), marker, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writePage(w, r, page, limit, asIs[string])
}

// handleCreateFile handles POST /vaults/{vault}/files.
func (s *Server) handleCreateFile(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	fileID, err := v.Files.Create(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+fileID)
	w.Header().Set("X-File-ID", fileID)
	w.WriteHeader(http.StatusCreated)
}

// handlePostFile handles POST /vaults/{vault}/files/{file}. A body assigns
// blocks; an empty body with X-File-Length finalizes the file.
func (s *Server) handlePostFile(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		s.handleFinalizeFile(w, r)
		return
	}
	s.handleAssignBlocks(w, r)
}

// handleAssignBlocks handles POST /vaults/{vault}/files/{file}/blocks and
// responds with the ids of blocks the vault does not hold yet.
func (s *Server) handleAssignBlocks(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}

	var req assignRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAssignBody))
	if err := dec.Decode(&req); err != nil {
		if isTooLarge(err) {
			s.writeErr(w, r, err)
			return
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "assignment body is empty")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid assignment body: "+err.Error())
		return
	}

	missing, err := v.Files.Assign(r.Context(), r.PathValue("file"), req.Blocks)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, missing)
}

func (s *Server) handleFinalizeFile(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}

	raw := r.Header.Get("X-File-Length")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "X-File-Length header is required to finalize a file")
		return
	}
	length, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || length < 0 {
		writeError(w, http.StatusBadRequest, "X-File-Length must be a non-negative integer")
		return
	}

	if err := v.Files.Finalize(r.Context(), r.PathValue("file"), length); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleGetFile handles GET /vaults/{vault}/files/{file}.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	fr, err := v.Files.Open(r.Context(), r.PathValue("file"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer fr.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(fr.Length, 10))
	w.Header().Set("X-File-ID", fr.FileID)
	w.WriteHeader(http.StatusOK)
	s.stream(w, r, fr)
}

// handleDeleteFile handles DELETE /vaults/{vault}/files/{file}.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	fileID := r.PathValue("file")
	if _, err := v.Files.Get(r.Context(), fileID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := v.Files.Delete(r.Context(), fileID); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListFileBlocks handles GET /vaults/{vault}/files/{file}/blocks. Each
// item is a [block id, offset] pair; the marker is an offset.
func (s *Server) handleListFileBlocks(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	marker, limit, err := s.pageParams(r, func(m string) bool {
		n, err := strconv.ParseInt(m, 10, 64)
		return err == nil && n >= 0
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := v.Files.Blocks(r.Context(), r.PathValue("file"), marker, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writePage(w, r, page, limit, func(b dedup.FileBlock) any {
		return []any{b.BlockID, b.Offset}
	})
}

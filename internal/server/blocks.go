package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"dedup-go/internal/dedup"
)

// bulkUploadBlocks bounds a msgpack bulk upload to this many maximum-size
// blocks.
const bulkUploadBlocks = 32

func setBlockHeaders(w http.ResponseWriter, blk *dedup.Block) {
	w.Header().Set("X-Block-ID", blk.BlockID)
	w.Header().Set("X-Storage-ID", blk.StorageID)
	w.Header().Set("X-Block-Reference-Count", strconv.FormatInt(blk.RefCount, 10))
	w.Header().Set("X-Ref-Modified", strconv.FormatInt(blk.RefModified.Unix(), 10))
	w.Header().Set("X-Block-Size", strconv.FormatInt(blk.Length, 10))
}

// handleListBlocks handles GET /vaults/{vault}/blocks.
func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	marker, limit, err := s.pageParams(r, s.ns.Addresser().ValidID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := v.Blocks.List(r.Context(), marker, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writePage(w, r, page, limit, asIs[string])
}

// handleUploadBlocks handles POST /vaults/{vault}/blocks: a msgpack map of
// block id to block bytes. Nothing is stored unless every block verifies.
func (s *Server) handleUploadBlocks(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, s.api.MaxBlockSize*bulkUploadBlocks)
	var blocks map[string][]byte
	if err := msgpack.NewDecoder(body).Decode(&blocks); err != nil {
		if isTooLarge(err) {
			s.writeErr(w, r, err)
			return
		}
		writeError(w, http.StatusBadRequest, "body must be a msgpack map of block id to bytes")
		return
	}
	for id, data := range blocks {
		if int64(len(data)) > s.api.MaxBlockSize {
			writeError(w, http.StatusRequestEntityTooLarge, "block "+id+" exceeds max_block_size")
			return
		}
	}

	created, err := v.Blocks.PutMany(r.Context(), blocks)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"received": len(blocks), "stored": created})
}

// handleUploadBlock handles PUT /vaults/{vault}/blocks/{block}.
func (s *Server) handleUploadBlock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	if r.ContentLength > s.api.MaxBlockSize {
		writeError(w, http.StatusRequestEntityTooLarge, "block exceeds max_block_size")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.api.MaxBlockSize))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	blockID := r.PathValue("block")
	if !s.ns.Addresser().ValidID(blockID) {
		writeError(w, http.StatusBadRequest, "invalid block id")
		return
	}
	if _, err := v.Blocks.Put(r.Context(), blockID, data); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.Header().Set("X-Block-ID", blockID)
	w.WriteHeader(http.StatusCreated)
}

// handleGetBlock handles GET /vaults/{vault}/blocks/{block}.
func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	blk, rc, err := v.Blocks.Open(r.Context(), r.PathValue("block"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer rc.Close()

	setBlockHeaders(w, blk)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(blk.Length, 10))
	w.WriteHeader(http.StatusOK)
	s.stream(w, r, rc)
}

// handleHeadBlock handles HEAD /vaults/{vault}/blocks/{block}.
func (s *Server) handleHeadBlock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	blk, err := v.Blocks.Head(r.Context(), r.PathValue("block"))
	if err != nil {
		w.WriteHeader(statusFor(err))
		return
	}
	if blk.Orphaned {
		w.Header().Set("X-Block-Orphaned", "true")
		w.Header().Set("X-Storage-ID", blk.StorageID)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	setBlockHeaders(w, blk)
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteBlock handles DELETE /vaults/{vault}/blocks/{block}.
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	v, ok := s.vault(w, r)
	if !ok {
		return
	}
	if err := v.Blocks.Delete(r.Context(), r.PathValue("block")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package server

import (
	"net/http"

	"dedup-go/internal/dedup"
)

// handleListVaults handles GET /vaults.
func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	marker, limit, err := s.pageParams(r, dedup.ValidVaultName)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := s.ns.List(r.Context(), scopeFrom(r.Context()), marker, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writePage(w, r, page, limit, asIs[string])
}

// handleCreateVault handles PUT /vaults/{vault}.
func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	if err := s.ns.Create(r.Context(), scopeFrom(r.Context()), r.PathValue("vault")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleHeadVault handles HEAD /vaults/{vault}.
func (s *Server) handleHeadVault(w http.ResponseWriter, r *http.Request) {
	ok, err := s.ns.Exists(r.Context(), scopeFrom(r.Context()), r.PathValue("vault"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVaultStatistics handles GET /vaults/{vault}.
func (s *Server) handleVaultStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ns.Statistics(r.Context(), scopeFrom(r.Context()), r.PathValue("vault"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleDeleteVault handles DELETE /vaults/{vault}.
func (s *Server) handleDeleteVault(w http.ResponseWriter, r *http.Request) {
	if err := s.ns.Delete(r.Context(), scopeFrom(r.Context()), r.PathValue("vault")); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

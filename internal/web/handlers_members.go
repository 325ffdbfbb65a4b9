package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/membergen/internal/core"
)

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.ListMembers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, members)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, m)
}

// handleUpdateMember applies a partial update. Custom field names that are
// not defined are dropped; the rest are upserted.
func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var patch core.MemberPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	m, err := s.service.UpdateMember(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMember(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, messageResponse{Message: "Member deleted successfully"})
}

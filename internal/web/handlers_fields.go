package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/membergen/internal/core"
)

// handleCreateField defines a custom field; every existing member gets an
// empty value for it.
func (s *Server) handleCreateField(w http.ResponseWriter, r *http.Request) {
	var in core.CustomFieldCreate
	if err := decodeJSON(w, r, &in); err != nil {
		s.fail(w, r, err)
		return
	}

	def, err := s.service.CreateField(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, def)
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	defs, err := s.service.ListFields(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, defs)
}

func (s *Server) handleGetField(w http.ResponseWriter, r *http.Request) {
	def, err := s.service.GetField(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, def)
}

// handleUpdateField renames a field or replaces its validation rules.
// field_type is immutable and ignored if sent.
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var patch core.FieldPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}

	def, err := s.service.UpdateField(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, def)
}

func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteField(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, messageResponse{Message: "Custom field deleted successfully"})
}

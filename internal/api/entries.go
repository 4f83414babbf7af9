package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := registry.Filters{
		Namespace: q.Get("namespace"),
		Category:  registry.Category(q.Get("type")),
		Status:    registry.Status(q.Get("status")),
		TenantID:  q.Get("tenant_id"),
		Facets:    parseFacetParams(q),
	}

	entries, err := s.Registry.Search(r.Context(), filters)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseFacetParams(q map[string][]string) map[string][]string {
	facets := make(map[string][]string)
	for key, values := range q {
		if len(key) > len("facet.") && key[:len("facet.")] == "facet." {
			facets[key[len("facet."):]] = values
		}
	}
	if len(facets) == 0 {
		return nil
	}
	return facets
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) createEntry(w http.ResponseWriter, r *http.Request) {
	var entry registry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "Entry JSON"))
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	if err := s.Registry.Register(r.Context(), &entry); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: entry.ID})
}

func (s *Server) replaceEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var entry registry.Entry
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "Entry JSON"))
		return
	}
	entry.ID = id

	if err := s.Registry.Update(r.Context(), &entry, registry.UpdateOptions{}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &entry)
}

func (s *Server) patchEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.Registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		writeError(w, r, regerrors.Internal("marshal existing entry", err))
		return
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		writeError(w, r, regerrors.Internal("unmarshal existing entry", err))
		return
	}

	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "partial Entry JSON"))
		return
	}
	for k, v := range patch {
		merged[k] = v
	}

	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		writeError(w, r, regerrors.Internal("marshal patched entry", err))
		return
	}
	var updated registry.Entry
	if err := json.Unmarshal(mergedRaw, &updated); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "partial Entry JSON"))
		return
	}
	updated.ID = id

	if err := s.Registry.Update(r.Context(), &updated, registry.UpdateOptions{}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &updated)
}

func (s *Server) deleteEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	if err := s.Registry.Delete(r.Context(), id, registry.DeleteOptions{Force: force}); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

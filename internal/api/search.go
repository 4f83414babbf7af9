package api

import (
	"encoding/json"
	"net/http"
	"strings"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "search request JSON"))
		return
	}

	filters := req.Filters.toFilters()
	hits, err := s.Registry.Search(r.Context(), filters)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if req.Query != "" {
		hits = filterByQuery(hits, req.Query)
	}
	if req.Limit > 0 && len(hits) > req.Limit {
		hits = hits[:req.Limit]
	}

	writeJSON(w, http.StatusOK, searchResponse{Hits: hits, Total: len(hits)})
}

func filterByQuery(hits []*registry.Entry, query string) []*registry.Entry {
	q := strings.ToLower(query)
	matched := make([]*registry.Entry, 0, len(hits))
	for _, e := range hits {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Namespace), q) {
			matched = append(matched, e)
		}
	}
	return matched
}

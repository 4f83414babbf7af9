package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

func (s *Server) addRelationship(w http.ResponseWriter, r *http.Request) {
	var req relationshipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "relationship request JSON"))
		return
	}
	if req.Source == "" || req.Target == "" || req.Kind == "" {
		writeError(w, r, regerrors.MissingParameter("source, target, kind"))
		return
	}

	source, err := s.Registry.Get(r.Context(), req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}

	updated := *source
	updated.Relationships = append(append([]registry.Relationship{}, source.Relationships...), registry.Relationship{
		TargetID: req.Target,
		Kind:     req.Kind,
	})

	if err := s.Registry.Update(r.Context(), &updated, registry.UpdateOptions{}); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, idResponse{ID: uuid.NewString()})
}

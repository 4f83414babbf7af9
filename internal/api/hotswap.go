package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
)

func (s *Server) hotswap(w http.ResponseWriter, r *http.Request) {
	var req hotswapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "hotswap request JSON"))
		return
	}
	if req.EntryID == "" || req.NewEntry == nil {
		writeError(w, r, regerrors.MissingParameter("entry_id, new_entry"))
		return
	}

	transition, err := s.HotSwap.Swap(r.Context(), req.EntryID, req.NewEntry, nil, 0, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, struct {
		transitionResponse
		Phase       string `json:"phase"`
		FromVersion string `json:"from_version"`
		ToVersion   string `json:"to_version"`
	}{
		transitionResponse: transitionResponse{TransitionID: uuid.NewString()},
		Phase:              string(transition.Phase),
		FromVersion:        transition.FromVersion,
		ToVersion:          transition.ToVersion,
	})
}

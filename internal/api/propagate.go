package api

import (
	"encoding/json"
	"net/http"
	"time"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/internal/propagation"
)

const defaultConsensusTimeout = 10 * time.Second

func (s *Server) propagate(w http.ResponseWriter, r *http.Request) {
	var req propagateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, regerrors.InvalidFormat("body", "propagate request JSON"))
		return
	}
	if req.EntryID == "" || req.Mode == "" {
		writeError(w, r, regerrors.MissingParameter("entry_id, mode"))
		return
	}

	source, err := s.Registry.Get(r.Context(), req.EntryID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rules := make([]propagation.Rule, 0, len(req.Rules))
	for _, rd := range req.Rules {
		rules = append(rules, propagation.Rule{When: rd.When, Transform: rd.Transform})
	}

	mode := propagation.Mode(req.Mode)
	var session *propagation.Session

	if mode == propagation.ModeConsensus {
		timeout := defaultConsensusTimeout
		if req.Timeout != "" {
			if d, perr := time.ParseDuration(req.Timeout); perr == nil {
				timeout = d
			}
		}
		quorum := req.Quorum
		if quorum < 1 || quorum > len(source.PropagationTargets) {
			writeError(w, r, regerrors.OutOfRange("quorum", 1, len(source.PropagationTargets)))
			return
		}
		session, err = s.Propagation.PropagateConsensus(r.Context(), source, req.Update, quorum, timeout, nil)
	} else {
		session, err = s.Propagation.Propagate(r.Context(), source, req.Update, mode, rules)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, sessionResponse{SessionID: session.ChainID})
}

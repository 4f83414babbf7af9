package api

import (
	"encoding/json"
	"errors"
	"net/http"

	regerrors "github.com/R3E-Network/universal-registry/infrastructure/errors"
	"github.com/R3E-Network/universal-registry/infrastructure/logging"
)

// errorResponse is the wire shape §6 promises for every non-2xx response.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps a typed ServiceError (or a bare error) onto the §6 status
// code table and the {code, message, request_id} wire shape.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var svcErr *regerrors.ServiceError
	if errors.As(err, &svcErr) {
		w.Header().Set("X-Request-ID", logging.GetTraceID(r.Context()))
		writeJSON(w, svcErr.HTTPStatus, errorResponse{
			Code:      string(svcErr.Code),
			Message:   svcErr.Message,
			RequestID: logging.GetTraceID(r.Context()),
		})
		return
	}

	w.Header().Set("X-Request-ID", logging.GetTraceID(r.Context()))
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:      "SVC_5001",
		Message:   err.Error(),
		RequestID: logging.GetTraceID(r.Context()),
	})
}

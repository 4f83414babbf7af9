package api

import "github.com/R3E-Network/universal-registry/internal/registry"

// searchRequest is the POST /v1/registry/search body.
type searchRequest struct {
	Query   string    `json:"query"`
	Filters filterDTO `json:"filters"`
	Limit   int       `json:"limit"`
}

type filterDTO struct {
	Namespace string              `json:"namespace"`
	Category  string              `json:"category"`
	Status    string              `json:"status"`
	TenantID  string              `json:"tenant_id"`
	Facets    map[string][]string `json:"facets"`
}

func (f filterDTO) toFilters() registry.Filters {
	return registry.Filters{
		Namespace: f.Namespace,
		Category:  registry.Category(f.Category),
		Status:    registry.Status(f.Status),
		TenantID:  f.TenantID,
		Facets:    f.Facets,
	}
}

type searchResponse struct {
	Hits  []*registry.Entry `json:"hits"`
	Total int               `json:"total"`
}

type relationshipRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

type propagateRequest struct {
	EntryID string                 `json:"entry_id"`
	Update  map[string]interface{} `json:"update"`
	Mode    string                 `json:"mode"`
	Quorum  int                    `json:"quorum"`
	Timeout string                 `json:"timeout"`
	Rules   []ruleDTO              `json:"rules"`
}

// ruleDTO mirrors propagation.Rule's wire shape.
type ruleDTO struct {
	When      string            `json:"when"`
	Transform map[string]string `json:"transform"`
}

type hotswapRequest struct {
	EntryID  string          `json:"entry_id"`
	NewEntry *registry.Entry `json:"new_entry"`
}

type idResponse struct {
	ID string `json:"id"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type transitionResponse struct {
	TransitionID string `json:"transition_id"`
}

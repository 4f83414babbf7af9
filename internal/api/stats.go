package api

import (
	"net/http"

	"github.com/R3E-Network/universal-registry/infrastructure/middleware"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

type statsResponse struct {
	TotalRegistered int64                       `json:"total_registered"`
	TotalActive     int64                       `json:"total_active"`
	TotalQueries    int64                       `json:"total_queries"`
	CacheHits       int64                       `json:"cache_hits"`
	CacheMisses     int64                       `json:"cache_misses"`
	AvgQueryTimeMs  float64                     `json:"avg_query_time_ms"`
	ByCategory      map[registry.Category]int64 `json:"by_category"`
	Subscribers     int                         `json:"subscribers"`
	ActiveStreams   int                         `json:"active_streams"`
	Runtime         map[string]interface{}     `json:"runtime"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats := s.Registry.Stats()
	byCategory := make(map[registry.Category]int64)
	stats.CopyByCategory(byCategory)

	resp := statsResponse{
		TotalRegistered: stats.TotalRegistered,
		TotalActive:     stats.TotalActive,
		TotalQueries:    stats.TotalQueries,
		CacheHits:       stats.CacheHits,
		CacheMisses:     stats.CacheMisses,
		AvgQueryTimeMs:  stats.AvgQueryTimeMs(),
		ByCategory:      byCategory,
	}
	if s.Bus != nil {
		resp.Subscribers = s.Bus.SubscriberCount()
	}
	if s.Streaming != nil {
		resp.ActiveStreams = s.Streaming.Count()
	}
	resp.Runtime = middleware.RuntimeStats()

	writeJSON(w, http.StatusOK, resp)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/universal-registry/internal/bus"
	"github.com/R3E-Network/universal-registry/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamWS upgrades to a websocket and relays every bus Delivery matching
// entry_id (plus optional category/facet query filters) as a JSON frame
// until the client disconnects.
func (s *Server) streamWS(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	q := r.URL.Query()

	filter := bus.Filter{
		EntryID:  entryID,
		Category: registry.Category(q.Get("type")),
		Facets:   parseFacetParams(q),
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn(r.Context(), "stream upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	sub := s.Bus.Subscribe(filter)
	defer s.Bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case delivery, ok := <-sub.Inbox():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, mustJSON(delivery)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}

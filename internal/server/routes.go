package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handler returns the router for all application routes. WebSocket handshakes
// and the chat page share the root path and are told apart by the Upgrade
// header.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleWebSocket).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)^websocket$")
	r.HandleFunc("/", s.handlePage).Methods(http.MethodGet)
	r.HandleFunc("/get_history/{cnt}/{idx}", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	return r
}

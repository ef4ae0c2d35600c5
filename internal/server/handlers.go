package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleWebSocket upgrades the connection and hands it to a Client. The
// Upgrade header route guarantees only handshake requests arrive here.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, s.hub, s.renderer, r.RemoteAddr, s.clientOptions(), s.log)
	if !s.hub.track(client) {
		client.closeConn()
		return
	}
	go client.serve()
}

// handleUpgradeError answers a failed handshake. Requests refused by the
// origin policy get 403; any other malformed handshake gets the chat page, as
// a plain GET would.
func (s *Server) handleUpgradeError(w http.ResponseWriter, r *http.Request, status int, reason error) {
	if status == http.StatusForbidden {
		http.Error(w, http.StatusText(status), status)
		return
	}
	s.log.Debug().Err(reason).Str("remote", r.RemoteAddr).Msg("falling back to chat page")
	w.Header().Del("Sec-Websocket-Version")
	s.handlePage(w, r)
}

// handleHistory serves /get_history/{cnt}/{idx}: up to cnt entries starting
// idx positions back from the newest, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cnt, err := strconv.Atoi(vars["cnt"])
	if err != nil || cnt <= 0 {
		http.Error(w, "cnt must be a positive integer", http.StatusBadRequest)
		return
	}
	idx, err := strconv.Atoi(vars["idx"])
	if err != nil || idx < 0 {
		http.Error(w, "idx must be a non-negative integer", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, s.history.Window(cnt, idx))
}

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	HistoryEntries int    `json:"history_entries"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, healthResponse{
		Status:         "ok",
		ActiveSessions: s.registry.Len(),
		HistoryEntries: s.history.Len(),
	})
}

// handlePage serves the browser chat client to plain requests on the
// upgrade endpoint.
func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(chatPage)); err != nil {
		s.log.Debug().Err(err).Msg("error writing chat page")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("error writing JSON response")
	}
}

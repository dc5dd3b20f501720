package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mathdee/KV-Store/internal/raft"
)

// HTTPServer is the ambient ops surface: status and metrics, nothing
// that mutates cluster state (see DESIGN.md for why the old
// /pause, /resume, /clear, and /benchmark routes have no equivalent
// once writes go through the actor's consensus path).
type HTTPServer struct {
	state   *raft.ReplicationState
	ring    *raft.HashRing
	metrics *Metrics
	log     zerolog.Logger
}

type StatusResponse struct {
	Role   string `json:"role"`
	Term   uint64 `json:"term"`
	ID     string `json:"id"`
	ReplID string `json:"replId"`
}

type NodeInfo struct {
	ReplID string `json:"replId"`
	Leader string `json:"leader"`
}

func NewHTTPServer(state *raft.ReplicationState, ring *raft.HashRing, metrics *Metrics, log zerolog.Logger) *HTTPServer {
	return &HTTPServer{state: state, ring: ring, metrics: metrics, log: log}
}

func (h *HTTPServer) Start(addr string) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StatusResponse{
			Role:   h.state.Role.String(),
			Term:   h.state.CurrentTerm(),
			ID:     string(h.state.SelfID),
			ReplID: string(h.state.ReplID),
		})
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(h.metrics.GetSnapshot())
	})

	mux.HandleFunc("/metrics/reset", func(w http.ResponseWriter, r *http.Request) {
		h.metrics.Reset()
		w.Write([]byte("Metrics reset"))
	})

	mux.HandleFunc("/topology", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		nodes := make([]NodeInfo, 0)
		for _, p := range h.ring.Snapshot() {
			nodes = append(nodes, NodeInfo{ReplID: string(p.ReplID), Leader: string(p.Leader)})
		}
		json.NewEncoder(w).Encode(nodes)
	})

	h.log.Info().Str("addr", addr).Msg("http status server listening")
	return http.ListenAndServe(addr, mux)
}

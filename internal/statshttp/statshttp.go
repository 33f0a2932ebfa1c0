// Package statshttp is a thin HTTP shell exposing the running search's
// latest snapshot as JSON, standing in for the specification's
// out-of-scope `update_gui` collaborator.
//
// Grounded on brensch-snek2/viewer/handlers.go's bare http.ServeMux
// per-route style — no router library appears anywhere in the retrieved
// corpus for a concern this small, so none is introduced here.
package statshttp

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/chesscoach/enginecore/pkg/search"
)

// Server publishes the most recent search.Snapshot it has been given via
// Publish, serving it back out as JSON on GET /pv.
type Server struct {
	mu   sync.RWMutex
	last search.Snapshot
}

func NewServer() *Server {
	return &Server{}
}

func (s *Server) Publish(snap search.Snapshot) {
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/pv", s.handlePV)
}

func (s *Server) handlePV(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.last
	s.mu.RUnlock()

	pv := make([]string, len(snap.PV))
	for i, m := range snap.PV {
		pv[i] = m.String()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Nodes            int64    `json:"nodes"`
		NPS              int64    `json:"nps"`
		ScoreCP          int      `json:"score_cp"`
		MateIn           int      `json:"mate_in"`
		FailedNodes      int64    `json:"failed_nodes"`
		FailedNodeFactor float64  `json:"failed_node_factor"`
		PV               []string `json:"pv"`
	}{
		Nodes:            snap.Nodes,
		NPS:              snap.NPS,
		ScoreCP:          snap.ScoreCP,
		MateIn:           snap.MateIn,
		FailedNodes:      snap.FailedNodes,
		FailedNodeFactor: snap.FailedNodeFactor,
		PV:               pv,
	})
}

// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

type ReadinessReporter interface {
	Readiness() (ready bool, maps []int)
}

// Gate becomes ready once priming has finished. Maps lists the composites
// that were assembled successfully.
type Gate struct {
	mu    sync.RWMutex
	ready bool
	maps  []int
}

func (g *Gate) MarkPrimed(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !slices.Contains(g.maps, id) {
		g.maps = append(g.maps, id)
		slices.Sort(g.maps)
	}
}

func (g *Gate) SetReady() {
	g.mu.Lock()
	g.ready = true
	g.mu.Unlock()
}

func (g *Gate) Readiness() (bool, []int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready, slices.Clone(g.maps)
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status string `json:"status"`
			Maps   []int  `json:"maps,omitempty"`
		}
		ready, maps := rr.Readiness()
		out := resp{Status: "not_ready", Maps: maps}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}

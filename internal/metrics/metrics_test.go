package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/tilemap-render-cache/internal/core/observability"
	"github.com/mohammed-shakir/tilemap-render-cache/internal/logger"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RuntimeAndServiceMetrics(t *testing.T) {
	p := Init(Config{Version: "test"})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected a sample from test_gauge, got %d", n)
	}

	observability.IncRender(2, "built", false)
	observability.AddTiles(2, "fetched", 3)

	body := scrape(t, p)
	for _, want := range []string{
		"go_goroutines",
		`app_build_info{version="test"} 1`,
		`render_results_total{`,
		`tile_ensure_total{`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in payload; got:\n%s", want, body)
		}
	}
}

func TestServe_DisabledReturns(t *testing.T) {
	p := Init(Config{Enabled: false})
	if err := p.Serve(context.Background(), logger.Discard()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	p := Init(Config{Enabled: true, Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Serve(ctx, logger.Discard()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

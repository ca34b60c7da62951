package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sandahl/tilevault/internal/core/observability"
)

func TestHandler_ServesDefaultRegistryInstruments(t *testing.T) {
	p := Init(Config{Enabled: true})

	observability.ExposeBuildInfo("test")
	observability.IncTileCacheHit()
	observability.ObserveStoreOp("get", nil, 0.002)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()

	for _, want := range []string{
		"go_goroutines",
		`app_build_info{version="test"} 1`,
		`tile_cache_results_total{outcome="hit"}`,
		`store_op_total{op="get",outcome="ok"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", want, body)
		}
	}
}

func TestInit_DefaultsPath(t *testing.T) {
	p := Init(Config{Enabled: true, Addr: ":0"})
	if p.cfg.Path != "/metrics" {
		t.Fatalf("path=%q", p.cfg.Path)
	}
}

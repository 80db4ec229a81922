package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/facade"
	"github.com/deepresearch/engine/internal/governor"
	"github.com/deepresearch/engine/internal/idempotency"
	"github.com/deepresearch/engine/internal/ledger"
	"github.com/deepresearch/engine/internal/provider"
	"github.com/deepresearch/engine/internal/queue"
	"github.com/deepresearch/engine/internal/router"
	"github.com/deepresearch/engine/internal/storage/memory"
)

func TestSetQueueDepthUpdatesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetQueueDepth("PENDING", 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, fam := range families {
		if fam.GetName() != "engine_queue_depth" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if metric.GetGauge().GetValue() == 3 {
				found = true
			}
		}
	}
	require.True(t, found, "expected engine_queue_depth{status=PENDING} == 3")
}

func TestSetCircuitBreakerOpenTogglesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SetCircuitBreakerOpen(true)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.True(t, gaugeEquals(t, families, "engine_circuit_breaker_open", 1))

	m.SetCircuitBreakerOpen(false)
	families, err = reg.Gather()
	require.NoError(t, err)
	require.True(t, gaugeEquals(t, families, "engine_circuit_breaker_open", 0))
}

func gaugeEquals(t *testing.T, families []*dto.MetricFamily, name string, want float64) bool {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if metric.GetGauge().GetValue() == want {
				return true
			}
		}
	}
	return false
}

func TestAdminRouterHealthzReturnsOK(t *testing.T) {
	store := memory.New()
	q := queue.New(store)
	reg := provider.NewRegistry()
	r := router.New(reg, router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	gov := governor.New(l, governor.Config{}, nil)
	tokens := idempotency.New(0)
	defer tokens.Close()
	f := facade.New(q, r, provider.Set{}, gov, nil, nil, tokens, nil)

	promReg := prometheus.NewRegistry()
	admin := NewAdminRouter(f, promReg)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestAdminRouterMetricsServesPrometheusFormat(t *testing.T) {
	store := memory.New()
	q := queue.New(store)
	reg := provider.NewRegistry()
	r := router.New(reg, router.DefaultConfig(), nil)
	l := ledger.New(store, nil)
	gov := governor.New(l, governor.Config{}, nil)
	tokens := idempotency.New(0)
	defer tokens.Close()
	f := facade.New(q, r, provider.Set{}, gov, nil, nil, tokens, nil)

	promReg := prometheus.NewRegistry()
	New(promReg)
	admin := NewAdminRouter(f, promReg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	admin.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "engine_queue_depth")
}

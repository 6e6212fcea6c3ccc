package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "matchcall/pkg/logx"
)

func newTestService(health HealthFunc) *Service {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "matchcall_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return New(Config{}, reg, health, logx.Nop())
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		ok       bool
		wantCode int
		want     string
	}{
		{"healthy", true, http.StatusOK, "ok"},
		{"degraded", false, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestService(func() (bool, any) { return tt.ok, map[string]int{"workers": 2} })
			rec := httptest.NewRecorder()
			s.Router(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body struct {
				Status string         `json:"status"`
				Detail map[string]int `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, 2, body.Detail["workers"])
		})
	}
}

func TestMetricsRequiresToken(t *testing.T) {
	t.Parallel()
	s := newTestService(nil)
	h := s.Router(Config{Token: "s3cret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "matchcall_test_total 1")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics?token=s3cret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for liveness checks.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofMountedOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	s := newTestService(nil)

	rec := httptest.NewRecorder()
	s.Router(Config{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	s.Router(Config{Pprof: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, prometheus.NewRegistry(), nil, logx.Nop())
	assert.ErrorIs(t, s.Start(context.Background()), ErrInsecureBind)
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, prometheus.NewRegistry(), nil, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	addr := s.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr("0.0.0.0:1"))
	assert.False(t, isLoopbackAddr(":9464"))
}

package diag

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "repeatjob/pkg/logx"
)

func newTestServer(cfg Config) *Server {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "diag_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)
	return New(cfg, reg, func() any { return map[string]int{"jobs": 2} }, logx.Nop())
}

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandlerEndpoints(t *testing.T) {
	h := newTestServer(Config{Enabled: true}).Handler()

	code, body := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, body = get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "diag_test_total 3")

	code, body = get(t, h, "/snapshot", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"jobs":2}`, body)

	code, _ = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code, "pprof is off by default")
}

func TestHandlerPprof(t *testing.T) {
	h := newTestServer(Config{Enabled: true, Pprof: true}).Handler()
	code, body := get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "goroutine")
}

func TestHandlerToken(t *testing.T) {
	h := newTestServer(Config{Enabled: true, Token: "s3cret"}).Handler()

	code, _ := get(t, h, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, h, "/metrics?token=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = get(t, h, "/metrics?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)
}

func TestStartServesAndStops(t *testing.T) {
	s := newTestServer(Config{Enabled: true, Addr: "127.0.0.1:0"})
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", strings.TrimSpace(string(body)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.Addr())
}

func TestStartDisabledIsNoop(t *testing.T) {
	s := newTestServer(Config{})
	s.Start(context.Background())
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":6060"))
	assert.False(t, isLoopbackAddr("0.0.0.0:6060"))
	assert.False(t, isLoopbackAddr("nope"))
}

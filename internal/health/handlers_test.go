package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/health"
)

type stubChecker struct {
	dbErr    error
	redisErr error
}

func (s stubChecker) PingDB(context.Context, time.Duration) error    { return s.dbErr }
func (s stubChecker) PingRedis(context.Context, time.Duration) error { return s.redisErr }

func ready(t *testing.T, h health.Handler) (int, map[string]string) {
	t.Helper()
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	var status map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &status)
	return rr.Code, status
}

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadyReportsDependencies(t *testing.T) {
	code, status := ready(t, health.Handler{Checker: stubChecker{}})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, map[string]string{"db": "ok", "redis": "ok"}, status)

	code, status = ready(t, health.Handler{Checker: stubChecker{dbErr: errors.New("db down")}})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "db down", status["db"])
	require.Equal(t, "ok", status["redis"])
}

func TestReadyFailsDuringShutdown(t *testing.T) {
	t.Cleanup(func() { health.SetReady(true) })
	health.SetReady(false)
	code, _ := ready(t, health.Handler{Checker: stubChecker{}})
	require.Equal(t, http.StatusServiceUnavailable, code)

	health.SetReady(true)
	code, _ = ready(t, health.Handler{Checker: stubChecker{}})
	require.Equal(t, http.StatusOK, code)
}

func TestDependenciesChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	deps := health.Dependencies{Redis: client}
	require.NoError(t, deps.PingRedis(context.Background(), time.Second))
	require.Error(t, deps.PingDB(context.Background(), time.Second))

	code, status := ready(t, health.Handler{Checker: deps})
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "ok", status["redis"])
	require.Equal(t, "database not configured", status["db"])
}

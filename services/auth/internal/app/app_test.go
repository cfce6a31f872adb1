package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/authsession/pkg/health"
	"github.com/utafrali/authsession/services/auth/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func devConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	t.Setenv("STORE_DRIVER", driver)
	t.Setenv("BCRYPT_COST", "4")
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewApp_MemoryStoreServesRequests(t *testing.T) {
	application, err := NewApp(devConfig(t, config.DriverMemory), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	body := strings.NewReader(`{"email":"alice@example.com","password":"Secret123"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	var health map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, map[string]string{"status": "ok", "environment": "development"}, health)
}

func TestOpenStore_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := devConfig(t, config.DriverRedis)
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mustPort(t, mr.Port())

	healthHandler := health.NewHandler()
	repo, closeStore, err := openStore(context.Background(), cfg, quietLogger(), prometheus.NewRegistry(), healthHandler)
	require.NoError(t, err)
	defer closeStore()

	require.NotNil(t, repo)
	assert.Equal(t, health.StatusUp, healthHandler.Check(context.Background()).Status)
}

func TestOpenStore_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := devConfig(t, config.DriverRedis)
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mustPort(t, mr.Port())
	mr.Close()

	_, _, err := openStore(context.Background(), cfg, quietLogger(), prometheus.NewRegistry(), health.NewHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to redis")
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := devConfig(t, config.DriverMemory)
	cfg.StoreDriver = "mongo"

	_, _, err := openStore(context.Background(), cfg, quietLogger(), prometheus.NewRegistry(), health.NewHandler())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestNewApp_FailedStartReleasesStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := devConfig(t, config.DriverRedis)
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mustPort(t, mr.Port())
	cfg.KafkaEnabled = true
	cfg.KafkaBrokers = []string{"127.0.0.1:1"}
	cfg.RefreshReusePolicy = "ignore"

	_, err := NewApp(cfg, quietLogger())
	require.Error(t, err)

	assert.Eventually(t, func() bool { return mr.CurrentConnectionCount() == 0 },
		time.Second, 10*time.Millisecond, "redis client left open")
}

func TestReleaser_ReverseOrder(t *testing.T) {
	var order []string
	r := &releaser{logger: quietLogger()}
	r.add("tracer", func() error { order = append(order, "tracer"); return nil })
	r.add("store", func() error { order = append(order, "store"); return errors.New("already closed") })
	r.add("kafka", func() error { order = append(order, "kafka"); return nil })

	r.release()
	r.release()

	assert.Equal(t, []string{"kafka", "store", "tracer"}, order)
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}

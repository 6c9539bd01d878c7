package container_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
	"github.com/serroba/admission-go/internal/audit"
	"github.com/serroba/admission-go/internal/config"
	"github.com/serroba/admission-go/internal/container"
	"github.com/serroba/admission-go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(backend, redisAddr string) *config.Options {
	return &config.Options{
		Port:            8888,
		LogFormat:       "console",
		Backend:         backend,
		RedisAddr:       redisAddr,
		StoreTimeoutMs:  100,
		BreakerFailures: 5,
		SweepSeconds:    30,
		TTLSeconds:      60,
		Limit:           100,
		WindowSeconds:   60,
		Algorithm:       "fixed-window",
		FailurePolicy:   "fail-open",
	}
}

func newInjector(t *testing.T, options *config.Options) *do.Injector {
	t.Helper()

	require.NoError(t, options.Validate())

	injector := do.New()
	do.ProvideValue(injector, options)
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.StorePackage(injector)
	container.PublisherPackage(injector)
	container.AdmissionPackage(injector)
	container.HTTPPackage(injector)
	container.ConsumerGroupPackage(injector)

	t.Cleanup(func() { _ = injector.Shutdown() })

	return injector
}

func serve(t *testing.T, injector *do.Injector, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	router := do.MustInvoke[*chi.Mux](injector)
	_ = do.MustInvoke[huma.API](injector)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	return w
}

func TestLocalBackend(t *testing.T) {
	injector := newInjector(t, testOptions("local", ""))

	backend := do.MustInvoke[store.Backend](injector)
	assert.IsType(t, &store.MemoryStore{}, backend)

	body := `{"policy":"default-idempotency","parts":["42"]}`

	first := serve(t, injector, http.MethodPost, "/v1/admit", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"allowed":true`)

	second := serve(t, injector, http.MethodPost, "/v1/admit", body)
	assert.Contains(t, second.Body.String(), `"reason":"duplicate"`)

	health := serve(t, injector, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"status":"ok"`)
}

func TestSharedBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	options := testOptions("shared", mr.Addr())
	options.Audit = true

	injector := newInjector(t, options)

	backend := do.MustInvoke[store.Backend](injector)
	assert.IsType(t, &store.Resilient{}, backend)

	resp := serve(t, injector, http.MethodPost, "/v1/admit", `{"policy":"default-ratelimit","parts":["alice"]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"allowed":true`)

	health := serve(t, injector, http.MethodGet, "/health", "")
	assert.Contains(t, health.Body.String(), `"redis":"healthy"`)

	metrics := serve(t, injector, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "admission_decisions_total")

	assert.NotNil(t, do.MustInvoke[*audit.Group](injector))
}

func TestRedisPackage(t *testing.T) {
	mr := miniredis.RunT(t)

	injector := do.New()
	do.ProvideValue(injector, testOptions("shared", mr.Addr()))
	container.RedisPackage(injector)

	client := do.MustInvoke[*container.RedisClient](injector)
	require.NoError(t, client.Client.Ping(context.Background()).Err())

	require.NoError(t, injector.Shutdown())

	err := client.Client.Ping(context.Background()).Err()
	assert.ErrorIs(t, err, redis.ErrClosed)
}

package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/sendinblue-relay/internal/health"
)

type readyFlag bool

func (r readyFlag) IsReady() bool { return bool(r) }

type readyBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func get(t *testing.T, srv *health.Server, path string) (*httptest.ResponseRecorder, readyBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rec, req)

	var body readyBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestLiveness(t *testing.T) {
	srv := health.NewServer(":0", nil, zerolog.Nop())
	rec, body := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body.Status)
}

func TestReadinessAllReady(t *testing.T) {
	srv := health.NewServer(":0", map[string]health.Check{
		"producer": health.Ready(readyFlag(true)),
		"consumer": health.Ready(readyFlag(true)),
	}, zerolog.Nop())

	rec, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"producer": "ok", "consumer": "ok"}, body.Checks)
}

func TestReadinessReportsFailingCheck(t *testing.T) {
	srv := health.NewServer(":0", map[string]health.Check{
		"producer": health.Ready(readyFlag(true)),
		"consumer": health.Ready(readyFlag(false)),
	}, zerolog.Nop())

	rec, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, health.ErrNotReady.Error(), body.Checks["consumer"])
	assert.Equal(t, "ok", body.Checks["producer"])
}

func TestReadinessTimesOutSlowCheck(t *testing.T) {
	slow := func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	srv := health.NewServer(":0", map[string]health.Check{"slow": slow}, zerolog.Nop(),
		health.WithCheckTimeout(20*time.Millisecond),
		health.WithHandlerTimeout(time.Second),
	)

	rec, body := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "timeout", body.Checks["slow"])
}

func TestReadyNilReadier(t *testing.T) {
	assert.ErrorIs(t, health.Ready(nil)(context.Background()), health.ErrNotReady)
}

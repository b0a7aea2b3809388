package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/turingchat/go/internal/config"
)

func TestServerRoutes(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	infra, err := setupInfrastructure(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { infra.Close() })

	services := setupServices(cfg, infra)
	go services.Pool.Run(ctx)

	srv := httptest.NewServer(setupServer(cfg, services, infra).Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/pool/count")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0}`, string(body))

	resp, err = http.Get(srv.URL + "/score?token=alice")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"alice","total":0}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "turing_pool_waiting")
}

package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/watchsync/roomhub/internal/auth"
	"github.com/watchsync/roomhub/internal/config"
	"github.com/watchsync/roomhub/internal/server"
	"github.com/watchsync/roomhub/internal/stats"
	"github.com/watchsync/roomhub/internal/testutil"
)

func TestNewApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	hub := server.NewHub(nil, false, time.Hour, &stats.MockStatsUpdater{}, logger)
	verifier := auth.NewVerifier([]byte("secret"), "roomhub", false, logger)
	wsManager := server.NewManager(hub, verifier, nil, 0, 0, &stats.MockStatsUpdater{}, logger)
	cfg := &config.Config{
		ListenAddr:     "localhost:8080",
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	app := NewApp(mux, logger, hub, verifier, wsManager, nil, &stats.MockStatsUpdater{}, cfg)

	assert.NotNil(t, app)
	assert.NotNil(t, app.httpServer)
	assert.Equal(t, cfg.ListenAddr, app.httpServer.Addr)

	handler, pattern := mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/health"}})
	assert.NotNil(t, handler)
	assert.Equal(t, "GET /health", pattern)

	_, pattern = mux.Handler(&http.Request{Method: http.MethodPost, URL: &url.URL{Path: "/rooms"}})
	assert.Equal(t, "POST /rooms", pattern)

	_, pattern = mux.Handler(&http.Request{Method: http.MethodGet, URL: &url.URL{Path: "/ws"}})
	assert.Equal(t, "GET /ws", pattern)
}

func TestNewApp_EmptyOriginsInProductionDeniesCrossOrigin(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	hub := server.NewHub(nil, false, time.Hour, &stats.MockStatsUpdater{}, logger)
	verifier := auth.NewVerifier([]byte("secret"), "roomhub", false, logger)
	wsManager := server.NewManager(hub, verifier, nil, 0, 0, &stats.MockStatsUpdater{}, logger)
	cfg := &config.Config{
		ListenAddr: "localhost:8080",
		Production: true,
	}

	app := NewApp(mux, logger, hub, verifier, wsManager, nil, &stats.MockStatsUpdater{}, cfg)
	assert.NotNil(t, app)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rr := httptest.NewRecorder()

	app.httpServer.Handler.ServeHTTP(rr, req)

	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), "production with no configured origins must not reflect a cross-origin request's Origin header")
}

// Package api implements the room hub's control plane: the three
// request/response HTTP operations clients use to create a room and
// confirm one exists before attaching a streaming connection, plus a
// health probe. It never mutates live connection state directly — that is
// the Connection Manager's job — but shares the same Hub and Mirror.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/watchsync/roomhub/internal/auth"
	"github.com/watchsync/roomhub/internal/config"
	"github.com/watchsync/roomhub/internal/mirror"
	"github.com/watchsync/roomhub/internal/server"
	"github.com/watchsync/roomhub/internal/stats"
)

// App wires the control plane's HTTP routes onto a shared mux: one struct
// owning the collaborators a handler needs, with routing assembled once in
// the constructor.
type App struct {
	log            *log.Logger
	hub            *server.Hub
	verifier       *auth.Verifier
	mirror         mirror.Mirror
	stats          stats.StatsProvider
	startedAt      time.Time
	generateRoomID func() (string, error)

	httpServer *http.Server
}

// NewApp registers the control-plane and streaming routes on mux, wraps
// the result in a CORS + panic-recovery middleware chain, and returns an
// App ready to Start.
func NewApp(mux *http.ServeMux, logger *log.Logger, hub *server.Hub, verifier *auth.Verifier, wsManager *server.Manager, m mirror.Mirror, sp stats.StatsProvider, cfg *config.Config) *App {
	a := &App{
		log:            logger,
		hub:            hub,
		verifier:       verifier,
		mirror:         m,
		stats:          sp,
		startedAt:      time.Now(),
		generateRoomID: shortid.Generate,
	}

	mux.HandleFunc("GET /health", a.health)
	mux.Handle("POST /rooms", a.authMiddleware(a.createRoom))
	mux.Handle("POST /rooms/{id}/join", a.authMiddleware(a.joinPreflight))
	mux.Handle("GET /rooms/{id}/preview", a.authMiddleware(a.preview))
	mux.HandleFunc("GET /ws", wsManager.ServeWS)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 && !cfg.Production {
		origins = []string{"*"}
	}

	corsOpts := []handlers.CORSOption{
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Authorization"}),
	}
	if len(origins) == 0 {
		// gorilla's CORS treats an empty origin list as allow-all; production
		// with no configured origins denies every cross-origin request.
		corsOpts = append(corsOpts, handlers.AllowedOriginValidator(func(string) bool { return false }))
	}

	h := handlers.CORS(corsOpts...)(http.Handler(mux))

	h = a.errorHandler(h)

	a.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: h,
	}

	return a
}

func (a *App) Start() error {
	a.log.Printf("starting server on %s\n", a.httpServer.Addr)
	return a.httpServer.ListenAndServe()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Println("shutting down HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

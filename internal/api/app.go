package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/maxxi02/rendezvous-server/internal/config"
	"github.com/maxxi02/rendezvous-server/internal/presence"
	"github.com/maxxi02/rendezvous-server/internal/relay"
	"github.com/maxxi02/rendezvous-server/internal/server"
	"github.com/maxxi02/rendezvous-server/internal/stats"
	"github.com/maxxi02/rendezvous-server/internal/store"
)

// App is the HTTP surface of the realtime server: the websocket upgrade,
// token issuance for terminals, liveness and metrics, and the relay
// endpoints.
type App struct {
	log            *log.Logger
	store          store.Store
	presence       presence.Tracker
	cs             *server.ChatServer
	relay          *relay.Relay
	stats          stats.StatsProvider
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, rl *relay.Relay, st store.Store, tracker presence.Tracker, sp stats.StatsProvider, cfg *config.Config) *App {
	s := &App{
		log:            logger,
		store:          st,
		presence:       tracker,
		cs:             cs,
		relay:          rl,
		stats:          sp,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /api/auth/token", s.issueToken)
	mux.HandleFunc("GET /api/presence", s.authMiddleware(s.getPresence))
	mux.HandleFunc("POST /api/orders", s.staffMiddleware(s.placeOrder))
	mux.HandleFunc("POST /api/orders/{id}/status", s.staffMiddleware(s.advanceOrder))
	mux.HandleFunc("POST /api/tables", s.staffMiddleware(s.openTable))
	mux.HandleFunc("DELETE /api/tables/{id}", s.staffMiddleware(s.closeTable))
	mux.HandleFunc("POST /api/inventory/adjust", s.staffMiddleware(s.adjustInventory))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.mux = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *App) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *App) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

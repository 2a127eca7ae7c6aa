package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/meltforce/squatclicker/internal/economy"
	"github.com/meltforce/squatclicker/internal/exercise"
	"github.com/meltforce/squatclicker/internal/storage"
	"github.com/meltforce/squatclicker/internal/stream"
	"tailscale.com/client/tailscale/apitype"
)

// whoIser resolves a tailnet peer address to its owner. *local.Client satisfies it.
type whoIser interface {
	WhoIs(ctx context.Context, remoteAddr string) (*apitype.WhoIsResponse, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	db       *storage.DB
	exercise *exercise.Manager
	game     *economy.Book
	hub      *stream.Hub
	log      *slog.Logger
	apiKey   string
	ts       whoIser
	router   chi.Router

	// users caches login -> user ID so identity lookups skip the database.
	users sync.Map
}

// New creates a new Server with all routes configured. db may be nil, in
// which case the history endpoints report the store as unavailable.
func New(db *storage.DB, mgr *exercise.Manager, game *economy.Book, hub *stream.Hub, apiKey string, log *slog.Logger) *Server {
	s := &Server{
		db:       db,
		exercise: mgr,
		game:     game,
		hub:      hub,
		log:      log,
		apiKey:   apiKey,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches identity resolution from the local dev user to
// tailnet WhoIs lookups.
func (s *Server) SetTailscale(lc whoIser) {
	s.ts = lc
}

// SetMCP mounts a streamable-HTTP MCP handler at /mcp behind identity resolution.
func (s *Server) SetMCP(h http.Handler) {
	s.router.With(s.identity).Handle("/mcp", h)
}

func (s *Server) routes() {
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Frame upload from capture clients (API key required)
		r.With(APIKeyAuth(s.apiKey), s.identity).Post("/exercise/{id}/frames", s.handleExerciseFrames)

		// Browser endpoints (no API key; tsnet handles access)
		r.Group(func(r chi.Router) {
			r.Use(s.identity)

			r.Get("/me", s.handleMe)

			r.Get("/game", s.handleGame)
			r.Post("/game/click", s.handleClick)
			r.Post("/game/upgrades/{kind}", s.handleUpgrade)

			r.Post("/exercise", s.handleStartExercise)
			r.Get("/exercise/current", s.handleCurrentExercise)
			r.Get("/exercise/{id}", s.handleExerciseStatus)
			r.Post("/exercise/{id}/cancel", s.handleCancelExercise)
			r.Get("/exercise/{id}/ws", s.handleExerciseWS)

			r.Get("/sessions", s.handleQuerySessions)
			r.Get("/sessions/stats", s.handleSessionStats)
			r.Get("/sessions/{id}", s.handleGetSession)
		})
	})
}

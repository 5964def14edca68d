package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mcoot/cryptoquiz-go/internal/api/handler"
	"github.com/mcoot/cryptoquiz-go/internal/api/middleware"
	"github.com/mcoot/cryptoquiz-go/internal/api/sse"
	"github.com/mcoot/cryptoquiz-go/internal/api/ws"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	AuthService    *auth.Service
	Sessions       *session.Manager
	HubManager     *sse.HubManager
	Streams        *ws.Manager
	AllowedOrigins []string // Defaults to any origin
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	playerHandler := handler.NewPlayerHandler(cfg.AuthService, cfg.Sessions)
	gameHandler := handler.NewGameHandler(cfg.Sessions, cfg.HubManager, cfg.Streams, cfg.Logger)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Player routes (no auth required for creating a guest)
	api.Handle("/players/guest", middleware.OptionalAuth(cfg.AuthService)(
		http.HandlerFunc(playerHandler.CreateGuest))).Methods(http.MethodPost)

	// Protected player routes
	playerProtected := api.PathPrefix("/players").Subrouter()
	playerProtected.Use(authMiddleware)
	playerProtected.HandleFunc("/me", playerHandler.GetMe).Methods(http.MethodGet)
	playerProtected.HandleFunc("/me/last-score", playerHandler.LastScore).Methods(http.MethodGet)
	playerProtected.HandleFunc("/signout", playerHandler.SignOut).Methods(http.MethodPost)

	// Game routes (all require auth). Fixed paths come before /{id}.
	games := api.PathPrefix("/games").Subrouter()
	games.Use(authMiddleware)
	games.HandleFunc("", gameHandler.Create).Methods(http.MethodPost)
	games.HandleFunc("/join", gameHandler.Join).Methods(http.MethodPost)
	games.HandleFunc("/leave", gameHandler.Leave).Methods(http.MethodPost)
	games.HandleFunc("/current", gameHandler.Current).Methods(http.MethodGet)
	games.HandleFunc("/{id}", gameHandler.Get).Methods(http.MethodGet)
	games.HandleFunc("/{id}/me", gameHandler.Me).Methods(http.MethodGet)
	games.HandleFunc("/{id}/mutations", gameHandler.Mutate).Methods(http.MethodPost)
	games.HandleFunc("/{id}/events", gameHandler.Events).Methods(http.MethodGet)
	games.HandleFunc("/{id}/ws", gameHandler.Stream).Methods(http.MethodGet)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins:   origins,
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return c.Handler(r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

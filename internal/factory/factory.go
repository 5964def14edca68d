package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/cryptoquiz-go/internal/api"
	"github.com/mcoot/cryptoquiz-go/internal/api/sse"
	"github.com/mcoot/cryptoquiz-go/internal/api/ws"
	"github.com/mcoot/cryptoquiz-go/internal/config"
	"github.com/mcoot/cryptoquiz-go/internal/dependencies/clock"
	"github.com/mcoot/cryptoquiz-go/internal/dependencies/random"
	"github.com/mcoot/cryptoquiz-go/internal/feed"
	feedmemory "github.com/mcoot/cryptoquiz-go/internal/feed/memory"
	"github.com/mcoot/cryptoquiz-go/internal/feed/natsfeed"
	"github.com/mcoot/cryptoquiz-go/internal/feed/poll"
	"github.com/mcoot/cryptoquiz-go/internal/feed/redisfeed"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
	"github.com/mcoot/cryptoquiz-go/internal/services/lobby"
	"github.com/mcoot/cryptoquiz-go/internal/services/questions"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
	"github.com/mcoot/cryptoquiz-go/internal/storage"
	"github.com/mcoot/cryptoquiz-go/internal/storage/memory"
	"github.com/mcoot/cryptoquiz-go/internal/storage/postgres"
	redisstorage "github.com/mcoot/cryptoquiz-go/internal/storage/redis"
)

// App contains all wired application components
type App struct {
	// Backends
	Storage storage.Storage
	Feed    feed.Feed

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Questions       *questions.Service
	AuthService     *auth.Service
	LobbyController *lobby.Controller
	Sessions        *session.Manager

	// Streams
	HubManager *sse.HubManager
	Streams    *ws.Manager

	Logger *slog.Logger

	closers []io.Closer
}

// Deps are the backends and dependencies an App is built from
type Deps struct {
	Storage storage.Storage
	Feed    feed.Feed
	Clock   clock.Clock
	Random  random.Random
	Logger  *slog.Logger

	// Game supplies pacing and the default scoring mode for new games
	Game model.GameConfig
	Auth auth.Config

	// Questions defaults to the built-in bank
	Questions *questions.Service

	// OnGameEnd is called after each finished game's scores are stored
	OnGameEnd session.EndHook
}

// New creates the production application described by cfg
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	qs := questions.New()
	if cfg.QuestionBankPath != "" {
		if err := qs.LoadFromFile(cfg.QuestionBankPath); err != nil {
			return nil, fmt.Errorf("load question bank: %w", err)
		}
	}

	var closers []io.Closer
	fail := func(err error) (*App, error) {
		closeAll(closers, logger)
		return nil, err
	}

	clk := clock.New()

	store, redisClient, err := newStorage(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	if c, ok := store.(io.Closer); ok {
		closers = append(closers, c)
	}
	if cfg.FeedType == config.FeedRedis && redisClient == nil {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fail(fmt.Errorf("parse REDIS_URL: %w", err))
		}
		redisClient = redis.NewClient(opts)
		closers = append(closers, redisClient)
	}

	changes, err := newFeed(cfg, store, redisClient, clk, logger)
	if err != nil {
		return fail(err)
	}

	app := NewWithDeps(Deps{
		Storage:   store,
		Feed:      changes,
		Clock:     clk,
		Random:    random.New(),
		Logger:    logger,
		Game:      cfg.GameConfig(),
		Auth:      auth.Config{SessionDuration: cfg.SessionDuration},
		Questions: qs,
	})
	app.closers = append(app.closers, closers...)

	logger.Info("application wired",
		slog.String("storage", cfg.StorageType),
		slog.String("feed", cfg.FeedType),
		slog.Int("questions", qs.Len()),
		slog.String("scoring_mode", cfg.ScoringMode))
	return app, nil
}

// NewWithDeps wires the services on top of the given backends
func NewWithDeps(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	qs := d.Questions
	if qs == nil {
		qs = questions.New()
	}

	lobbyController := lobby.NewController(d.Storage, d.Feed, d.Clock, d.Random, logger)
	authService := auth.New(d.Storage, d.Clock, d.Auth, logger)
	sessions := session.NewManager(d.Storage, d.Feed, lobbyController, qs, d.Clock, logger, d.Game, d.OnGameEnd)
	hubManager := sse.NewHubManager(d.Feed, logger)
	streams := ws.NewManager(ws.DefaultConfig(), d.Feed, sessions, logger)

	return &App{
		Storage:         d.Storage,
		Feed:            d.Feed,
		Clock:           d.Clock,
		Random:          d.Random,
		Questions:       qs,
		AuthService:     authService,
		LobbyController: lobbyController,
		Sessions:        sessions,
		HubManager:      hubManager,
		Streams:         streams,
		Logger:          logger,
		closers:         []io.Closer{d.Feed},
	}
}

// Router builds the HTTP API over the app's services
func (a *App) Router(allowedOrigins []string) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Logger:         a.Logger,
		AuthService:    a.AuthService,
		Sessions:       a.Sessions,
		HubManager:     a.HubManager,
		Streams:        a.Streams,
		AllowedOrigins: allowedOrigins,
	})
}

// Close stops every stream and session, then releases the backends
func (a *App) Close() {
	a.Streams.Close()
	a.HubManager.Close()
	a.Sessions.Shutdown()
	closeAll(a.closers, a.Logger)
	a.closers = nil
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", slog.Any("error", err))
		}
	}
}

// newStorage opens the configured storage. The Redis client is returned
// so a Redis feed can share the connection pool.
func newStorage(ctx context.Context, cfg config.Config) (storage.Storage, *redis.Client, error) {
	switch cfg.StorageType {
	case config.StorageMemory:
		return memory.New(), nil, nil
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		store, err := redisstorage.New(redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis storage: %w", err)
		}
		return store, store.Client(), nil
	case config.StoragePostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.DatabaseURL
		store, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres storage: %w", err)
		}
		return store, nil, nil
	default:
		return nil, nil, errors.New("invalid storage type: must be memory, redis or postgres")
	}
}

func newFeed(cfg config.Config, store storage.Storage, client *redis.Client, clk clock.Clock, logger *slog.Logger) (feed.Feed, error) {
	switch cfg.FeedType {
	case config.FeedMemory:
		return feedmemory.NewBroker(logger), nil
	case config.FeedRedis:
		return redisfeed.New(client, logger), nil
	case config.FeedNATS:
		natsCfg := natsfeed.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		f, err := natsfeed.New(natsCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connect nats feed: %w", err)
		}
		return f, nil
	case config.FeedPoll:
		return poll.New(store, clk, cfg.PollInterval, logger), nil
	default:
		return nil, errors.New("invalid feed type: must be memory, redis, nats or poll")
	}
}

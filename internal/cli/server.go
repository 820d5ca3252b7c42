package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/identity"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/infra/postgres"
	"quizroom-service/internal/infra/rabbit"
	redisinfra "quizroom-service/internal/infra/redis"
	"quizroom-service/internal/logging"
	"quizroom-service/internal/metrics"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	return logging.New(logging.Options{Level: cfg.Log.Level, Mode: cfg.Server.Mode, File: cfg.Log.File})
}

// backends holds the storage connections shared by the server and the admin commands.
type backends struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	store app.QuizStore
}

func (b *backends) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// openBackends picks Postgres or the in-memory store, fronted by a Redis or
// in-process definition cache.
func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{}

	var durable app.QuizStore
	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return nil, err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		durable = postgres.NewQuizStore(pool)
		log.Info("using postgres quiz store")
	} else {
		durable = memory.NewQuizStore(sampleQuizzes()...)
		log.Warn("postgres not configured, quizzes are kept in memory")
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			// marker writes carry their own short deadlines
			ContextTimeoutEnabled: true,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, err
		}
		b.store = redisinfra.NewQuizCache(b.redis, durable, quizTTL)
	} else {
		b.store = memory.NewQuizCache(durable, quizTTL)
	}
	return b, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer func() { _ = log.Sync() }()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := transport.NewHub(log.Named("hub"))

	var sessions app.SessionRepository = memory.NewSessionStore()
	if b.redis != nil {
		node := uuid.NewString()
		store := redisinfra.NewSessionStore(b.redis, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute), node).
			WithLogger(log.Named("ownership"))
		go refreshOwnership(ctx, store, log)
		sessions = store
		log.Info("session ownership tracked in redis", zap.String("node", node))
	}

	opts := []app.Option{
		app.WithLogger(log.Named("sessions")),
		app.WithMetrics(m),
		app.WithBroadcaster(hub),
		app.WithSettings(app.Settings{
			MinPlayers:       cfg.Session.MinPlayers,
			PointsPerCorrect: cfg.Session.PointsPerCorrect,
			StoreTimeout:     config.TTLDuration(cfg.Session.StoreTimeout, 3*time.Second),
		}),
	}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := rabbit.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		opts = append(opts, app.WithLifecycle(publisher))
		log.Info("publishing lifecycle events", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	coord := app.NewCoordinator(sessions, b.store, opts...)
	defer coord.Close()

	tokens := identity.NewTokens(cfg.Auth.JWTSecret, config.TTLDuration(cfg.Auth.TokenTTL, 24*time.Hour))
	if !tokens.Enabled() {
		log.Warn("JWT secret not set, clients identify themselves")
	}

	ws := transport.NewWSHandler(coord, hub, tokens, log.Named("ws"), m, transport.GatewayOptions{
		MessagesPerSecond: cfg.RateLimit.MessagesPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	router := transport.NewRouter(transport.NewAPI(coord, tokens, log.Named("api")), ws, m, log.Named("http"), transport.RouterOptions{
		Mode:           cfg.Server.Mode,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-errCh:
		log.Error("server failed", zap.Error(err))
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func refreshOwnership(ctx context.Context, store *redisinfra.SessionStore, log *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Refresh(ctx); err != nil {
				log.Warn("refresh session ownership failed", zap.Error(err))
			}
		}
	}
}

// sampleQuizzes seeds the in-memory store so a fresh checkout has something to join.
func sampleQuizzes() []domain.Quiz {
	quiz := domain.Quiz{
		Code:        "DEMO01",
		Title:       "Warm-up",
		Category:    "general",
		CreatedBy:   "host",
		CreatorName: "Host",
		Questions: []domain.Question{
			{Text: "What is 2 + 2?", Kind: domain.KindSingle, Options: []string{"3", "4", "5"}, CorrectAnswer: "4", TimeLimit: 20},
			{Text: "Which of these are primary colours?", Kind: domain.KindMultiple, Options: []string{"red", "green", "blue"}, CorrectAnswer: "red,blue", TimeLimit: 30},
			{Text: "Capital of France?", Kind: domain.KindText, CorrectAnswer: "Paris", TimeLimit: 20},
		},
	}
	if err := quiz.Validate(); err != nil {
		panic(err)
	}
	now := time.Now().UTC()
	quiz.Status = domain.QuizPending
	quiz.CreatedAt = now
	quiz.UpdatedAt = now
	return []domain.Quiz{quiz}
}

package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"quizroom/internal/app"
	"quizroom/internal/config"
	"quizroom/internal/domain"
	"quizroom/internal/infra/file"
	"quizroom/internal/infra/memory"
	pginfra "quizroom/internal/infra/postgres"
	redisinfra "quizroom/internal/infra/redis"
	"quizroom/internal/logging"
	transport "quizroom/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// cachedQuizRepository is a quiz repository whose entries can be dropped when content changes.
type cachedQuizRepository interface {
	app.QuizRepository
	Invalidate(ctx context.Context, quizID int64)
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.NoColor)
	slog.SetDefault(logger)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 2*time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var (
		loader     memory.QuizLoader
		fileLoader *file.QuizLoader
	)
	switch {
	case pool != nil:
		loader = pginfra.NewQuizLoader(pool)
	case cfg.Quiz.Dir != "":
		fileLoader, err = file.NewQuizLoader(cfg.Quiz.Dir, logger)
		if err != nil {
			return err
		}
		loader = fileLoader
	default:
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo cachedQuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.SessionRepository
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		store = memory.NewSessionStore()
	}

	opts := []app.Option{
		app.WithSettings(gameSettings(cfg)),
		app.WithLogger(logger),
	}
	switch {
	case pool != nil:
		opts = append(opts, app.WithResultSink(pginfra.NewResultSink(pool)))
	case redisClient != nil:
		opts = append(opts, app.WithResultSink(redisinfra.NewResultSink(redisClient, redisTTL)))
	}

	registry := app.NewRegistry()
	hub := transport.NewHub(logger)
	service := app.NewQuizService(store, quizRepo, registry, app.NewGateway(registry, hub, logger), opts...)
	wsHandler := transport.NewWSHandler(service, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.Handle("/leaderboard", transport.NewLeaderboardHandler(service))

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting quiz room server", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if fileLoader != nil && cfg.Quiz.Watch {
		g.Go(func() error {
			return fileLoader.Watch(gctx, func(quizIDs []int64) {
				for _, id := range quizIDs {
					quizRepo.Invalidate(gctx, id)
				}
			})
		})
	}
	return g.Wait()
}

func gameSettings(cfg config.Config) app.Settings {
	settings := app.DefaultSettings()
	settings.AnswerWindow = config.TTLDuration(cfg.Game.AnswerWindow, settings.AnswerWindow)
	if cfg.Game.CorrectPoints > 0 {
		settings.CorrectPoints = cfg.Game.CorrectPoints
	}
	if cfg.Game.DisconnectPolicy == string(app.DisconnectRetain) {
		settings.DisconnectPolicy = app.DisconnectRetain
	}
	return settings
}

// sampleQuizzes keeps the server usable with no database and no quiz directory.
func sampleQuizzes() map[int64]domain.Quiz {
	return map[int64]domain.Quiz{
		1: {
			ID:    1,
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     1,
					QuizID: 1,
					Text:   "What is 2 + 2?",
					Options: []domain.Option{
						{ID: 1, QuestionID: 1, Text: "3", Correct: false},
						{ID: 2, QuestionID: 1, Text: "4", Correct: true},
						{ID: 3, QuestionID: 1, Text: "5", Correct: false},
					},
				},
			},
		},
	}
}

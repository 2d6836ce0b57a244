package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"assessment-attempt-service/internal/app"
	"assessment-attempt-service/internal/config"
	"assessment-attempt-service/internal/infra/events"
	"assessment-attempt-service/internal/infra/memory"
	pgstore "assessment-attempt-service/internal/infra/postgres"
	redisinfra "assessment-attempt-service/internal/infra/redis"
	"assessment-attempt-service/internal/logging"
	"assessment-attempt-service/internal/metrics"
	"assessment-attempt-service/internal/session"
	transport "assessment-attempt-service/internal/transport/http"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func newLogger(cfg config.Config) *zap.Logger {
	return logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

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
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	loader, attempts, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 5*time.Minute)
	var catalog app.AssessmentCatalog
	var locker app.StartLocker
	var registry session.Registry
	if redisClient != nil {
		catalog = redisinfra.NewAssessmentCache(redisClient, loader, catalogTTL)
		locker = redisinfra.NewStartLock(redisClient, 10*time.Second)
		registry = redisinfra.NewViewRegistry(redisClient, redisTTL)
	} else {
		catalog = memory.NewAssessmentCatalog(loader, catalogTTL)
		locker = memory.NewStartLocker()
		registry = memory.NewViewRegistry()
	}

	g, gctx := errgroup.WithContext(ctx)

	publisher, err := openEvents(gctx, g, cfg, logger)
	if err != nil {
		return err
	}
	defer publisher.Close() //nolint:errcheck

	service := app.NewAttemptService(attempts, catalog, app.Options{
		Locker:      locker,
		Events:      publisher,
		Logger:      logger.Named("attempts"),
		SubmitGrace: config.TTLDuration(cfg.Attempt.SubmitGrace, app.DefaultSubmitGrace),
	})

	router := transport.NewRouter(transport.RouterConfig{
		Mode:        cfg.Server.Mode,
		CORSOrigins: cfg.Server.CORSOrigins,
		Auth:        transport.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Attempts:    transport.NewAttemptHandler(service, logger),
		Live: transport.NewLiveHandler(service, registry, transport.LiveOptions{
			Debounce: config.TTLDuration(cfg.Attempt.AutosaveDebounce, session.DefaultDebounce),
			Tick:     config.TTLDuration(cfg.Attempt.TickInterval, session.DefaultTick),
		}, logger.Named("live")),
		AnswerLimit: transport.NewUserRateLimiter(cfg.RateLimit.AnswersPerSecond, cfg.RateLimit.Burst),
		Logger:      logger.Named("http"),
	})

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}

	sweeper := app.NewSweeper(service, config.TTLDuration(cfg.Attempt.SweepInterval, 30*time.Second), logger.Named("sweeper"))
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting assessment attempt service", zap.String("addr", server.Addr))
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
	return g.Wait()
}

// openStorage picks Postgres when configured, otherwise the in-memory store
// with the seed file as catalog.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (memory.AssessmentLoader, app.AttemptRepository, func(), error) {
	if cfg.Postgres.URL == "" {
		logger.Warn("postgres not configured, attempts are kept in memory")
		seed, err := memory.LoadSeedFile(cfg.Catalog.SeedFile)
		if err != nil {
			return nil, nil, nil, err
		}
		return seed, memory.NewAttemptStore(), func() {}, nil
	}

	db, err := openBun(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	closeAll := func() {
		pool.Close()
		db.Close()
	}
	return pgstore.NewAssessmentLoader(pool), pgstore.NewAttemptStore(db), closeAll, nil
}

// openEvents wires the event publisher. The in-process driver also runs
// the audit log consumer.
func openEvents(ctx context.Context, g *errgroup.Group, cfg config.Config, logger *zap.Logger) (*events.Publisher, error) {
	var pub message.Publisher
	switch cfg.Events.Driver {
	case "kafka":
		kafkaPub, err := events.NewKafkaPublisher(cfg.Events.Brokers, logger.Named("events"))
		if err != nil {
			return nil, err
		}
		pub = kafkaPub
	default:
		channel := events.NewGoChannel(logger.Named("events"))
		audit, err := events.SubscribeAuditLog(ctx, channel, cfg.Events.Topic, logger.Named("audit"))
		if err != nil {
			return nil, err
		}
		g.Go(audit)
		pub = channel
	}
	return events.NewPublisher(pub, cfg.Events.Topic), nil
}

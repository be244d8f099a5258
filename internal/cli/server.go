package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"practice-progress-service/internal/app"
	"practice-progress-service/internal/config"
	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/infra/memory"
	pgstore "practice-progress-service/internal/infra/postgres"
	infraredis "practice-progress-service/internal/infra/redis"
	"practice-progress-service/internal/logger"
	transport "practice-progress-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the progress server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
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

	var (
		store  app.Store
		loader memory.CatalogLoader = memory.NewStaticCatalogLoader(domain.DefaultCatalog())
	)
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrateDB(ctx, db, log); err != nil {
			return err
		}
		store = pgstore.NewStore(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgstore.NewCatalogLoader(pool)
	} else {
		log.Warn("postgres url not configured, progress is kept in memory")
		store = memory.NewStore()
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var (
		catalog app.CatalogRepository
		locker  app.UserLocker
	)
	if redisClient != nil {
		catalog = infraredis.NewCatalogRepository(redisClient, loader, catalogTTL, log)
		locker = infraredis.NewUserLocks(redisClient, config.TTLDuration(cfg.Redis.LockTTL, 10*time.Second), log)
	} else {
		catalog = memory.NewCatalogRepository(loader, catalogTTL)
		locker = memory.NewUserLocks()
	}

	service := app.NewProgressService(store, catalog,
		app.WithLocation(loc),
		app.WithLocker(locker),
		app.WithLogger(log),
	)
	auth := transport.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	router := transport.NewRouter(
		transport.NewProgressHandler(service),
		transport.NewWSHandler(service, log, cfg.Auth.AllowedOrigins...),
		auth,
		log,
	)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info("starting progress service", "port", finalPort, "timezone", loc.String())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

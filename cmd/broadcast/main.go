package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-broadcast/internal/boost"
	"github.com/weiawesome/wes-io-broadcast/internal/config"
	"github.com/weiawesome/wes-io-broadcast/internal/domain"
	"github.com/weiawesome/wes-io-broadcast/internal/handler"
	"github.com/weiawesome/wes-io-broadcast/internal/lifecycle"
	"github.com/weiawesome/wes-io-broadcast/internal/multiplexer"
	"github.com/weiawesome/wes-io-broadcast/internal/payment"
	"github.com/weiawesome/wes-io-broadcast/internal/repository"
	"github.com/weiawesome/wes-io-broadcast/internal/service"
	"github.com/weiawesome/wes-io-broadcast/internal/telemetry"
	"github.com/weiawesome/wes-io-broadcast/internal/transcode"
	pkgconfig "github.com/weiawesome/wes-io-broadcast/pkg/config"
	"github.com/weiawesome/wes-io-broadcast/pkg/database"
	pkglog "github.com/weiawesome/wes-io-broadcast/pkg/log"
	"github.com/weiawesome/wes-io-broadcast/pkg/pubsub"
	"github.com/weiawesome/wes-io-broadcast/pkg/storage"
)

type repositories struct {
	videos   repository.Repository[domain.Video]
	invoices repository.Repository[domain.BoostMessageInvoice]
	close    func()
}

func openRepositories(cfg config.RepositoryConfig) (*repositories, error) {
	switch cfg.Driver {
	case "", "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return &repositories{
			videos:   repository.NewRedisRepository[domain.Video](client, domain.CollectionVideos),
			invoices: repository.NewRedisRepository[domain.BoostMessageInvoice](client, domain.CollectionInvoices),
			close:    func() { client.Close() },
		}, nil

	case "sql":
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.AutoMigrate(db, &repository.Record{}); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
		}
		return &repositories{
			videos:   repository.NewGormRepository[domain.Video](db, domain.CollectionVideos),
			invoices: repository.NewGormRepository[domain.BoostMessageInvoice](db, domain.CollectionInvoices),
			close:    func() { sqlDB.Close() },
		}, nil

	case "memory":
		return &repositories{
			videos:   repository.NewMemoryRepository[domain.Video](domain.CollectionVideos),
			invoices: repository.NewMemoryRepository[domain.BoostMessageInvoice](domain.CollectionInvoices),
			close:    func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported repository driver: %s", cfg.Driver)
	}
}

func main() {
	// 1. Load configuration
	if err := pkgconfig.LoadDotEnv(); err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: "broadcast",
	})
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = pkglog.WithLogger(ctx, logger)

	// 3. Storage and broker
	repos, err := openRepositories(cfg.Repository)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Repository.Driver).Msg("failed to open repositories")
	}
	defer repos.close()
	logger.Info().Str("driver", cfg.Repository.Driver).Msg("repositories ready")

	broker, err := pubsub.NewBroker(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create broker")
	}
	defer broker.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("broker connected")

	var vod storage.Storage
	if cfg.Storage.VOD.Enabled {
		vod, err = storage.New(ctx, cfg.Storage.VOD.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create vod storage")
		}
		logger.Info().Str("driver", cfg.Storage.VOD.Driver).Msg("vod upload enabled")
	}

	// 4. Core components
	muxCfg := cfg.Multiplexer
	muxCfg.MaxQueue = cfg.WebSocket.MaxQueue
	mux := multiplexer.New(broker, muxCfg)

	payments := payment.NewClient(cfg.Payment, nil)
	boosts := boost.NewService(repos.invoices, mux)
	broadcastSvc := service.NewBroadcastService(repos.videos, repos.invoices, mux, payments)
	videoSvc := service.NewVideoService(repos.videos, vod, cfg.Storage.VOD.URLExpiry)
	ingest := lifecycle.NewIngest(repos.videos)

	monitor := lifecycle.NewMonitor(lifecycle.Deps{
		Videos:     repos.videos,
		Telemetry:  telemetry.NewClient(cfg.Monitor.Telemetry, nil),
		Rooms:      mux,
		Transcoder: transcode.New(cfg.Transcode, nil),
		Invoices:   boosts,
		VOD:        vod,
	}, cfg.Monitor.Config)

	// 5. HTTP
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health"))
	handler.NewHandler(videoSvc, ingest, boosts).RegisterRoutes(r)
	handler.NewWSHandler(broadcastSvc, cfg.WebSocket).RegisterRoutes(r)
	if local, ok := vod.(*storage.LocalStorage); ok && cfg.Storage.VOD.Local.PublicURL != "" {
		r.Static(cfg.Storage.VOD.Local.PublicURL, local.BasePath())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	// 6. Run until a signal arrives or a runner fails
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mux.Run(gctx)
	})

	monitor.Start(gctx)
	logger.Info().Dur("interval", cfg.Monitor.Interval).Dur("grace", cfg.Monitor.Grace).Msg("monitor started")

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("broadcast starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		monitor.Stop()
		<-monitor.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("broadcast stopped with error")
		return
	}
	logger.Info().Msg("broadcast stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/gridwise/enrollflow/internal/enrollment/application"
	"github.com/gridwise/enrollflow/internal/enrollment/crypto"
	"github.com/gridwise/enrollflow/internal/enrollment/domain"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/apiclient"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/mailer"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/persistence"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/persistence/mysql"
	"github.com/gridwise/enrollflow/internal/enrollment/infrastructure/webhook"
	httpserver "github.com/gridwise/enrollflow/internal/enrollment/interfaces/http"
	"github.com/gridwise/enrollflow/pkg/cache"
	"github.com/gridwise/enrollflow/pkg/config"
	"github.com/gridwise/enrollflow/pkg/db"
	"github.com/gridwise/enrollflow/pkg/logger"
	"github.com/gridwise/enrollflow/pkg/metrics"
	"github.com/gridwise/enrollflow/pkg/middleware"
	"github.com/gridwise/enrollflow/pkg/mq"
)

var configPath = flag.String("config", "configs/enrollment/config.toml", "config file path")

// seedDemoInstance makes a fresh dev database usable immediately: one active
// demo-mode instance reachable at /api/v1/forms/demo.
func seedDemoInstance(ctx context.Context, repo domain.InstanceRepository) {
	existing, err := repo.GetBySlug(ctx, "demo", false)
	if err != nil || existing != nil {
		return
	}
	id, err := repo.Create(ctx, &domain.FormInstance{
		Slug:     "demo",
		Name:     "Demo Cooling Rewards",
		Utility:  "demo",
		FormType: domain.FormTypeEnrollment,
		TestMode: true,
		IsActive: true,
		Settings: domain.InstanceSettings{
			DemoMode:              true,
			SendConfirmationEmail: false,
		},
	})
	if err != nil {
		logger.Warn(ctx, "Failed to seed demo instance", "error", err)
		return
	}
	logger.Info(ctx, "Seeded demo instance", "instance_id", id)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	ctx := context.Background()
	logger.Info(ctx, "Starting service",
		"service", cfg.ServiceName, "version", cfg.Version, "environment", cfg.Environment)

	enc, err := crypto.New(cfg.Crypto.SecretKey)
	if err != nil {
		logger.Fatal(ctx, "Failed to init encryption", "error", err)
	}
	if status, msg := enc.Status(); status != crypto.KeyStatusOK {
		logger.Warn(ctx, "Encryption key warning", "status", string(status), "detail", msg)
	}

	m := metrics.New(cfg.ServiceName)
	if err := m.Register(); err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}
	if cfg.Metrics.Enabled {
		if err := metrics.StartHTTPServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			logger.Fatal(ctx, "Failed to start metrics server", "error", err)
		}
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to connect database", "error", err)
	}
	defer database.Close()

	if cfg.Environment == "dev" {
		if err := mysql.Migrate(database.DB); err != nil {
			logger.Error(ctx, "Failed to migrate database", "error", err)
		}
	}

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Warn(ctx, "Redis unavailable, caching disabled", "error", err)
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	var producer *mq.KafkaProducer
	if cfg.Kafka.Enabled {
		producer, err = mq.NewProducer(mq.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			MaxRetries:   cfg.Kafka.MaxRetries,
			RetryBackoff: cfg.Kafka.RetryBackoff,
		})
		if err != nil {
			logger.Warn(ctx, "Kafka unavailable, event mirroring disabled", "error", err)
			producer = nil
		} else {
			defer producer.Close()
		}
	}

	instanceRepo := persistence.NewCachedInstanceRepository(
		mysql.NewInstanceRepository(database.DB, enc), redisCache, enc)
	store := mysql.NewSubmissionStore(database.DB, enc)

	if cfg.Environment == "dev" {
		seedDemoInstance(ctx, instanceRepo)
	}

	dispatcher := webhook.NewDispatcher(func(ctx context.Context, instanceID uint) []string {
		inst, err := instanceRepo.Get(ctx, instanceID)
		if err != nil || inst == nil {
			return nil
		}
		return inst.Settings.WebhookURLs
	}, producer, cfg.Kafka.EventTopic, m)

	var mail mailer.Mailer = mailer.NoopMailer{}
	if cfg.Mailer.Enabled {
		mail = mailer.NewSMTPMailer(mailer.Config{
			Host:      cfg.Mailer.Host,
			Port:      cfg.Mailer.Port,
			Username:  cfg.Mailer.Username,
			Password:  cfg.Mailer.Password,
			From:      cfg.Mailer.From,
			SupportCC: cfg.Mailer.SupportCC,
		})
	}

	demoClient := apiclient.NewDemoClient()
	clientFactory := func(inst *domain.FormInstance) domain.ProgramAPIClient {
		if inst.Settings.DemoMode {
			return demoClient
		}
		return apiclient.NewHTTPClient(apiclient.Options{
			Endpoint: inst.APIEndpoint,
			Username: inst.APIUsername,
			Password: inst.APIPassword,
		})
	}

	orch := application.NewOrchestrator(
		instanceRepo, store, clientFactory, dispatcher, mail, enc, m, redisCache,
		cfg.Mailer.ResumeBaseURL)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinLoggingMiddleware())
	router.Use(middleware.GinCORSMiddleware())
	router.Use(middleware.GinMetricsMiddleware(m))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.ServiceName, "version": cfg.Version})
	})
	httpserver.NewFormHandler(orch).RegisterRoutes(router)

	g, gctx := errgroup.WithContext(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		logger.Info(gctx, "HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.Retry.Enabled {
		worker := application.NewRetryWorker(orch, application.RetryWorkerConfig{
			Interval:    time.Duration(cfg.Retry.IntervalSec) * time.Second,
			MaxAttempts: cfg.Retry.MaxAttempts,
			BatchSize:   cfg.Retry.BatchSize,
		})
		g.Go(func() error {
			if err := worker.Run(gctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(gctx, "Shutting down")
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Service exited with error", "error", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/pricecards/internal/api/handler"
	"github.com/cuongbtq/pricecards/internal/api/router"
	"github.com/cuongbtq/pricecards/internal/api/storage"
	"github.com/cuongbtq/pricecards/internal/config"
	"github.com/cuongbtq/pricecards/internal/offer"
	"github.com/cuongbtq/pricecards/internal/spreadsheet"
	"github.com/cuongbtq/pricecards/migrations"
	"github.com/cuongbtq/pricecards/shared/logger"
	"github.com/cuongbtq/pricecards/shared/objectstore"
	"github.com/cuongbtq/pricecards/shared/postgresql"
	"github.com/cuongbtq/pricecards/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Background janitors stop with this context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	appLogger.Info("Database connection established")

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	objectClient, err := initObjectStore(ctx, &cfg.Storage, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize object storage: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = initRedis(ctx, &cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()
	}

	mediaStack := initMedia(ctx, &cfg.Media, &cfg.Redis, objectClient, redisClient, appLogger.ForComponent("media"))

	store := storage.NewStorage(dbClient)

	deps := &handler.Dependencies{
		Logger:         appLogger.Logger,
		ServiceName:    cfg.App.Name,
		Jobs:           store,
		Cards:          store,
		Queue:          rabbitClient,
		Files:          objectClient,
		Resolver:       mediaStack.resolver,
		Fetcher:        mediaStack.fetcher,
		Spreadsheets:   spreadsheet.NewService(store, appLogger.ForComponent("spreadsheet")),
		AuthSecret:     cfg.Auth.JWTSecret,
		AllowedHosts:   cfg.Media.AllowedHosts,
		MaxUploadBytes: cfg.Media.MaxBytes,
		JobMaxRetries:  cfg.Worker.MaxRetries,
		JobTimeout:     cfg.Worker.JobTimeout,
	}
	if mediaStack.blobs != nil {
		deps.Blobs = mediaStack.blobs
	}
	if cfg.Offers.BaseURL != "" {
		deps.Offers = initOffers(&cfg.Offers, appLogger.ForComponent("offers"))
	} else {
		appLogger.Warn("Offers base_url not set, card confirmation will not publish offers")
	}

	if cfg.Auth.JWTSecret == "" {
		appLogger.Warn("Auth jwt_secret not set, API is open")
	}

	r := initRouter(cfg.App.Environment, deps)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initObjectStore connects to MinIO and makes sure the bucket exists
func initObjectStore(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (*objectstore.Client, error) {
	client, err := objectstore.NewClient(&objectstore.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		Region:    cfg.Region,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := client.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// initOffers builds the marketplace offer publisher
func initOffers(cfg *config.OffersConfig, logger *slog.Logger) *offer.Service {
	mapper := offer.NewMapper(offer.Defaults{
		Amount:            cfg.DefaultAmount,
		ExpiryDays:        cfg.ExpiryDays,
		StateRegistration: cfg.StateRegistration,
		CommissionValue:   cfg.CommissionValue,
		FoxFee:            cfg.FoxFee,
		FinanceTax:        cfg.FinanceTax,
		Sign: offer.Sign{
			Coords: offer.Coords{Latitude: cfg.SignLatitude, Longitude: cfg.SignLongitude},
			IP:     cfg.SignIP,
		},
	})
	return offer.NewService(cfg.BaseURL, cfg.Timeout, mapper, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/scan-classifier/internal/auth"
	"github.com/example/scan-classifier/internal/classifier"
	"github.com/example/scan-classifier/internal/config"
	"github.com/example/scan-classifier/internal/handlers"
	"github.com/example/scan-classifier/internal/healthsrv"
	"github.com/example/scan-classifier/internal/httpserver"
	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/repository"
	"github.com/example/scan-classifier/internal/usecase"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	registry := classifier.LoadRegistry(map[classifier.Organ]string{
		classifier.Brain:  cfg.BrainModelPath,
		classifier.Retina: cfg.RetinaModelPath,
	}, classifier.Options{
		Timeout: cfg.InferenceTimeout,
		Limiter: semaphore.NewWeighted(int64(cfg.MaxConcurrentInferences)),
	}, logger)

	repo := initRepository(ctx, cfg.DatabaseDSN, logger)
	cache := initCache(ctx, cfg.RedisAddr, logger)
	uc := usecase.NewPredictionUseCase(registry, repo, cache, cfg.CacheTTL, logger)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger), cors.New(corsConfig(cfg.CORSAllowedOrigins)))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, auth.Middleware(cfg.JWTSecret, cfg.JWTAudience))

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("failed to listen for gRPC", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
		}
		healthServer := healthsrv.New(registry.Status(), logger)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		defer healthServer.Stop()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("inference API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Any("models", registry.Status()))
	if err := httpserver.Serve(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	c.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	c.ExposeHeaders = []string{"X-Request-ID"}
	return c
}

func initRepository(ctx context.Context, dsn string, zapLogger *zap.Logger) usecase.PredictionRepository {
	if dsn == "" {
		zapLogger.Info("no database configured, keeping prediction log in memory")
		return repository.NewMemoryRepository(repository.DefaultMemoryCapacity)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	repo := repository.NewPostgresRepository(db, zapLogger)
	if err := repo.AutoMigrate(ctx); err != nil {
		zapLogger.Fatal("auto migrate failed", zap.Error(err))
	}
	return repo
}

func initCache(ctx context.Context, addr string, zapLogger *zap.Logger) usecase.Cache {
	if addr == "" {
		zapLogger.Info("no redis configured, prediction cache disabled")
		return usecase.NoopCache{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(pingCtx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return usecase.NewRedisCache(client)
}

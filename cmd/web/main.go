// Command web serves the browser frontend for the inference API.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/apiclient"
	"github.com/example/scan-classifier/internal/config"
	"github.com/example/scan-classifier/internal/handlers"
	"github.com/example/scan-classifier/internal/httpserver"
	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/session"
	"github.com/example/scan-classifier/internal/web"
)

func main() {
	cfg, err := config.LoadWeb()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	store := initSessionStore(cfg, logger)
	client := apiclient.New(cfg.BackendURL, cfg.RequestTimeout)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = web.MaxUploadSize

	if err := web.NewHandler(store, client, cfg.SessionTTL, logger).RegisterRoutes(r); err != nil {
		logger.Fatal("failed to register routes", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.WebAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("web frontend listening",
		zap.String("addr", cfg.WebAddr),
		zap.String("backend", cfg.BackendURL))
	if err := httpserver.Serve(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func initSessionStore(cfg *config.Web, logger *zap.Logger) session.Store {
	if cfg.RedisAddr == "" {
		logger.Info("no redis configured, keeping sessions in memory",
			zap.Int64("max_bytes", cfg.SessionMaxBytes))
		store, err := session.NewMemoryStore(cfg.SessionTTL, cfg.SessionMaxBytes)
		if err != nil {
			logger.Fatal("failed to create session store", zap.Error(err))
		}
		return store
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	return session.NewRedisStore(client, cfg.SessionTTL)
}

// main.go
// LocoInspect Cloud API
// Realtime locomotive inspection records, photo capture and staff management

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"locoinspect/auth"
	"locoinspect/backend"
	"locoinspect/config"
	"locoinspect/controller"
	"locoinspect/db"
	"locoinspect/feed"
	"locoinspect/handlers"
	"locoinspect/logging"
	"locoinspect/middleware"
	"locoinspect/photos"
	"locoinspect/web"
	"locoinspect/webcache"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// tableStore is a table store that also carries its own change feed.
type tableStore interface {
	backend.Tables
	backend.ChangeFeed
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "locoinspect")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting LocoInspect API Server",
		zap.String("environment", cfg.Server.Environment),
		zap.String("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("photo_store", cfg.Storage.Backend),
		zap.String("feed", cfg.Feed.Backend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tables, closeTables, err := openTables(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize table store", zap.Error(err))
	}
	defer closeTables()

	mux := http.NewServeMux()

	photoStore, closePhotos, err := openPhotos(ctx, cfg, mux)
	if err != nil {
		logger.Fatal("Failed to initialize photo store", zap.Error(err))
	}
	defer closePhotos()

	var changes backend.ChangeFeed = tables
	if cfg.Feed.Backend == "redis" {
		client := feed.NewRedisClient(cfg.Feed.RedisAddr, cfg.Feed.RedisPassword, cfg.Feed.RedisDB)
		defer client.Close()
		redisFeed := feed.NewRedisFeed(client, cfg.Feed.ChannelPrefix, logger)
		if err := redisFeed.Ping(ctx); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.String("addr", cfg.Feed.RedisAddr), zap.Error(err))
		}
		changes = redisFeed
	}

	state := controller.NewState()
	client := backend.NewClient(tables, photoStore, changes, logger, backend.WithStatusHook(state.ReportStatus))
	ctrl := controller.New(client, state, logger, controller.Options{
		SubmitDelay: cfg.App.SubmitDelay,
		Location:    cfg.Location(),
		SessionTTL:  cfg.JWT.RefreshTokenExpiration,
	})
	ctrl.Start(ctx)
	defer ctrl.Close()
	go ctrl.Cleanup(ctx, time.Minute)

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration, cfg.JWT.RefreshTokenExpiration)
	logger.Info("JWT manager initialized", zap.Duration("expiration", cfg.JWT.Expiration))

	handlers.RegisterRoutes(mux, handlers.Deps{
		Controller: ctrl,
		JWT:        jwtManager,
		AppName:    cfg.App.Name,
		Logger:     logger,
	})

	assets, err := openAssets(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to prepare the app shell", zap.Error(err))
	}
	mux.Handle("/", assets)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	rateLimiter.TrustForwardedFor = cfg.RateLimit.TrustProxy
	go rateLimiter.Cleanup(ctx, time.Minute, 3*time.Minute)
	logger.Info("Rate limiter initialized",
		zap.Int("requests", cfg.RateLimit.Requests),
		zap.Duration("window", cfg.RateLimit.Window),
		zap.Bool("trust_proxy", cfg.RateLimit.TrustProxy))

	// Apply global middleware
	handler := middleware.CORSMiddleware(cfg.CORS.AllowedOrigins)(mux)
	handler = rateLimiter.Middleware()(handler)
	handler = middleware.RequestLogger(logger, cfg.RateLimit.TrustProxy)(handler)
	handler = otelhttp.NewHandler(handler, "locoinspect")

	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /api/events streams stay open for the whole session.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func openTables(ctx context.Context, cfg *config.Config, logger *zap.Logger) (tableStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := db.NewPostgresDB(cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, func() { pg.Close() }, nil
	case "memory":
		logger.Warn("Using the in-memory table store; records are lost on restart")
		return db.NewMemoryDB(), func() {}, nil
	default:
		fs, err := db.NewFirestoreDB(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() { fs.Close() }, nil
	}
}

// openPhotos opens the photo store. The local store is served from /photos/ on mux.
func openPhotos(ctx context.Context, cfg *config.Config, mux *http.ServeMux) (backend.PhotoStore, func(), error) {
	if cfg.Storage.Backend == "local" {
		base := cfg.Storage.PublicBaseURL
		if base == "" {
			base = "/photos"
		}
		local, err := photos.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.Bucket, base)
		if err != nil {
			return nil, nil, err
		}
		mux.Handle("/photos/", http.StripPrefix("/photos/", http.FileServer(http.Dir(local.Root))))
		return local, func() {}, nil
	}

	gcs, err := photos.NewGCSStore(ctx, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL, cfg.Firebase.CredentialsPath)
	if err != nil {
		return nil, nil, err
	}
	return gcs, func() { gcs.Close() }, nil
}

// openAssets puts the offline cache in front of the embedded app shell, or in front of
// STATIC_UPSTREAM when one is configured.
func openAssets(ctx context.Context, cfg *config.Config, logger *zap.Logger) (http.Handler, error) {
	upstream := web.Handler()
	if cfg.App.StaticUpstream != "" {
		proxy, err := webcache.NewProxy(cfg.App.StaticUpstream)
		if err != nil {
			return nil, err
		}
		upstream = proxy
	}

	cache := webcache.New(cfg.App.CacheName, upstream, webcache.NewStore(), logger)
	if err := cache.Install(ctx); err != nil {
		return nil, err
	}
	if removed := cache.Activate(); removed > 0 {
		logger.Info("Removed stale asset caches", zap.Int("count", removed))
	}
	return cache, nil
}

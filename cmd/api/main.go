//	@title			Samhwalin API
//	@version		1.0
//	@description	Image proxy and story API for the Samhwalin donation site.
//
//	@host		localhost:8080
//	@BasePath	/api
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/samhwalin/service/internal/config"
	"github.com/samhwalin/service/internal/db"
	"github.com/samhwalin/service/internal/imagecache"
	"github.com/samhwalin/service/internal/imageproxy"
	"github.com/samhwalin/service/internal/imageurl"
	"github.com/samhwalin/service/internal/logger"
	appMiddleware "github.com/samhwalin/service/internal/middleware"
	"github.com/samhwalin/service/internal/proxiedimage"
	"github.com/samhwalin/service/internal/storage"
	"github.com/samhwalin/service/internal/story"
	"github.com/samhwalin/service/internal/storypage"

	_ "github.com/samhwalin/service/docs/swagger"
)

func main() {
	cfg := config.Load()
	logger.Setup(cfg.LogLevel, !cfg.IsProduction())

	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	objects, err := storage.NewMinioStorage(ctx,
		cfg.StorageEndpoint,
		cfg.StorageAccessKey,
		cfg.StorageSecretKey,
		cfg.StorageBucket,
		cfg.StorageRegion,
		cfg.StorageUseSSL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("object storage init failed")
	}

	// Presigned cover URLs point at the storage host, so it is proxied as a signed origin.
	rules := imageproxy.DefaultRules()
	rules.Proxy = append(rules.Proxy, imageurl.ParseHostList(cfg.ImageProxyHosts)...)
	rules.Signed = append(rules.Signed, imageurl.ParseHostList(cfg.ImageSignedHosts)...)
	rules.Signed = append(rules.Signed, imageurl.HostSuffix(objects.Host()))

	var cache imagecache.Cache = imagecache.Nop{}
	if cfg.RedisAddr != "" {
		rc, err := imagecache.NewRedis(ctx, imagecache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, image cache disabled")
		} else {
			defer rc.Close()
			cache = rc
		}
	}

	// Wire dependencies: repository → service → handler
	fetcher := imageproxy.NewHTTPFetcher(
		imageproxy.NewHTTPClient(cfg.ImageFetchTimeout, rules),
		cfg.ImageUserAgent,
		cfg.ImageMaxBytes,
	)
	proxySvc := imageproxy.NewService(rules, fetcher, cache, cfg.ImageCacheTTL)
	proxyHandler := imageproxy.NewHandler(proxySvc)

	storyRepo := story.NewRepository(pool)
	storySvc := story.NewService(storyRepo, objects, cfg.StoragePresignTTL)
	storyHandler := story.NewHandler(storySvc)

	// Story pages load long cover URLs over the proxy's POST path and serve
	// them from object handles.
	blobs := proxiedimage.NewObjectStore(proxiedimage.DefaultObjectPrefix)
	coverLoader := proxiedimage.NewLoader(
		&http.Client{Timeout: cfg.ImageFetchTimeout + 5*time.Second},
		cfg.ImageProxyEndpoint,
		blobs,
	)
	pageHandler := storypage.NewHandler(storySvc, coverLoader, cfg.PageHandleTTL)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at /swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Image proxy at /api/image
	proxyHandler.Routes(r)

	// Object handles for loaded covers, and the pages that own them
	r.Handle(proxiedimage.DefaultObjectPrefix+"*", blobs)
	pageHandler.Routes(r)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/stories", func(r chi.Router) {
			storyHandler.Routes(r, appMiddleware.RequireAdmin(cfg.JWTSecret))
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.ImageFetchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.AppEnv).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-quit
	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}

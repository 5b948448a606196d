package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apiecho "github.com/dranduil/wp-seo/api/echo"
	"github.com/dranduil/wp-seo/cache"
	redisstore "github.com/dranduil/wp-seo/cache/redis"
	"github.com/dranduil/wp-seo/config"
	"github.com/dranduil/wp-seo/domain"
	"github.com/dranduil/wp-seo/internal/connector"
	"github.com/dranduil/wp-seo/internal/httpx"
	"github.com/dranduil/wp-seo/internal/searchconsole"
	"github.com/dranduil/wp-seo/middleware"
	"github.com/dranduil/wp-seo/mongodb"
	"github.com/dranduil/wp-seo/tracing"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogger(cfg)

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize TracerProvider")
	}

	ctx := context.Background()

	// Persistence. Without MONGO_URI everything lives in memory, which
	// is enough for a single-node development setup.
	var (
		creds domain.CredentialRepository
		metas domain.SeoMetaRepository
	)
	if cfg.MongoURI != "" {
		db, closeDB, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer closeDB(ctx)

		metaRepo := mongodb.NewSeoMetaRepository(db)
		if err := metaRepo.EnsureIndexes(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
		}
		creds = mongodb.NewCredentialRepository(db)
		metas = metaRepo
	} else {
		log.Warn().Msg("MONGO_URI not set, using in-memory stores")
		creds = cache.NewMemoryCredentialStore()
		metas = cache.NewMemorySeoMetaStore()
	}

	// Authorization state nonces. Redis when configured, so callbacks
	// may land on any instance behind a load balancer.
	var states domain.StateStore
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		states = redisstore.NewStateStore(rdb, "wpseo")
	} else {
		memStates := cache.NewMemoryStateStore()
		defer memStates.Close()
		states = memStates
	}

	httpClient := httpx.NewClient(30 * time.Second)
	perms := middleware.KeyPermissionCheck{}
	conn := connector.New(connector.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURI:  cfg.OAuthRedirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/webmasters.readonly"},
	}, creds, states, httpClient, perms)
	console := searchconsole.NewClient(conn, httpClient)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(requestLogger())
	e.Use(middleware.ResolveTenant(cfg.SiteURL))
	e.Use(middleware.ManagementAuth(cfg.ManagementKey))
	apiecho.NewAPI(conn, console, metas, perms).RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Str("site_url", cfg.SiteURL).Msg("wp-seo server starting")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("TracerProvider shutdown failed")
	}
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("configured_level", cfg.LogLevel).Msg("Invalid LOG_LEVEL, defaulting to info")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			evt := log.Info()
			if err != nil {
				evt = log.Error().Err(err)
			}
			evt.
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("ip", c.RealIP()).
				Msg("HTTP request")
			return err
		}
	}
}

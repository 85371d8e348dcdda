package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/ingredient-search/libs/config"
	"github.com/md-rashed-zaman/ingredient-search/libs/httpx"
	"github.com/md-rashed-zaman/ingredient-search/libs/osx"
	otelx "github.com/md-rashed-zaman/ingredient-search/libs/otel"
	"github.com/md-rashed-zaman/ingredient-search/libs/runtime"
	"github.com/md-rashed-zaman/ingredient-search/services/search-api/internal/cache"
	"github.com/md-rashed-zaman/ingredient-search/services/search-api/internal/handlers"
	"github.com/md-rashed-zaman/ingredient-search/services/search-api/internal/query"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "search-api")
	port, err := config.Port("PORT", "8090")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	osURL, err := config.RequiredString("OPENSEARCH_URL")
	if err != nil {
		panic(err)
	}
	osClient, err := osx.NewClient(osx.Config{
		URL:      osURL,
		Username: config.String("OPENSEARCH_USERNAME", ""),
		Password: config.String("OPENSEARCH_PASSWORD", ""),
	})
	if err != nil {
		logger.Error("opensearch client failed", "err", err)
		panic(err)
	}

	searcher := query.NewSearcher(osClient, map[string]query.TypeConfig{
		"ingredient": {
			Index:  config.String("OPENSEARCH_INDEX_INGREDIENTS", "ingredients_v1"),
			Fields: query.IngredientFields(),
		},
		"recipe": {
			Index:  config.String("OPENSEARCH_INDEX_RECIPES", "recipes_v1"),
			Fields: query.RecipeFields(),
		},
	}, config.Int("SEARCH_RESULT_SIZE", 20), logger)

	var rdb *redis.Client
	var rateLimitMW httpx.Middleware
	limitPerMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, config.Truthy("RATE_LIMIT_FAIL_OPEN", true))
		logger.Info("response cache and rate limiting enabled (redis)", "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("redis not configured: cache disabled, in-memory rate limiting")
	}

	respCache := cache.New(rdb, config.Seconds("SEARCH_CACHE_TTL_SECONDS", 10*time.Second), logger)
	h := handlers.New(searcher, respCache, logger)

	readyChecks := []runtime.ReadyCheck{
		{Name: "opensearch", Check: osx.ReadyCheck(osClient)},
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/search", h.Search)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: config.Truthy("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           config.Seconds("CORS_MAX_AGE_SECONDS", 600*time.Second),
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "search")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

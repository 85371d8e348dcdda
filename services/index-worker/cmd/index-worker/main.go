package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/ingredient-search/libs/config"
	"github.com/md-rashed-zaman/ingredient-search/libs/db"
	"github.com/md-rashed-zaman/ingredient-search/libs/osx"
	otelx "github.com/md-rashed-zaman/ingredient-search/libs/otel"
	"github.com/md-rashed-zaman/ingredient-search/libs/runtime"
	"github.com/md-rashed-zaman/ingredient-search/services/index-worker/internal/indexer"
	"github.com/md-rashed-zaman/ingredient-search/services/index-worker/internal/outbox"
	"github.com/md-rashed-zaman/ingredient-search/services/index-worker/internal/relay"
)

func main() {
	service := config.String("SERVICE_NAME", "index-worker")
	port, err := config.Port("PORT", "8091")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DATABASE_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DATABASE_MIN_CONNS", 1)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

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

	ingredientIndex := config.String("OPENSEARCH_INDEX_INGREDIENTS", "ingredients_v1")
	recipeIndex := config.String("OPENSEARCH_INDEX_RECIPES", "recipes_v1")

	ix := indexer.New(osClient, logger)
	if err := ensureIndexes(ctx, ix, ingredientIndex, recipeIndex); err != nil {
		logger.Error("index bootstrap failed", "err", err)
		panic(err)
	}

	repo := outbox.NewRepository(pool)
	worker := relay.NewWorker(outboxStore{repo: repo}, ix, map[string]string{
		outbox.EventIngredientUpserted: ingredientIndex,
		outbox.EventRecipeUpserted:     recipeIndex,
	}, logger, relay.Config{
		Interval:    config.Millis("RELAY_POLL_INTERVAL_MS", 500*time.Millisecond),
		BatchSize:   config.Int("RELAY_BATCH_SIZE", 200),
		Concurrency: config.Int("RELAY_CONCURRENCY", 8),
		MaxAttempts: config.Int("RELAY_MAX_ATTEMPTS", 25),
	})
	go worker.Run(ctx)
	logger.Info("relay worker running", "ingredient_index", ingredientIndex, "recipe_index", recipeIndex)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "opensearch", Check: osx.ReadyCheck(osClient)},
	)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("ops server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "err", err)
	}
	logger.Info("worker stopped")
}

func ensureIndexes(ctx context.Context, ix *indexer.Indexer, ingredientIndex, recipeIndex string) error {
	if err := ix.EnsureIndex(ctx, ingredientIndex, indexer.IngredientMapping); err != nil {
		return err
	}
	return ix.EnsureIndex(ctx, recipeIndex, indexer.RecipeMapping)
}

// outboxStore narrows *outbox.Repository to the relay.Store interface.
type outboxStore struct {
	repo *outbox.Repository
}

func (s outboxStore) ClaimPending(ctx context.Context, limit int) (relay.Claim, error) {
	claim, err := s.repo.ClaimPending(ctx, limit)
	if err != nil {
		return nil, err
	}
	return claim, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/hmoriya/tradegate/internal/config"
	"github.com/hmoriya/tradegate/internal/notify"
	"github.com/hmoriya/tradegate/internal/pipeline"
	"github.com/hmoriya/tradegate/internal/retrieval"
	"github.com/hmoriya/tradegate/internal/service"
	"github.com/hmoriya/tradegate/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/tradegate/tradegate.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)
	if err := config.EnsureParentDir(dbPath); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newRetrievalEngine builds the retrieval engine with the configured
// embedding dimension.
func newRetrievalEngine(store service.Storage) *retrieval.Engine {
	dim := viper.GetInt("retrieval.dim")
	if dim <= 0 {
		dim = retrieval.DefaultDim
	}
	return retrieval.NewEngine(store, retrieval.NewEmbedder(dim))
}

// pipelineDefaults merges configured pipeline parameters over the standard
// ones.
func pipelineDefaults() pipeline.Defaults {
	d := pipeline.DefaultPipeline()
	if v := viper.GetString("pipeline.regime"); v != "" {
		d.Regime = v
	}
	if v := viper.GetFloat64("pipeline.threshold"); v > 0 {
		d.Threshold = v
	}
	if v := viper.GetInt("pipeline.top_k"); v > 0 {
		d.TopK = v
	}
	if v := viper.GetInt("pipeline.max_requirements"); v > 0 {
		d.MaxRequirements = v
	}
	return d
}

// webhookRetryOptions merges configured delivery knobs over the notifier's
// standard policy.
func webhookRetryOptions() service.RetryOptions {
	opts := notify.DefaultRetryOptions()
	if v := viper.GetInt("webhook.max_attempts"); v > 0 {
		opts.MaxAttempts = v
	}
	if v := viper.GetDuration("webhook.base_delay"); v > 0 {
		opts.InitialDelay = v
	}
	return opts
}

// newNotifier builds the webhook notifier with the configured retry policy.
func newNotifier() *notify.WebhookNotifier {
	return notify.NewWebhookNotifier(notify.WithRetryOptions(webhookRetryOptions()))
}

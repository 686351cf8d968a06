package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"caregraph/backend/internal/adapter"
	"caregraph/backend/internal/graph"
	"caregraph/backend/internal/pipeline"
	"caregraph/backend/internal/source"
	"caregraph/backend/pkg/config"
	apperrors "caregraph/backend/pkg/errors"
	"caregraph/backend/pkg/logger"
)

const (
	storeNeo4j  = "neo4j"
	storeMemory = "memory"
)

func main() {
	dataDir := flag.String("data", "", "Dataset directory (overrides DATA_DIR)")
	format := flag.String("format", "", "Dataset format: csv or xlsx (overrides DATA_FORMAT)")
	storeKind := flag.String("store", storeNeo4j, "Graph store: neo4j or memory (dry run)")
	skipEmbeddings := flag.Bool("skip-embeddings", false, "Do not compute embeddings")
	indexesOnly := flag.Bool("indexes-only", false, "Only create key and vector indexes")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *format != "" {
		cfg.DataFormat = *format
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting graph build...",
		zap.String("data_dir", cfg.DataDir),
		zap.String("format", cfg.DataFormat),
		zap.String("store", *storeKind),
	)

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, *storeKind, cfg)
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}
	defer store.Close(context.Background())

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatal("Invalid reference date", zap.Error(err))
	}
	opts.SkipEmbeddings = *skipEmbeddings

	// One embedder for the whole run
	var embedder adapter.Embedder
	if !*skipEmbeddings {
		embedder, err = adapter.NewEmbedder(cfg)
		if err != nil {
			log.Fatal("Failed to create embedder", zap.Error(err))
		}
		defer embedder.Close()
	}

	src, err := source.NewFileSource(cfg.DataDir, cfg.DataFormat)
	if err != nil {
		log.Fatal("Failed to open data source", zap.Error(err))
	}

	builder := pipeline.NewBuilder(store, src, embedder, opts)

	if *indexesOnly {
		if err := builder.EnsureIndexes(ctx); err != nil {
			log.Fatal("Failed to create indexes", zap.Error(err))
		}
		log.Info("Indexes created")
		return
	}

	report, err := builder.Run(ctx)
	if err != nil {
		log.Error("Graph build failed; re-running is safe",
			zap.Error(err),
			zap.Bool("retryable", apperrors.IsRetryable(err)),
		)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))
}

func openStore(ctx context.Context, kind string, cfg *config.Config) (graph.Store, error) {
	switch kind {
	case storeNeo4j:
		return graph.Connect(ctx, cfg)
	case storeMemory:
		return graph.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wandergen/wandergen-backend/internal/chunker"
	"github.com/wandergen/wandergen-backend/internal/db"
	"github.com/wandergen/wandergen-backend/internal/embeddings"
	"github.com/wandergen/wandergen-backend/internal/generation"
	"github.com/wandergen/wandergen-backend/internal/jobs/pipeline/export_pack"
	"github.com/wandergen/wandergen-backend/internal/jobs/pipeline/generate_itinerary"
	"github.com/wandergen/wandergen-backend/internal/jobs/pipeline/generate_merch"
	"github.com/wandergen/wandergen-backend/internal/jobs/pipeline/index_knowledge"
	jobrt "github.com/wandergen/wandergen-backend/internal/jobs/runtime"
	"github.com/wandergen/wandergen-backend/internal/logger"
	"github.com/wandergen/wandergen-backend/internal/repos"
	"github.com/wandergen/wandergen-backend/internal/services"
	"github.com/wandergen/wandergen-backend/internal/temporalx"
	"github.com/wandergen/wandergen-backend/internal/temporalx/temporalworker"
	"github.com/wandergen/wandergen-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	jobRepo := repos.NewJobRepo(thePG, log)
	jobLogRepo := repos.NewJobLogRepo(thePG, log)
	fileRepo := repos.NewKnowledgeFileRepo(thePG, log)
	chunkRepo := repos.NewKnowledgeChunkRepo(thePG, log)
	packRepo := repos.NewKnowledgePackRepo(thePG, log)

	// Services
	log.Info("Setting up services from main...")
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	extractionService := services.NewExtractionService(log)
	provider, err := embeddings.FromEnv(log)
	if err != nil {
		log.Error("Could not init embeddings provider", "error", err)
		os.Exit(1)
	}
	log.Info("Embeddings provider ready", "provider", provider.Name(), "dimension", provider.Dimension())

	jobService := services.NewJobService(thePG, jobRepo, jobLogRepo, log)
	retrievalService := services.NewRetrievalService(chunkRepo, fileRepo, packRepo, provider, log)
	knowledgeService := services.NewKnowledgeService(thePG, fileRepo, chunkRepo, packRepo, bucketService, log)
	_ = knowledgeService
	notifier, err := services.NewJobNotifier(log)
	if err != nil {
		log.Warn("Could not init JobNotifier; events disabled", "error", err)
	}

	splitter, err := chunker.New(chunker.Config{
		ChunkSize:    utils.GetEnvAsInt("CHUNK_SIZE", chunker.DefaultChunkSize, log),
		Overlap:      utils.GetEnvAsInt("CHUNK_OVERLAP", chunker.DefaultOverlap, log),
		MinChunkSize: utils.GetEnvAsInt("CHUNK_MIN_SIZE", chunker.DefaultMinChunkSize, log),
	})
	if err != nil {
		log.Error("Invalid chunker config", "error", err)
		os.Exit(1)
	}

	genClient, err := generation.NewRunPodClient(log)
	if err != nil {
		log.Warn("Generation client unavailable; generate jobs disabled", "error", err)
	}
	itineraryWorkflow := loadWorkflowTemplate(log, "ITINERARY_WORKFLOW_PATH")
	merchWorkflow := loadWorkflowTemplate(log, "MERCH_WORKFLOW_PATH")

	// Job handlers
	log.Info("Registering job handlers from main...")
	registry := jobrt.NewRegistry()
	mustRegister(log, registry, index_knowledge.New(
		thePG, log, fileRepo, chunkRepo, bucketService, extractionService, splitter, provider))
	mustRegister(log, registry, export_pack.New(
		thePG, log, packRepo, fileRepo, chunkRepo, bucketService))
	if genClient != nil {
		mustRegister(log, registry, generate_itinerary.New(
			thePG, log, retrievalService, genClient, bucketService, itineraryWorkflow))
		mustRegister(log, registry, generate_merch.New(
			thePG, log, retrievalService, genClient, bucketService, merchWorkflow))
	}

	// Temporal worker
	tc, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not connect to Temporal", "error", err)
		os.Exit(1)
	}
	if tc == nil {
		log.Error("Temporal is required for the worker; set TEMPORAL_ADDRESS")
		os.Exit(1)
	}
	defer tc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := temporalworker.NewRunner(log, tc, thePG, jobService, registry, notifier)
	if err != nil {
		log.Error("Could not build Temporal worker", "error", err)
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("Temporal worker failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("Shutting down...")
	if cerr := notifier.Close(); cerr != nil {
		log.Warn("Notifier close failed", "error", cerr)
	}
}

func loadWorkflowTemplate(log *logger.Logger, envKey string) generation.Payload {
	path := utils.GetEnv(envKey, "", log)
	if path == "" {
		return nil
	}
	payload, err := generation.LoadPayloadFile(path)
	if err != nil {
		log.Error("Could not load workflow template", "env_var", envKey, "path", path, "error", err)
		os.Exit(1)
	}
	return payload
}

func mustRegister(log *logger.Logger, registry *jobrt.Registry, h jobrt.Handler) {
	if err := registry.Register(h); err != nil {
		log.Error("Could not register job handler", "error", err)
		os.Exit(1)
	}
}

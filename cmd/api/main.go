package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/prospect/internal/api"
	"github.com/timmy/prospect/internal/api/middleware"
	"github.com/timmy/prospect/internal/batch"
	"github.com/timmy/prospect/internal/broadcast"
	"github.com/timmy/prospect/internal/config"
	"github.com/timmy/prospect/internal/logger"
	"github.com/timmy/prospect/internal/provider"
	"github.com/timmy/prospect/internal/registry"
	"github.com/timmy/prospect/internal/repository"
	"github.com/timmy/prospect/internal/research"
	"github.com/timmy/prospect/internal/storage"
)

func main() {
	// Support CONFIG_PATH environment variable for deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewDefault()
	logger.SetDefaultLogger(log)
	defer logger.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Event fan-out and job registry
	bus := broadcast.New(log)
	reg := registry.New(bus, cfg.Retention.Window, cfg.Retention.SweepInterval, log)
	go reg.RunJanitor(ctx)

	// External collaborators
	searchClient := provider.NewSearchClient(&provider.SearchConfig{
		APIKey:     cfg.Search.APIKey,
		BaseURL:    cfg.Search.BaseURL,
		MaxResults: cfg.Search.MaxResults,
	})
	modelClient := provider.NewModelClient(&provider.ModelConfig{
		Model:   cfg.Model.Model,
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
	})

	var scorer research.Scorer
	var scorerSession *provider.ScorerSession
	if cfg.Scorer.Enabled {
		scorerSession = provider.NewScorerSession(func(ctx context.Context) (*provider.ScorerClient, error) {
			return provider.NewScorerClient(&provider.ScorerConfig{
				BaseURL: cfg.Scorer.BaseURL,
				APIKey:  cfg.Scorer.APIKey,
			}), nil
		}, nil)
		client, err := scorerSession.Acquire(ctx)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize scorer")
		}
		defer scorerSession.Release()
		scorer = client
	}

	runner := research.NewRunner(searchClient, modelClient, scorer, research.Config{
		Workers:            cfg.Pipeline.Workers,
		RetryCount:         cfg.Pipeline.RetryCount,
		PhaseTimeout:       cfg.Pipeline.PhaseTimeout,
		QueriesPerCategory: cfg.Pipeline.QueriesPer,
		MinKeepScore:       cfg.Search.ScoreThreshold,
	}, log)

	// Optional terminal-job archive in the database
	var jobArchive *repository.JobArchive
	if cfg.Database.Enabled {
		db, err := repository.Open(&cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize database")
		}
		jobArchive = repository.NewJobArchive(db, log)
		runner.AddArchiver(jobArchive)
	}

	// Optional report copies in object storage
	var reportArchive *storage.ReportArchive
	if cfg.Reports.Enabled {
		store, err := storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Reports.Endpoint,
			AccessKey: cfg.Reports.AccessKey,
			SecretKey: cfg.Reports.SecretKey,
			UseSSL:    cfg.Reports.UseSSL,
			Bucket:    cfg.Reports.Bucket,
			Region:    cfg.Reports.Region,
			PublicURL: cfg.Reports.PublicURL,
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to initialize report storage")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.WithError(err).Fatal("Failed to ensure report bucket")
		}
		reportArchive = storage.NewReportArchive(store, log)
		runner.AddArchiver(reportArchive)
	}

	orchestrator := batch.New(reg, runner, bus, batch.Config{
		MaxConcurrency: cfg.Batch.MaxConcurrency,
		MaxItems:       cfg.Batch.ItemCap,
		Retention:      cfg.Retention.Window,
		SweepInterval:  cfg.Retention.SweepInterval,
	}, log)
	go orchestrator.RunJanitor(ctx)

	router := api.SetupRouter(api.Deps{
		Registry:     reg,
		Runner:       runner,
		Orchestrator: orchestrator,
		Bus:          bus,
		Reports:      reportArchive,
		Archive:      jobArchive,
		Mode:         cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
		Defaults: research.Options{
			Layers: cfg.Scorer.Layers,
			Shots:  cfg.Scorer.Shots,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Fatal("Server forced to shutdown")
	}
	log.Info("Server exited")
}

// Package app wires together every collaborator the transcript-processing
// core needs: configuration, logging, the Postgres-backed repositories,
// the S3-compatible object store, the LLM adapter, the schema validator,
// the upload enqueuer, the report pipeline processor, the worker pool,
// and the owner report reader: a single struct assembled once at startup
// and handed to both the HTTP server and any background runtime,
// generalized from a portfolio/market domain to this one.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/brightloom/transcriptor/internal/common"
	"github.com/brightloom/transcriptor/internal/interfaces"
	"github.com/brightloom/transcriptor/internal/llm"
	"github.com/brightloom/transcriptor/internal/migrations"
	"github.com/brightloom/transcriptor/internal/pipeline"
	"github.com/brightloom/transcriptor/internal/reportreader"
	"github.com/brightloom/transcriptor/internal/services/jobmanager"
	"github.com/brightloom/transcriptor/internal/storage/objectstore"
	"github.com/brightloom/transcriptor/internal/storage/postgres"
	"github.com/brightloom/transcriptor/internal/uploader"
	"github.com/brightloom/transcriptor/internal/validator"
)

// App is the fully wired application: every collaborator the HTTP server
// and the worker pool need, assembled once at startup.
type App struct {
	Config *common.Config
	Logger *common.Logger
	Clock  common.Clock
	Sink   common.EventSink

	Pool *pgxpool.Pool

	Files interfaces.FileRepository
	Jobs  interfaces.JobRepository
	Admin interfaces.AdminJobRepository

	Objects interfaces.ObjectStore
	LLM     interfaces.LLMClient

	Uploader     *uploader.Service
	ReportReader *reportreader.Service
	WorkerPool   *jobmanager.WorkerPool

	StartupTime time.Time
}

// New loads configuration, opens the database pool, runs pending
// migrations, and wires every service. It does not start the HTTP
// listener or the worker pool — callers do that explicitly (cmd/
// entrypoints), keeping "construct" and "start" as separate steps.
func New(ctx context.Context, configPaths ...string) (*App, error) {
	cfg, err := common.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(cfg.Logging.Level)

	pool, err := postgres.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(cfg.Database.URL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	clock := common.RealClock{}
	rnd := common.NewLockedRand(time.Now().UnixNano())
	idGen := common.UUIDGenerator{}

	dbTimeout := time.Duration(cfg.Database.TimeoutMS) * time.Millisecond
	jobStore := postgres.NewJobStore(pool, logger, rnd, dbTimeout)
	fileStore := postgres.NewFileStore(pool, logger, dbTimeout)
	adminStore := postgres.NewAdminStore(pool, logger, dbTimeout)

	objects, err := objectstore.New(ctx, objectstore.Config{
		Endpoint:        cfg.ObjectStore.Endpoint,
		Region:          cfg.ObjectStore.Region,
		Bucket:          cfg.ObjectStore.Bucket,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		TimeoutMS:       cfg.ObjectStore.TimeoutMS,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to construct object store: %w", err)
	}

	llmClient, err := llm.New(ctx, llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		TimeoutMS: cfg.LLM.TimeoutMS,
	}, cfg.IsProduction(), logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to construct llm client: %w", err)
	}

	schemaValidator, err := validator.New()
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to construct schema validator: %w", err)
	}

	// The admin WebSocket hub is constructed up front so the event sink
	// that every other service shares can fan events out to it
	// (SPEC_FULL.md §12).
	hub := jobmanager.NewJobEventHub(logger)
	sink := common.NewBroadcastEventSink(common.NewLoggingEventSink(logger), hub)

	uploadSvc := uploader.New(uploader.Deps{
		Files:   fileStore,
		Jobs:    jobStore,
		Objects: objects,
		Logger:  logger,
		Clock:   clock,
		IDGen:   idGen,
		Sink:    sink,
		Bucket:  cfg.ObjectStore.Bucket,
	})

	processor := pipeline.New(pipeline.Deps{
		Jobs:      jobStore,
		Objects:   objects,
		LLM:       llmClient,
		Validator: schemaValidator,
		Logger:    logger,
		Clock:     clock,
		Sink:      sink,
	})

	workerPool := jobmanager.New(jobmanager.Deps{
		Jobs:      jobStore,
		Admin:     adminStore,
		Processor: processor,
		Logger:    logger,
		Clock:     clock,
		Sink:      sink,
		Hub:       hub,
		Config: jobmanager.Config{
			WorkerID:       cfg.Worker.ID,
			Concurrency:    cfg.Worker.Concurrency,
			PollMS:         cfg.Worker.PollMS,
			LLMTimeoutMS:   cfg.Worker.LLMTimeoutMS,
			PromptVersion:  llm.ActiveReportPromptVersion,
			SchemaVersion:  validator.ActiveReportSchemaVersion,
			PurgeInterval:  24 * time.Hour,
			PurgeRetention: 30 * 24 * time.Hour,
		},
	})

	reportSvc := reportreader.New(reportreader.Deps{
		Files:   fileStore,
		Objects: objects,
		Logger:  logger,
		Sink:    sink,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Clock:        clock,
		Sink:         sink,
		Pool:         pool,
		Files:        fileStore,
		Jobs:         jobStore,
		Admin:        adminStore,
		Objects:      objects,
		LLM:          llmClient,
		Uploader:     uploadSvc,
		ReportReader: reportSvc,
		WorkerPool:   workerPool,
		StartupTime:  time.Now(),
	}, nil
}

// runMigrations applies pending goose migrations using a plain
// database/sql connection (goose's migration runner, unlike the rest of
// this package, is not pgxpool-based).
func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()
	return migrations.Run(db)
}

// Close releases the application's resources in dependency order: the
// worker pool first (so no in-flight job is still touching the pool when
// it closes), then the database pool.
func (a *App) Close() {
	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

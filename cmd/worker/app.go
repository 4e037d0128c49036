package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/nodpt/workflow-engine/internal/api"
	"github.com/nodpt/workflow-engine/internal/chat"
	"github.com/nodpt/workflow-engine/internal/config"
	"github.com/nodpt/workflow-engine/internal/dispatch"
	"github.com/nodpt/workflow-engine/internal/domain"
	"github.com/nodpt/workflow-engine/internal/llm"
	"github.com/nodpt/workflow-engine/internal/llm/gemini"
	"github.com/nodpt/workflow-engine/internal/llm/openai"
	"github.com/nodpt/workflow-engine/internal/memory"
	"github.com/nodpt/workflow-engine/internal/notify"
	"github.com/nodpt/workflow-engine/internal/platform/logger"
	"github.com/nodpt/workflow-engine/internal/platform/postgres"
	"github.com/nodpt/workflow-engine/internal/redact"
	"github.com/nodpt/workflow-engine/internal/stream"
	"github.com/nodpt/workflow-engine/migrations"
)

// Stream keys consumed by the worker. Role job streams follow the
// jobs:<role> layout; chat turns arrive on their own stream.
const (
	streamJobsManager   = "jobs:manager"
	streamJobsInspector = "jobs:inspector"
	streamJobsAgent     = "jobs:agent"
	streamJobsChat      = "jobs:chat"
)

// trimInterval is how often the maintenance loop trims consumed streams.
const trimInterval = time.Minute

// application bundles the worker's long-lived components so startup and
// shutdown stay in one place.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *sql.DB
	streamLog *postgres.StreamLog
	memory    *memory.Manager
	listeners []*stream.Listener
	server    *http.Server

	trimCancel context.CancelFunc
	trimDone   chan struct{}
}

// newApplication wires every component: config is already loaded, so
// this connects the database, runs migrations, builds the LLM client,
// memory manager, dispatcher, handlers, and one listener per consumed
// stream.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	streamLog := postgres.NewStreamLog(db, log)
	workflowStore := postgres.NewPostgresWorkflowStore(db, log)
	resultStore := postgres.NewPostgresJobResultStore(db, log)
	summaryStore := postgres.NewPostgresSummaryStore(db, log)

	client, err := buildLLMClient(ctx, cfg.LLM)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	summarizer, err := llm.NewRollingSummarizer(client, cfg.LLM.Model, cfg.Memory.MaxSummaryLength)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build summarizer: %w", err)
	}

	mem := memory.NewManager(summarizer, summaryStore, memory.ManagerConfig{
		HistoryLimit:     cfg.Memory.HistoryLimit,
		SummaryWorkers:   cfg.Memory.SummaryWorkers,
		SummaryQueueSize: cfg.Memory.SummaryQueueSize,
	}, log)

	publisher := notify.NewStreamPublisher(streamLog, log)

	runnerCfg := dispatch.RunnerConfig{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
	dispatcher, err := dispatch.NewDispatcher(map[domain.JobRole]dispatch.Runner{
		domain.RoleManager:   dispatch.NewManagerRunner(client, runnerCfg),
		domain.RoleInspector: dispatch.NewInspectorRunner(client, runnerCfg),
		domain.RoleAgent:     dispatch.NewAgentRunner(client, runnerCfg),
	}, dispatch.Config{
		MaxGlobal:    cfg.Dispatch.MaxGlobal,
		MaxManager:   cfg.Dispatch.MaxManager,
		MaxInspector: cfg.Dispatch.MaxInspector,
		MaxAgent:     cfg.Dispatch.MaxAgent,
	}, resultStore, publisher, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to build dispatcher: %w", err)
	}

	chatHandler := chat.NewHandler(workflowStore, mem, client, publisher, publisher, chat.Config{
		RequestTimeout: time.Duration(cfg.LLM.RequestTimeoutMs) * time.Millisecond,
	}, log)

	listenOpts := stream.ListenOptions{
		BatchSize:             cfg.Queue.BatchSize,
		Concurrency:           cfg.Queue.Concurrency,
		ClaimIdleThreshold:    time.Duration(cfg.Queue.ClaimIdleMs) * time.Millisecond,
		MaxRetries:            cfg.Queue.MaxRetries,
		PollDelay:             time.Duration(cfg.Queue.PollDelayMs) * time.Millisecond,
		ClaimInterval:         time.Duration(cfg.Queue.ClaimIdleMs) * time.Millisecond,
		CreateStreamIfMissing: true,
		ClaimPendingOnStartup: true,
	}

	consumer := cfg.Queue.ConsumerName
	group := cfg.Queue.Group
	listeners := []*stream.Listener{
		stream.NewListener(streamLog, streamJobsManager, group, consumer,
			dispatch.NewJobHandler(dispatcher, domain.RoleManager, log), listenOpts, log),
		stream.NewListener(streamLog, streamJobsInspector, group, consumer,
			dispatch.NewJobHandler(dispatcher, domain.RoleInspector, log), listenOpts, log),
		stream.NewListener(streamLog, streamJobsAgent, group, consumer,
			dispatch.NewJobHandler(dispatcher, domain.RoleAgent, log), listenOpts, log),
		stream.NewListener(streamLog, streamJobsChat, group, consumer,
			chatHandler.StreamHandler(), listenOpts, log),
	}

	ops := api.NewOpsHandler(streamLog, mem, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(ops),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return &application{
		cfg:       cfg,
		logger:    log,
		db:        db,
		streamLog: streamLog,
		memory:    mem,
		listeners: listeners,
		server:    server,
	}, nil
}

// openDatabase connects, verifies the connection, and applies pending
// migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		// Driver errors can echo the connection string; redact before
		// it reaches the logs.
		log.Error("database connection failed", "error", redact.Error(err))
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	log.Info("database ready, migrations applied")

	return db, nil
}

// buildLLMClient selects the chat-completion adapter by provider.
func buildLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build gemini client: %w", err)
		}
		return client, nil
	case "openai":
		return openai.NewClient(func(o *openai.Options) {
			o.BaseURL = cfg.BaseURL
			o.APIKey = cfg.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Start launches the memory workers, listeners, maintenance loop, and
// the ops HTTP server.
func (a *application) Start() error {
	a.memory.Start()

	for _, l := range a.listeners {
		if err := l.Start(); err != nil {
			return fmt.Errorf("failed to start listener: %w", err)
		}
	}

	if a.cfg.Queue.TrimMaxLen > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		a.trimCancel = cancel
		a.trimDone = make(chan struct{})
		go a.trimLoop(ctx)
	}

	go func() {
		a.logger.Info("ops server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("ops server failed", "error", err)
		}
	}()

	a.logger.Info("worker started",
		"consumer", a.cfg.Queue.ConsumerName,
		"group", a.cfg.Queue.Group,
		"listeners", len(a.listeners))
	return nil
}

// Stop shuts the worker down in dependency order: no new work, drain
// in-flight batches, drain queued summarizations, then close the ops
// server and database.
func (a *application) Stop(ctx context.Context) {
	for _, l := range a.listeners {
		l.Stop()
	}

	if a.trimCancel != nil {
		a.trimCancel()
		<-a.trimDone
	}

	a.memory.Stop()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("ops server shutdown failed", "error", err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Warn("database close failed", "error", err)
	}

	a.logger.Info("worker stopped")
}

// trimLoop periodically bounds the consumed and produced streams.
func (a *application) trimLoop(ctx context.Context) {
	defer close(a.trimDone)

	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()

	streams := []string{
		streamJobsManager, streamJobsInspector, streamJobsAgent, streamJobsChat,
		notify.ResultsStream, notify.ResponsesStream,
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range streams {
				if err := a.streamLog.Trim(ctx, key, a.cfg.Queue.TrimMaxLen); err != nil {
					a.logger.Warn("stream trim failed", "stream", key, "error", err)
				}
			}
		}
	}
}

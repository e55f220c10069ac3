// Command devloop runs the SDLC pipeline service: an HTTP API that turns
// requirements into staged artifacts through chained LLM calls, pausing at
// human approval gates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devloop-ai/devloop/internal/config"
	"github.com/devloop-ai/devloop/llm"
	"github.com/devloop-ai/devloop/llm/anthropic"
	"github.com/devloop-ai/devloop/llm/google"
	"github.com/devloop-ai/devloop/llm/openai"
	"github.com/devloop-ai/devloop/pipeline"
	"github.com/devloop-ai/devloop/pipeline/emit"
	"github.com/devloop-ai/devloop/pipeline/store"
	"github.com/devloop-ai/devloop/sdlc"
	"github.com/devloop-ai/devloop/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address override (host:port)")
	flag.Parse()

	if err := run(*configPath, *addr); err != nil {
		fmt.Fprintln(os.Stderr, "devloop:", err)
		os.Exit(1)
	}
}

func run(configPath, addrOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := buildStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	model, closeModel, err := buildModel(ctx, cfg.Provider)
	if err != nil {
		return err
	}
	defer closeModel()

	registry := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(registry)
	costs := pipeline.NewCostTracker("devloop")

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := emit.NewMultiEmitter(
		emit.NewLogEmitter(logger.Named("pipeline")),
		emit.NewOTelEmitter(tp.Tracer("devloop")),
	)

	workflowOpts := sdlc.Options{
		GateAttempts: cfg.Workflow.GateAttempts,
		Metrics:      metrics,
		Costs:        costs,
		Pipeline: []pipeline.Option{
			pipeline.WithMaxSteps(cfg.Workflow.MaxSteps),
			pipeline.WithRetries(cfg.Workflow.Retries),
			pipeline.WithNodeTimeout(cfg.Workflow.NodeTimeout),
		},
	}

	engine, err := sdlc.NewWorkflow(model, st, emitter, workflowOpts)
	if err != nil {
		return err
	}

	// Runs may request a specific model; engines for those are built on
	// demand against the same provider and shared infrastructure. Their
	// clients are released on shutdown.
	var (
		closersMu sync.Mutex
		closers   []func()
	)
	defer func() {
		closersMu.Lock()
		defer closersMu.Unlock()
		for _, closeFn := range closers {
			closeFn()
		}
	}()

	factory := func(modelName string) (*pipeline.Engine[sdlc.State], error) {
		pcfg := cfg.Provider
		pcfg.Model = modelName
		m, closeFn, err := buildModel(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		closersMu.Lock()
		closers = append(closers, closeFn)
		closersMu.Unlock()
		return sdlc.NewWorkflow(m, st, emitter, workflowOpts)
	}

	runner := server.NewRunner(engine, factory, st, logger.Named("runner"))
	srv := server.New(runner, logger.Named("http"), registry)

	addr := cfg.Server.Addr()
	if addrOverride != "" {
		addr = addrOverride
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func buildStore(cfg config.StoreConfig) (store.Store[sdlc.State], func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemStore[sdlc.State](), func() {}, nil
	case "sqlite":
		s, err := store.NewSQLiteStore[sdlc.State](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "mysql":
		s, err := store.NewMySQLStore[sdlc.State](cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open mysql store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func buildModel(ctx context.Context, cfg config.ProviderConfig) (llm.ChatModel, func(), error) {
	noop := func() {}
	switch cfg.Name {
	case "anthropic":
		return anthropic.NewChatModel(cfg.APIKey, cfg.Model), noop, nil
	case "openai":
		return openai.NewChatModel(cfg.APIKey, cfg.Model), noop, nil
	case "groq":
		return openai.NewGroqChatModel(cfg.APIKey, cfg.Model), noop, nil
	case "google":
		m, err := google.NewChatModel(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, nil, err
		}
		return m, func() { _ = m.Close() }, nil
	case "mock":
		return &llm.MockChatModel{}, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

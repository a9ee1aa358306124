package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/artifact"
	"github.com/pipeworks-ai/conductor/checkpoint"
	"github.com/pipeworks-ai/conductor/config"
	"github.com/pipeworks-ai/conductor/engine"
	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/internal/metrics"
	"github.com/pipeworks-ai/conductor/internal/telemetry"
	"github.com/pipeworks-ai/conductor/notify"
	"github.com/pipeworks-ai/conductor/retry"
	"github.com/pipeworks-ai/conductor/store"
	"github.com/pipeworks-ai/conductor/workflow"
)

// pollInterval is how often the follower checks instance status.
const pollInterval = 500 * time.Millisecond

func printTemplates() {
	registry := workflow.NewRegistry()
	names := registry.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
}

func runWorkflow(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	template := fs.String("template", "", "Workflow template name")
	goal := fs.String("goal", "", "Project goal")
	commit := fs.Bool("commit", false, "Commit artifacts to the configured repository on completion")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}

	logger := initLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelProviders.Shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, logger)
	}

	orch, cleanup, err := buildOrchestrator(cfg, logger, collector)
	if err != nil {
		fatalf("Failed to build orchestrator: %v", err)
	}
	defer cleanup()

	ctx := context.Background()
	resp, err := orch.Start(ctx, engine.StartRequest{Goal: *goal, Template: *template})
	if err != nil {
		fatalf("Failed to start workflow: %v", err)
	}
	fmt.Printf("Started workflow %s (%s)\n", resp.WorkflowID, *template)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nCancelling workflow...")
		if err := orch.Cancel(ctx, resp.WorkflowID); err != nil {
			logger.Warn("cancel failed", zap.Error(err))
		}
	}()

	follow(ctx, orch, resp.WorkflowID)

	if *commit {
		ref, count, err := orch.CommitArtifacts(ctx, resp.WorkflowID, cfg.Repo)
		if err != nil {
			fatalf("Failed to commit artifacts: %v", err)
		}
		fmt.Printf("Committed %d artifacts: %s\n", count, ref)
	}
}

// buildOrchestrator wires the component graph from configuration. The
// returned cleanup closes backend connections.
func buildOrchestrator(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (*engine.Orchestrator, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var (
		instances   store.InstanceStore
		notifier    notify.Notifier = notify.NewNop()
		checkpoints checkpoint.Store
		err         error
	)

	switch cfg.Store.Backend {
	case "", "memory":
		instances = store.NewMemoryInstanceStore()
		checkpoints = checkpoint.NewMemoryStore()
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		cleanups = append(cleanups, func() { client.Close() })
		instances = store.NewRedisInstanceStoreFromClient(client, cfg.Redis.KeyPrefix)
		checkpoints = checkpoint.NewRedisStore(client, cfg.Redis.KeyPrefix)
		notifier = notify.NewRedisNotifier(client, cfg.Redis.KeyPrefix, logger)
	case "sqlite":
		instances, err = store.NewSQLiteInstanceStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		checkpoints = checkpoint.NewMemoryStore()
	case "mongo":
		mongoCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		instances, err = store.NewMongoInstanceStore(mongoCtx, cfg.Mongo)
		cancel()
		if err != nil {
			return nil, nil, err
		}
		checkpoints = checkpoint.NewMemoryStore()
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	var provider generation.Provider = generation.NewOpenAICompatible(cfg.Generation.OpenAI, logger)
	if cfg.Generation.RequestsPerSecond > 0 {
		provider = generation.NewRateLimited(provider, cfg.Generation.RequestsPerSecond, cfg.Generation.Burst, logger)
	}

	var vcs artifact.VersionControl
	if cfg.GitHub.Token != "" {
		vcs, err = artifact.NewGitHubVCS(context.Background(), cfg.GitHub.Token, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	personas := generation.NewPersonaRegistry()
	parser := workflow.NewParser(workflow.NewRegistry(), logger)
	elicitations := engine.NewElicitationService(logger)
	lifecycle := engine.NewLifecycleManager(instances, notifier, logger, collector)
	executor := engine.NewExecutor(provider, personas, elicitations, parser, logger)

	policy := &retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       true,
	}
	recovery := engine.NewRecoveryManager(policy, logger, collector)

	checkpointMgr := checkpoint.NewManager(checkpoints, logger,
		checkpoint.WithTTL(cfg.Checkpoint.TTL),
		checkpoint.WithSummaryLimit(cfg.Checkpoint.SummaryLimit),
	)

	orch := engine.NewOrchestrator(cfg.Orchestrator, engine.Deps{
		Parser:       parser,
		Executor:     executor,
		Lifecycle:    lifecycle,
		Recovery:     recovery,
		Checkpoints:  checkpointMgr,
		Elicitations: elicitations,
		Artifacts:    artifact.NewManager(vcs, logger),
		Store:        instances,
		Logger:       logger,
		Metrics:      collector,
	})
	return orch, cleanup, nil
}

// follow polls the instance until it reaches a terminal status, answering
// elicitation prompts from stdin along the way.
func follow(ctx context.Context, orch *engine.Orchestrator, workflowID string) {
	stdin := bufio.NewReader(os.Stdin)
	lastStep := -1

	for {
		snap, err := orch.Status(ctx, workflowID)
		if err != nil {
			fatalf("Failed to query status: %v", err)
		}

		if snap.CurrentStep != lastStep {
			lastStep = snap.CurrentStep
			fmt.Printf("[%s] step %d/%d", snap.Status, snap.CurrentStep, snap.TotalSteps)
			if snap.ActiveAgent != "" {
				fmt.Printf(" agent=%s", snap.ActiveAgent)
			}
			fmt.Println()
		}

		switch snap.Status {
		case workflow.StatusPausedForElicitation:
			for _, req := range snap.PendingElicitations {
				fmt.Printf("\n%s\n", req.Prompt)
				if len(req.Options) > 0 {
					fmt.Printf("Options: %v\n", req.Options)
				}
				fmt.Print("> ")
				answer, err := stdin.ReadString('\n')
				if err != nil {
					fatalf("Failed to read answer: %v", err)
				}
				if err := orch.RespondToElicitation(ctx, workflowID, req.MessageID, trimNewline(answer)); err != nil {
					fatalf("Failed to submit answer: %v", err)
				}
			}

		case workflow.StatusCompleted:
			fmt.Printf("\nWorkflow completed with %d artifacts:\n", len(snap.ArtifactNames))
			sort.Strings(snap.ArtifactNames)
			for _, name := range snap.ArtifactNames {
				fmt.Printf("  %s\n", name)
			}
			return

		case workflow.StatusError:
			if snap.LastError != nil {
				fmt.Printf("\nWorkflow failed at step %d: %s\n", snap.LastError.StepIndex, snap.LastError.Message)
			} else {
				fmt.Println("\nWorkflow failed")
			}
			os.Exit(1)

		case workflow.StatusCancelled:
			fmt.Println("\nWorkflow cancelled")
			return
		}

		time.Sleep(pollInterval)
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

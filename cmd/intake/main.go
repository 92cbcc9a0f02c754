package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/intake/internal/anthropic"
	"github.com/MikeSquared-Agency/intake/internal/api"
	"github.com/MikeSquared-Agency/intake/internal/config"
	"github.com/MikeSquared-Agency/intake/internal/engine"
	"github.com/MikeSquared-Agency/intake/internal/enrichment"
	"github.com/MikeSquared-Agency/intake/internal/extractor"
	"github.com/MikeSquared-Agency/intake/internal/flow"
	"github.com/MikeSquared-Agency/intake/internal/hermes"
	"github.com/MikeSquared-Agency/intake/internal/intent"
	"github.com/MikeSquared-Agency/intake/internal/knowledge"
	"github.com/MikeSquared-Agency/intake/internal/objection"
	"github.com/MikeSquared-Agency/intake/internal/slack"
	"github.com/MikeSquared-Agency/intake/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("intake starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("intake failed", "error", err)
		os.Exit(1)
	}
	slog.Info("intake stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := slog.Default()

	// Offer
	offer, err := flow.LoadOffer(cfg.OfferFile)
	if err != nil {
		return err
	}
	flowEngine, err := offer.Engine(logger)
	if err != nil {
		return err
	}
	slog.Info("offer loaded", "offer", offer.ID, "states", len(offer.States))

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required")
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", llm.Model())

	classifier := intent.NewGuarded(intent.NewLLMClassifier(llm, logger), cfg.CapabilityTimeout, logger)
	fields := extractor.NewGuarded(extractor.New(llm, logger), cfg.CapabilityTimeout, logger)

	// Database (optional: sessions and knowledge fall back to memory)
	var (
		db       *store.Store
		sessions engine.SessionStore = engine.NewMemoryStore()
	)
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		sessions = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, sessions are kept in memory")
	}

	// Knowledge
	var snippets objection.Snippets
	if searcher, err := setupKnowledge(ctx, cfg, db, logger); err != nil {
		slog.Warn("knowledge retrieval disabled", "error", err)
	} else {
		snippets = searcher
	}

	// NATS/Hermes (optional: enrichment events are logged instead)
	var (
		sink         enrichment.Sink = enrichment.LogSink{Logger: logger}
		notifier     engine.Notifier
		hermesClient *hermes.Client
	)
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		events := hermes.NewEvents(hermesClient)
		sink, notifier = events, events
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	queue := enrichment.NewQueue(cfg.EnrichmentBuffer, logger)
	worker := enrichment.NewWorker(queue, sink, logger)

	eng := engine.New(engine.Components{
		Flow:           flowEngine,
		Classifier:     classifier,
		Extractor:      fields,
		Resolver:       objection.NewResolver(offer.Objections, snippets, logger),
		Knowledge:      snippets,
		Enrichment:     queue,
		OfferType:      offer.Type,
		HistorySize:    cfg.HistorySize,
		RetrievalLimit: cfg.RetrievalLimit,
	}, logger)
	svc := engine.NewService(eng, sessions, notifier, offer.ID, logger)

	// Slack poster (optional: escalations are only flagged on the session)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		svc.SetEscalator(slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger))
		slog.Info("slack escalation handoff ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, escalations will not be handed off")
	}

	srv := api.NewServer(cfg.Port, svc, offer.ID, logger)
	if db != nil {
		srv.AddCheck("database", db.Ping)
	}
	if hermesClient != nil {
		srv.AddCheck("nats", func(context.Context) error {
			if !hermesClient.Connected() {
				return errors.New("nats not connected")
			}
			return nil
		})
	}

	// The worker outlives the HTTP server so turns accepted during shutdown
	// are still captured; it stops once the server is down and the queue
	// has been drained.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(workerCtx)
	})
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		queue.Close()
		stopWorker()
		return err
	})

	slog.Info("intake ready", "port", cfg.Port, "offer", offer.ID)
	err = g.Wait()
	if n := queue.Dropped(); n > 0 {
		slog.Warn("enrichment events dropped", "count", n)
	}
	return err
}

// setupKnowledge builds the knowledge searcher. Items come from Postgres when
// a database is configured, otherwise from an in-memory index. Either is
// seeded from KNOWLEDGE_FILE when set.
func setupKnowledge(ctx context.Context, cfg config.Config, db *store.Store, logger *slog.Logger) (*knowledge.Searcher, error) {
	baseURL := ""
	apiKey := cfg.OpenAIAPIKey
	if cfg.EmbeddingProvider == "ollama" {
		baseURL = cfg.OllamaURL
	}
	embedder, err := knowledge.NewEmbedder(cfg.EmbeddingProvider, cfg.EmbeddingModel, apiKey, baseURL)
	if err != nil {
		return nil, err
	}

	var (
		index  knowledge.Index
		writer knowledge.Writer
	)
	if db != nil {
		index, writer = db, db
	} else {
		mem, err := knowledge.NewMemoryIndex()
		if err != nil {
			return nil, err
		}
		index, writer = mem, mem
	}

	if cfg.KnowledgeFile != "" {
		items, err := knowledge.LoadItems(cfg.KnowledgeFile)
		if err != nil {
			return nil, err
		}
		if err := knowledge.Seed(ctx, writer, embedder, items); err != nil {
			return nil, err
		}
		slog.Info("knowledge seeded", "items", len(items))
	}
	if db != nil {
		if n, err := db.CountItems(ctx); err == nil {
			slog.Info("knowledge index ready", "backend", "postgres", "items", n)
		}
	}

	retriever := knowledge.NewRetriever(index, cfg.RuleMinScore, cfg.CapabilityTimeout, logger)
	return knowledge.NewSearcher(embedder, retriever, cfg.CapabilityTimeout, logger), nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

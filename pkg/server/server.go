// Package server composes the Sentinel process: record store, catalog,
// scorer, data sources, the message bus, the four agents under the
// orchestrator, the real-time hub and the HTTP API.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//	srv.Shutdown(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"

	"github.com/adithya-n05/ICHack26-sub001/internal/agent"
	"github.com/adithya-n05/ICHack26-sub001/internal/agents"
	"github.com/adithya-n05/ICHack26-sub001/internal/api"
	"github.com/adithya-n05/ICHack26-sub001/internal/api/handlers"
	"github.com/adithya-n05/ICHack26-sub001/internal/auth"
	"github.com/adithya-n05/ICHack26-sub001/internal/bus"
	"github.com/adithya-n05/ICHack26-sub001/internal/catalog"
	"github.com/adithya-n05/ICHack26-sub001/internal/config"
	"github.com/adithya-n05/ICHack26-sub001/internal/llm"
	"github.com/adithya-n05/ICHack26-sub001/internal/notify"
	"github.com/adithya-n05/ICHack26-sub001/internal/orchestrator"
	"github.com/adithya-n05/ICHack26-sub001/internal/realtime"
	"github.com/adithya-n05/ICHack26-sub001/internal/retention"
	"github.com/adithya-n05/ICHack26-sub001/internal/scheduler"
	"github.com/adithya-n05/ICHack26-sub001/internal/scoring"
	"github.com/adithya-n05/ICHack26-sub001/internal/sources"
	"github.com/adithya-n05/ICHack26-sub001/internal/store"
	"github.com/adithya-n05/ICHack26-sub001/internal/telemetry"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized Sentinel process.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	Bus          *bus.Bus
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	Catalog      *catalog.Catalog
	Hub          *realtime.Hub
	Notifier     *notify.Service
	Janitor      *retention.Janitor

	// ShutdownFunc flushes telemetry. Shutdown calls it last.
	ShutdownFunc telemetry.Shutdown

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads configuration from the environment and builds the server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig wires every component. Nothing runs until Start.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		shutdown(ctx)
		return nil, fmt.Errorf("open record store: %w", err)
	}
	log.Info().Str("driver", cfg.Store.Driver).Msg("✅ Record store initialized")

	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, err
	}

	fetchers, err := sources.Build(cfg.Sources)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("build sources: %w", err)
	}
	completer, err := llm.New(cfg.LLM)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("init llm: %w", err)
	}
	if completer != nil {
		log.Info().Str("provider", cfg.LLM.Provider).Msg("✅ LLM recommendations enabled")
	}

	janitor, err := retention.FromConfig(dataStore, cfg.Retention)
	if err != nil {
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("init retention: %w", err)
	}

	scorer := scoring.New(cat, dataStore, scoring.Options{})
	hub := realtime.NewHub(cfg.CORSOrigins)
	notifier := notify.FromConfig(cfg.Notify)

	b := bus.New(bus.Options{
		HistorySize:     cfg.Bus.HistorySize,
		InboxSize:       cfg.Bus.InboxSize,
		AckTimeout:      cfg.Bus.AckTimeout,
		DeliveryTimeout: cfg.Bus.DeliveryTimeout,
	})

	sched := scheduler.New()
	orch, err := orchestrator.New(b, orchestrator.Config{
		HealthCheckInterval: cfg.Orchestrator.HealthCheckInterval,
		HeartbeatTimeout:    cfg.Orchestrator.HeartbeatTimeout,
		MitigationRule:      cfg.Orchestrator.MitigationRule,
		RecentMessages:      cfg.Orchestrator.RecentMessages,
		Scheduler:           sched,
	})
	if err != nil {
		b.Close()
		dataStore.Close()
		shutdown(ctx)
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}

	ag := cfg.Agents
	ingestion := agents.NewIngestion(dataStore, agents.IngestionConfig{
		Interval:         ag.PollInterval,
		FailureThreshold: ag.FailureThreshold,
		PollOnStart:      ag.PollOnStart,
	}, fetchers...)
	risk := agents.NewRisk(cat, scorer, agents.RiskConfig{
		SeverityFloor:     ag.SeverityFloor,
		RadiusKm:          ag.ImpactRadiusKm,
		HighRiskThreshold: ag.HighRiskThreshold,
		EscalationDelta:   ag.EscalationDelta,
		ImmediateSeverity: ag.ImmediateSeverity,
		SweepInterval:     ag.SweepInterval,
	})
	mitigation := agents.NewMitigation(cat, completer, agents.MitigationConfig{
		AlternativesTTL:  ag.AlternativesTTL,
		AlternativeLimit: ag.AlternativeLimit,
		LLMTimeout:       cfg.LLM.Timeout,
	})
	alert := agents.NewAlert(notify.Multi{hub, notifier}, agents.AlertConfig{
		HistorySize: ag.AlertHistory,
	})

	opts := agent.Options{
		OrchestratorID:    orch.ID(),
		HeartbeatInterval: ag.HeartbeatInterval,
		System:            orch,
		Scheduler:         sched,
	}
	orch.Register(
		agent.New(ingestion, b, opts),
		agent.New(risk, b, opts),
		agent.New(mitigation, b, opts),
		agent.New(alert, b, opts),
	)
	log.Info().Int("sources", len(fetchers)).Msg("✅ Agents registered")

	h := &handlers.Handlers{
		Version:      cfg.Version,
		Bus:          b,
		Orchestrator: orch,
		Store:        dataStore,
		Catalog:      cat,
		Scorer:       scorer,
		Ingestion:    ingestion,
		Risk:         risk,
		Mitigation:   mitigation,
		Alerts:       alert,
	}

	return &Server{
		Handler:      api.NewRouter(cfg, h, hub, auth.FromConfig(cfg.Auth)),
		Config:       cfg,
		Port:         cfg.Port,
		Bus:          b,
		Orchestrator: orch,
		Store:        dataStore,
		Catalog:      cat,
		Hub:          hub,
		Notifier:     notifier,
		Janitor:      janitor,
		ShutdownFunc: shutdown,
	}, nil
}

// loadCatalog reads the catalog file. A missing file yields an empty catalog
// so the server can start before one is provisioned.
func loadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Catalog file not found, starting with an empty catalog")
		return catalog.New(catalog.File{})
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

// Start runs the orchestrator (and through it every agent), the real-time
// relay, the retention janitor and the catalog watcher.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.Orchestrator.Start(runCtx); err != nil {
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Hub.Relay(runCtx, s.Bus)
	}()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Janitor.Start(runCtx)
	}()

	if s.Config.Catalog.Watch {
		err := s.Catalog.Watch(runCtx, func(err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Catalog reload failed, keeping previous contents")
			}
		})
		if err != nil {
			log.Warn().Err(err).Msg("Catalog hot reload disabled")
		}
	}
	return nil
}

// Shutdown stops the agents, drains notifications and releases the store,
// the bus and telemetry, in that order.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Orchestrator.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.Hub.Close()
	s.Notifier.Close()
	s.Bus.Close()
	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := s.ShutdownFunc(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}

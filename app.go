package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/chative-tutor/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/chative-tutor/agent/contract"
	eventsx "github.com/tanpawarit/chative-tutor/agent/events"
	llmx "github.com/tanpawarit/chative-tutor/agent/llm"
	memoryx "github.com/tanpawarit/chative-tutor/agent/memory"
	parserx "github.com/tanpawarit/chative-tutor/agent/parser"
	promptx "github.com/tanpawarit/chative-tutor/agent/prompt"
	sessionx "github.com/tanpawarit/chative-tutor/agent/session"
	statex "github.com/tanpawarit/chative-tutor/agent/state"
	toolx "github.com/tanpawarit/chative-tutor/agent/tool"
	configx "github.com/tanpawarit/chative-tutor/pkg/config"
	metricsx "github.com/tanpawarit/chative-tutor/pkg/metrics"
	providerx "github.com/tanpawarit/chative-tutor/pkg/provider"
	qstashx "github.com/tanpawarit/chative-tutor/pkg/qstash"
	"github.com/uptrace/bun"
)

type GradesConfig struct {
	// File seeds the in-memory grade book when Postgres is not configured.
	File string `split_words:"true"`
}

type app struct {
	orchestrator *orchestratorx.Orchestrator
	sessions     *sessionx.Manager
	turnLog      *statex.PgTurnLog
	db           *bun.DB
	metricsSrv   *http.Server
}

// resolveModel loads the LLM config and picks the backend for its model.
func resolveModel(ctx context.Context) (*llmx.Config, providerx.Config, *providerx.Catalog, error) {
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	if err := llmCfg.Validate(); err != nil {
		return nil, providerx.Config{}, nil, err
	}

	catalog := providerx.DefaultCatalog()
	if llmCfg.DiscoverModels {
		discoverLocalModels(ctx, catalog)
	}

	provCfg := llmCfg.ProviderConfig()
	if err := provCfg.Resolve(catalog); err != nil {
		return nil, providerx.Config{}, nil, err
	}
	return llmCfg, provCfg, catalog, nil
}

// discoverLocalModels asks local backends for their models. Backends that
// are not running are skipped.
func discoverLocalModels(ctx context.Context, catalog *providerx.Catalog) {
	for _, backend := range []providerx.Backend{providerx.BackendOllama, providerx.BackendLocalAI} {
		client := providerx.NewClient(providerx.Config{
			Backend: backend,
			BaseURL: providerx.DefaultBaseURLs[backend],
		})
		dctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		n, err := catalog.Discover(dctx, backend, providerx.ClientLister{Client: client})
		cancel()
		if err != nil {
			log.Debug().Err(err).Str("backend", string(backend)).Msg("model discovery skipped")
			continue
		}
		log.Info().Str("backend", string(backend)).Int("models", n).Msg("local models discovered")
	}
}

func openPostgres(ctx context.Context) (*bun.DB, error) {
	pgCfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
	if !pgCfg.Enabled() {
		return nil, nil
	}
	db, err := statex.OpenPostgres(*pgCfg)
	if err != nil {
		return nil, err
	}
	if err := statex.InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newApp(ctx context.Context) (*app, error) {
	llmCfg, provCfg, _, err := resolveModel(ctx)
	if err != nil {
		return nil, err
	}
	base, err := provCfg.New(ctx)
	if err != nil {
		return nil, err
	}
	chatModel, err := llmx.NewChatModel(base)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("backend", string(provCfg.Backend)).
		Str("model", provCfg.Model).
		Bool("native_tools", llmCfg.NativeTools).
		Msg("chat model ready")

	a := &app{}
	a.db, err = openPostgres(ctx)
	if err != nil {
		return nil, err
	}

	book, err := gradeBook(a.db)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	m := metricsx.NewMetrics()
	reg := toolx.NewRegistry()
	if err := toolx.RegisterBuiltins(reg, book); err != nil {
		a.Close(ctx)
		return nil, err
	}
	execCfg := configx.MustNew[toolx.ExecutorConfig]("TOOL")
	executor := toolx.NewExecutor(reg, *execCfg, toolx.WithResultObserver(m.ObserveToolResult))

	a.sessions, err = sessionManager(ctx, m)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	sinks, err := a.turnSinks()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	tutorCfg := configx.MustNew[orchestratorx.Config]("TUTOR")
	tutorCfg.NativeTools = llmCfg.NativeTools

	a.orchestrator, err = orchestratorx.New(orchestratorx.Deps{
		Sessions: a.sessions,
		Model:    chatModel,
		Parser:   parserx.New(parserx.WithKnownTools(reg.Names)),
		Tools:    executor,
		Catalog:  reg,
		Renderer: promptx.NewRenderer(promptx.LoadPromptSet()),
		Retry:    llmCfg.RetryPolicy(),
		Sinks:    sinks,
		Metrics:  m,
	}, *tutorCfg)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.sessions.StartSweeper(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.serveMetrics(m)
	return a, nil
}

func gradeBook(db *bun.DB) (toolx.GradeBook, error) {
	if db != nil {
		return statex.NewPgGradeBook(db), nil
	}
	gradesCfg := configx.MustNew[GradesConfig]("GRADES")
	if path := strings.TrimSpace(gradesCfg.File); path != "" {
		return toolx.LoadGradeBook(path)
	}
	return toolx.NewMemoryGradeBook(), nil
}

func sessionManager(ctx context.Context, m *metricsx.Metrics) (*sessionx.Manager, error) {
	var store statex.Store = statex.NewMemoryStore()
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
	if redisCfg.Enabled() {
		s, err := statex.NewUpstashRedisStore(*redisCfg)
		if err != nil {
			return nil, err
		}
		pctx, cancel := context.WithTimeout(ctx, redisCfg.Timeout)
		err = s.Ping(pctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("upstash redis: %w", err)
		}
		store = s
	}

	memCfg := configx.MustNew[memoryx.Config]("MEMORY")
	sessCfg := configx.MustNew[sessionx.Config]("SESSION")
	mgr := sessionx.NewManager(store, *memCfg, *sessCfg)
	if m != nil {
		mgr.OnCountChange = m.SetSessionsActive
	}
	return mgr, nil
}

func (a *app) turnSinks() ([]contractx.TurnSink, error) {
	var sinks []contractx.TurnSink
	if a.db != nil {
		a.turnLog = statex.NewPgTurnLog(a.db)
		sinks = append(sinks, a.turnLog)
	}

	qCfg := configx.MustNew[qstashx.Config]("QSTASH")
	if qCfg.Enabled() {
		client, err := qstashx.NewClient(*qCfg)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, eventsx.NewQStashSink(client, qCfg.Topic))
	}
	return sinks, nil
}

func (a *app) serveMetrics(m *metricsx.Metrics) {
	mCfg := configx.MustNew[metricsx.Config]("METRICS")
	addr := strings.TrimSpace(mCfg.Addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
}

func (a *app) Close(ctx context.Context) {
	if a.sessions != nil {
		a.sessions.StopSweeper()
	}
	if a.metricsSrv != nil {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.metricsSrv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
		cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("postgres close")
		}
	}
}

func requirePostgres(ctx context.Context) (*bun.DB, error) {
	db, err := openPostgres(ctx)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("%w: POSTGRES_DSN is not set", contractx.ErrValidation)
	}
	return db, nil
}

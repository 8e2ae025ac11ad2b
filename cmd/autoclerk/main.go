package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	achttp "github.com/finback/autoclerk/internal/adapter/http"
	"github.com/finback/autoclerk/internal/adapter/ledgerhttp"
	acnats "github.com/finback/autoclerk/internal/adapter/nats"
	"github.com/finback/autoclerk/internal/adapter/openai"
	otelx "github.com/finback/autoclerk/internal/adapter/otel"
	"github.com/finback/autoclerk/internal/adapter/postgres"
	"github.com/finback/autoclerk/internal/adapter/ristretto"
	"github.com/finback/autoclerk/internal/adapter/slack"
	"github.com/finback/autoclerk/internal/adapter/ws"
	"github.com/finback/autoclerk/internal/agent"
	"github.com/finback/autoclerk/internal/cascade"
	"github.com/finback/autoclerk/internal/config"
	"github.com/finback/autoclerk/internal/domain/event"
	"github.com/finback/autoclerk/internal/domain/policy"
	"github.com/finback/autoclerk/internal/logger"
	"github.com/finback/autoclerk/internal/middleware"
	"github.com/finback/autoclerk/internal/port/messagequeue"
	"github.com/finback/autoclerk/internal/resilience"
	"github.com/finback/autoclerk/internal/router"
	"github.com/finback/autoclerk/internal/scheduler"
	"github.com/finback/autoclerk/internal/service"
)

const serviceName = "autoclerk-core"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := otelx.Setup(ctx, serviceName, cfg.Telemetry.Endpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "error", err)
		}
	}()
	metrics, err := otelx.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	queue, err := acnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	ruleCache, err := ristretto.New(cfg.RuleCache.MaxEntries)
	if err != nil {
		return fmt.Errorf("rule cache: %w", err)
	}
	defer ruleCache.Close()

	// --- Stores ---
	eventLog := postgres.NewEventLog(pool)
	auditRec := postgres.NewAuditRecorder(pool)
	records := postgres.NewLedgerRecords(pool)

	// --- Policy ---
	doc, err := policy.LoadFromFile(cfg.Policy.File)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	policyStore, err := service.NewPolicyStore(*doc,
		service.WithPolicyPath(cfg.Policy.File),
		service.WithRuleCache(ruleCache),
		service.WithPolicyAudit(auditRec),
		service.WithPolicyLogger(log),
	)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	log.Info("policy loaded", "path", cfg.Policy.File, "version", doc.Version)

	// --- Outbound clients ---
	ledgerClient := ledgerhttp.NewClient(cfg.Ledger)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	ledgerClient.SetBreaker(breaker)

	notify := slack.NewNotifier(cfg.Slack.Token, cfg.Slack.Channel)
	suggest := openai.NewSuggester(cfg.OpenAI)
	suggest.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Matching cascade ---
	strategies := []cascade.Strategy{
		cascade.NewExactStrategy(records),
		cascade.NewWindowedStrategy(records, cfg.Cascade.WindowDays),
		cascade.NewReferenceStrategy(records),
	}
	if cfg.OpenAI.APIKey != "" {
		strategies = append(strategies, cascade.NewAssistedStrategy(suggest, nil))
	}
	matcher := cascade.New(strategies, cascade.WithLogger(log))

	// --- Services ---
	hub := ws.NewHub()
	escalator := service.NewEscalator(queue, notify, hub, auditRec, log)

	bankMatcher := service.NewBankMatcher(policyStore, matcher, ledgerClient, records, escalator, log)
	expenseCoder := service.NewExpenseCoder(policyStore, matcher, ledgerClient, escalator, log)
	spendGovernor := service.NewSpendGovernor(policyStore, ledgerClient, escalator, log)
	collections := service.NewCollectionsOfficer(policyStore, queue, ledgerClient, escalator, log)
	returns := service.NewReturnsPreparer(eventLog, escalator, log)

	// --- Agents and routing ---
	r := router.New(
		router.WithLogger(log),
		router.WithMaxConcurrent(cfg.Router.MaxConcurrent),
	)
	orch := service.NewOrchestrator(r, policyStore,
		service.WithEventLog(eventLog),
		service.WithQueue(queue),
		service.WithBroadcaster(hub),
		service.WithEscalator(escalator),
		service.WithMetrics(metrics),
		service.WithLedgerBreaker(breaker),
		service.WithOrchestratorLogger(log),
	)

	opts := router.Options{Timeout: cfg.Router.TargetTimeout}

	bank := agent.New("bank-matcher", auditRec, log)
	bank.On(event.TypeBankTxnImported, bankMatcher.Handle)
	orch.RegisterAgent(bank, opts)

	expense := agent.New("expense-coder", auditRec, log)
	expense.On(event.TypeBillReceived, expenseCoder.Handle)
	orch.RegisterAgent(expense, opts)

	spend := agent.New("spend-governor", auditRec, log)
	spend.On(event.TypeSpendRequested, spendGovernor.Handle)
	orch.RegisterAgent(spend, opts)

	dunning := agent.New("collections-officer", auditRec, log)
	dunning.On(event.TypeInvoiceOverdue, collections.Handle)
	dunning.On(event.TypeCollectionsSweep, collections.Handle)
	orch.RegisterAgent(dunning, opts)

	filings := agent.New("returns-preparer", auditRec, log)
	filings.On(event.TypePeriodClosed, returns.Handle)
	orch.RegisterAgent(filings, opts)

	cancelConsumer, err := orch.StartConsumer(ctx)
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer cancelConsumer()

	// --- Scheduler ---
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()
	if cfg.Scheduler.Enabled {
		if err := startScheduler(schedCtx, cfg, queue, policyStore, ledgerClient, records, log); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	// --- HTTP ---
	handlers := achttp.NewHandlers(orch, policyStore, eventLog, log)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(chimw.RealIP)
	mux.Use(chimw.Recoverer)
	mux.Use(otelx.HTTPMiddleware(serviceName))
	mux.Use(achttp.CORS(cfg.Server.CORSOrigin))
	mux.Use(achttp.SecurityHeaders)
	mux.Use(achttp.Logger)
	achttp.MountRoutes(mux, handlers, hub)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down")
	stopSched()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return orch.Shutdown(shutdownCtx)
}

// startScheduler registers the periodic jobs and runs the check loop in the
// background.
func startScheduler(ctx context.Context, cfg *config.Config, queue messagequeue.Queue, policyStore *service.PolicyStore, ledgerClient *ledgerhttp.Client, records *postgres.LedgerRecords, log *slog.Logger) error {
	sched := scheduler.New(scheduler.WithLogger(log))

	publish := func(ctx context.Context, ev event.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return queue.Publish(ctx, messagequeue.SubjectEventsInbound, data)
	}

	sweep := func(ctx context.Context) error {
		// The collections officer pulls the overdue set itself.
		return publish(ctx, event.New(event.TypeCollectionsSweep, "scheduler", nil))
	}
	if err := sched.Add("collections-sweep", cfg.Scheduler.CollectionsSweep, sweep); err != nil {
		return err
	}

	periodClose := func(ctx context.Context) error {
		events, err := service.PeriodCloseEvents(policyStore.Entities(), time.Now().UTC())
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := publish(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}
	if err := sched.Add("period-close", cfg.Scheduler.PeriodClose, periodClose); err != nil {
		return err
	}

	syncer := service.NewLedgerSyncer(ledgerClient, records, log)
	if err := sched.Add("ledger-refresh", cfg.Scheduler.LedgerRefresh, syncer.Sync); err != nil {
		return err
	}

	go sched.Start(ctx)
	return nil
}

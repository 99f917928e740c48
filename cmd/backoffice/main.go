// Command backoffice runs the restaurant back-office service: the chat bot,
// the POS/finance mirror sync, the cloud webhook listener and the scheduled
// jobs, all in one process.
//
// Usage:
//
//	backoffice init-schema   apply database migrations and exit
//	backoffice run           start the service (default)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Paradize0404/bot-work/internal/bot"
	"github.com/Paradize0404/bot-work/internal/cache"
	"github.com/Paradize0404/bot-work/internal/chat"
	"github.com/Paradize0404/bot-work/internal/cloudapi"
	"github.com/Paradize0404/bot-work/internal/config"
	"github.com/Paradize0404/bot-work/internal/db"
	"github.com/Paradize0404/bot-work/internal/finapi"
	"github.com/Paradize0404/bot-work/internal/mirror"
	"github.com/Paradize0404/bot-work/internal/ocrmap"
	"github.com/Paradize0404/bot-work/internal/perm"
	"github.com/Paradize0404/bot-work/internal/posapi"
	"github.com/Paradize0404/bot-work/internal/scheduler"
	"github.com/Paradize0404/bot-work/internal/sheets"
	"github.com/Paradize0404/bot-work/internal/stockalert"
	"github.com/Paradize0404/bot-work/internal/stoplist"
	"github.com/Paradize0404/bot-work/internal/timeutil"
	"github.com/Paradize0404/bot-work/internal/transfer"
	"github.com/Paradize0404/bot-work/internal/webhook"
	"github.com/Paradize0404/bot-work/internal/workflow"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "backoffice").Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration invalid")
	}
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := timeutil.Init(cfg.Timezone); err != nil {
		log.Fatal().Err(err).Str("tz", cfg.Timezone).Msg("timezone not loadable")
	}

	cmd := "run"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	ctx := context.Background()

	switch cmd {
	case "init-schema":
		if err := db.Migrate(ctx, cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("migration failed")
		}
		log.Info().Msg("schema up to date")
	case "run":
		run(ctx, cfg)
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command (want init-schema or run)")
	}
}

func run(ctx context.Context, cfg *config.Config) {
	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()

	// Shared backends.
	var backend cache.Backend
	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		backend = r
		log.Info().Msg("session storage: redis")
	} else {
		backend = cache.NewMemory()
		log.Info().Msg("session storage: in-process")
	}
	// TTL and session-lifetime caches ride the same backend as the FSM, so
	// every replica sees one set of values.
	refCache := cache.New(backend)

	var sheetStore sheets.Store
	if cfg.SheetID != "" {
		sheetStore = sheets.NewGoogle(cfg.SheetID, cfg.SheetsToken)
	} else {
		sheetStore = sheets.NewMemory()
		log.Warn().Msg("SHEET_ID empty, spreadsheet operations run against an in-process store")
	}

	// Upstream clients.
	pos := posapi.New(cfg)
	fin := finapi.New(cfg)
	cloud := cloudapi.New(cfg, pool)

	// Chat transport.
	transport, err := chat.NewTelebot(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("bot transport init failed")
	}
	sessions := chat.NewSessions(backend)
	perms := perm.NewService(sheetStore, pool, cfg.PermissionsFrom)
	router := chat.NewRouter(transport, sessions, perms)

	// Domain services.
	users := workflow.NewUsers(pool, backend)
	catalog := workflow.NewCatalog(pool, refCache)
	writeoffs := workflow.NewWriteoffs(pool, pos, catalog)
	invoices := workflow.NewInvoices(pool, pos, catalog)
	requests := workflow.NewRequests(pool, invoices)
	staging := workflow.NewOCRStaging(pool)
	mapping := ocrmap.NewService(sheetStore, pool)

	locks := mirror.NewLocks()
	engine := mirror.NewEngine(pool, locks)
	exporter := perm.NewExporter(sheetStore, pool)

	bindings := stoplist.NewBindings(pool, refCache)
	stoplistSvc := stoplist.NewService(pool, cloud, bindings, cfg.CloudOrgID)
	depts := userDepartments{users: users}
	stoplistNotifier := stoplist.NewNotifier(stoplistSvc,
		chat.NewPinned(pool, transport, "stoplist_message"),
		stoplistSubs{perms}, depts)

	checker := stockalert.NewChecker(pool)
	monitor := stockalert.NewMonitor(cfg.StockCheckOrderInterval, cfg.StockChangeThresholdPct)
	stockNotifier := stockalert.NewNotifier(checker,
		chat.NewPinned(pool, transport, "stock_alert_message"),
		stockSubs{perms}, depts)

	pipeline := &webhook.Pipeline{
		Resync: func(ctx context.Context) error {
			return engine.SyncStockBalances(ctx, pos, "webhook").Err
		},
		Checker:  checker,
		Monitor:  monitor,
		Notifier: stockNotifier,
	}

	// Stop-list webhook bursts collapse into one refresh per quiet minute.
	debouncer := stoplist.NewDebouncer(time.Minute, func() {
		fctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		stoplistNotifier.FlushAll(fctx)
	})
	defer debouncer.Stop()

	runner := transfer.NewRunner(pool, pos, pos, locks, transfer.Config{
		SourcePrefix:   cfg.TransferSourcePrefix,
		TargetPrefixes: cfg.TransferTargetPrefix,
		ProductGroup:   cfg.TransferProductGroup,
	})

	deps := &bot.Deps{
		Cfg:       cfg,
		Q:         pool,
		Transport: transport,
		Sessions:  sessions,
		Perms:     perms,

		Users:     users,
		Auth:      workflow.NewAuth(pool, users),
		Catalog:   catalog,
		Writeoffs: writeoffs,
		Invoices:  invoices,
		Requests:  requests,
		Staging:   staging,
		Extractor: newHTTPExtractor(cfg.OCRServiceURL),
		Files:     transport,
		Mapping:   mapping,
		POS:       pos,

		Stoplist:      stoplistNotifier,
		StoplistSvc:   stoplistSvc,
		StockNotifier: stockNotifier,
		StockChecker:  checker,
		StockPipeline: pipeline,

		Engine:       engine,
		POSSource:    pos,
		Finance:      fin,
		Sheets:       sheetStore,
		PermExporter: exporter,
		Cloud:        cloud,
		Transfer:     runner,
	}
	bot.Register(router, deps)

	notifyAdmins := func(ctx context.Context, text string) {
		for _, id := range perms.AdminIDs(ctx) {
			if _, err := transport.Send(ctx, id, text, nil); err != nil {
				log.Warn().Err(err).Int64("chat", id).Msg("admin notify failed")
			}
		}
	}

	chain := &scheduler.Chain{
		Engine:       engine,
		POS:          pos,
		Finance:      fin,
		Sheets:       sheetStore,
		Perms:        exporter,
		Mapping:      mapping,
		NotifyAdmins: notifyAdmins,
	}

	sched, err := scheduler.New(scheduler.Jobs{
		DailySync: chain.Run,
		EveningReport: func(ctx context.Context) {
			stats, err := stoplistSvc.DailyStats(ctx)
			if err != nil {
				log.Error().Err(err).Msg("evening report: stats query failed")
				return
			}
			text := stoplist.BuildDailyReport(stats)
			for _, id := range perms.StoplistSubscriberIDs(ctx) {
				if _, err := transport.Send(ctx, id, text, nil); err != nil {
					log.Warn().Err(err).Int64("chat", id).Msg("evening report send failed")
				}
			}
		},
		NightTransfer: func(ctx context.Context) {
			sum, err := runner.Run(ctx, "scheduler")
			if err != nil {
				log.Error().Err(err).Msg("night transfer failed")
				notifyAdmins(ctx, "❌ Ночное перемещение не выполнено: "+err.Error())
				return
			}
			notifyAdmins(ctx, transfer.FormatSummary(sum))
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler init failed")
	}
	sched.Start()
	defer sched.Stop()

	// Cloud webhook listener.
	whs := webhook.NewServer(cfg.CloudWebhookSecret, debouncer,
		monitor.RecordClosedOrders, pipeline.Run)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      whs.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("webhook server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("webhook server failed")
		}
	}()

	// Long polling blocks until the context ends, so it runs alongside the
	// signal wait.
	pollCtx, stopPolling := context.WithCancel(ctx)
	go transport.Attach(pollCtx, router)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	stopPolling()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("webhook server shutdown error")
	}
	log.Info().Msg("stopped")
}

// stoplistSubs and stockSubs adapt the permission service to the notifier
// contracts, which expect an error return.
type stoplistSubs struct{ perms *perm.Service }

func (s stoplistSubs) StoplistSubscriberIDs(ctx context.Context) ([]int64, error) {
	return s.perms.StoplistSubscriberIDs(ctx), nil
}

type stockSubs struct{ perms *perm.Service }

func (s stockSubs) StockSubscriberIDs(ctx context.Context) ([]int64, error) {
	return s.perms.StockSubscriberIDs(ctx), nil
}

// userDepartments resolves a chat's department through the cached user
// context.
type userDepartments struct{ users *workflow.Users }

func (d userDepartments) DepartmentOf(ctx context.Context, chatID int64) (string, error) {
	c, err := d.users.Context(ctx, chatID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", nil
	}
	return c.DepartmentID, nil
}

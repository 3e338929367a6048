package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/params"
	"github.com/uhyunpark/orderflow/pkg/api"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/app/sor"
	"github.com/uhyunpark/orderflow/pkg/app/venue"
	"github.com/uhyunpark/orderflow/pkg/feeder"
	"github.com/uhyunpark/orderflow/pkg/pipeline"
	"github.com/uhyunpark/orderflow/pkg/storage"
	"github.com/uhyunpark/orderflow/pkg/util"
)

func main() {
	// .env in the working directory, then the environment
	cfg := params.LoadFromEnv("")

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	} else {
		logger, err = util.NewLogger(cfg.Node.Verbose)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	clock := util.RealClock{}

	// ---- Reference data ----
	markets := market.NewRegistry()
	for _, sym := range cfg.Market.Instruments {
		p := market.DefaultEquity
		p.ReferencePx = cfg.Market.ReferencePrices[sym]
		in, err := market.NewInstrument(sym, p)
		if err != nil {
			sugar.Fatalw("instrument_invalid", "symbol", sym, "err", err)
		}
		if err := markets.Register(in); err != nil {
			sugar.Fatalw("instrument_register_failed", "symbol", sym, "err", err)
		}
	}

	// ---- Venues ----
	venues := make([]*venue.Venue, 0, len(cfg.Routing.Venues))
	for _, id := range cfg.Routing.Venues {
		venues = append(venues, venue.New(venue.Config{
			ID:            id,
			Markets:       markets,
			Clock:         clock,
			IDs:           util.UUIDs{Prefix: id},
			Logger:        sugar,
			ReferenceFill: cfg.Routing.ReferenceFill,
		}))
	}
	exchange := venue.NewExchange(clock, venues...)

	planner := sor.NewPlanner(cfg.Routing.Venues, cfg.Routing.DefaultVenue, util.UUIDs{Prefix: "C"}).
		WithSlicing(cfg.Routing.SliceQty, cfg.Routing.MaxChildren)

	// ---- Pipeline ----
	pipeCfg := pipeline.Config{
		InboundCapacity: cfg.Pipeline.InboundCapacity,
		ReportCapacity:  cfg.Pipeline.ReportCapacity,
		PollTimeout:     cfg.Pipeline.PollTimeout,
		MaxFollowUps:    cfg.Pipeline.MaxFollowUps,
		FillDedupWindow: cfg.Pipeline.FillDedupWindow,
	}
	pipe, err := pipeline.New(pipeCfg, planner, exchange, clock, util.UUIDs{Prefix: "P"}, util.UUIDs{Prefix: "I"}, sugar)
	if err != nil {
		sugar.Fatalw("pipeline_init_failed", "err", err)
	}

	// ---- Journal ----
	var journal *storage.PebbleStore
	if cfg.Node.JournalPath != "" {
		journal, err = storage.NewPebbleStore(cfg.Node.JournalPath)
	} else {
		journal, err = storage.NewMemPebbleStore()
	}
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Node.JournalPath, "err", err)
	}
	defer journal.Close()
	pipe.Journal = journal

	if cfg.Node.TraceWAL != "" {
		wal, err := storage.NewFileWAL(cfg.Node.TraceWAL)
		if err != nil {
			sugar.Fatalw("trace_wal_open_failed", "path", cfg.Node.TraceWAL, "err", err)
		}
		defer wal.Close()
		pipe.WAL = wal
	}

	// ---- API ----
	apiCfg := api.Config{
		Pipeline: pipe,
		Exchange: exchange,
		Markets:  markets,
		Journal:  journal,
		Clock:    clock,
		Logger:   sugar,
	}
	if cfg.Node.AuditLog != "" {
		f, err := os.OpenFile(cfg.Node.AuditLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			sugar.Warnw("audit_log_open_failed", "path", cfg.Node.AuditLog, "err", err)
		} else {
			defer f.Close()
			apiCfg.AuditLog = f
		}
	}
	apiServer := api.NewServer(apiCfg)

	publisher := pipeline.NewPublisher(pipe.Reports(), sugar,
		journal, apiServer.Hub(), pipeline.LogSink(sugar.Named("reports")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"venues", cfg.Routing.Venues,
		"instruments", cfg.Market.Instruments,
		"max_followups", pipeCfg.MaxFollowUps,
		"slice_qty", cfg.Routing.SliceQty,
		"reference_fill", cfg.Routing.ReferenceFill)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("component_failed", "component", name, "err", err)
				stop()
			}
		}()
	}

	run("pipeline", pipe.Run)
	run("publisher", publisher.Run)
	sweep := cfg.Pipeline.SweepInterval
	if sweep <= 0 {
		sweep = time.Second
	}
	run("sweeper", func(ctx context.Context) error { return pipe.RunSweeper(ctx, sweep) })
	run("api", func(ctx context.Context) error { return apiServer.Start(ctx, cfg.Node.APIAddr) })

	// ---- Feeder (optional) ----
	// Enable with: ENABLE_FEEDER=true FEEDER_MODE=orders|mixed|stress
	if cfg.Node.EnableFeeder {
		instruments := markets.List()
		seeded, err := feeder.SeedBooks(feeder.DefaultLadder(), instruments, seedables(venues)...)
		if err != nil {
			sugar.Fatalw("liquidity_seed_failed", "err", err)
		}
		feedCfg, err := feeder.ConfigForMode(cfg.Node.FeederMode)
		if err != nil {
			sugar.Fatalw("feeder_config_invalid", "err", err)
		}
		f, err := feeder.New(feedCfg, instruments, pipe, clock, sugar)
		if err != nil {
			sugar.Fatalw("feeder_init_failed", "err", err)
		}
		sugar.Infow("feeder_enabled", "mode", feedCfg.Mode, "seeded_orders", seeded)
		run("feeder", f.Run)
	} else {
		sugar.Info("feeder_disabled")
	}

	// Progress logging loop
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Infow("node_stopping", "live_parents", len(pipe.Parents().Live()))
			wg.Wait()
			return
		case <-ticker.C:
			sugar.Infow("node_progress",
				"parents", pipe.Parents().Len(),
				"live_parents", len(pipe.Parents().Live()),
				"inbound_queued", pipe.InboundDepth(),
				"reports_queued", pipe.Reports().Len())
		}
	}
}

func seedables(vs []*venue.Venue) []feeder.Seedable {
	out := make([]feeder.Seedable, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

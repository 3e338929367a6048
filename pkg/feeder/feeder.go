package feeder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/pipeline"
	"github.com/uhyunpark/orderflow/pkg/util"
)

// Submitter is the inbound side of the pipeline.
type Submitter interface {
	Submit(payload any) (uint64, error)
}

// Config controls request generation rate
type Config struct {
	Mode        string        // "orders", "mixed" or "stress"
	BatchSize   int           // requests per tick
	Interval    time.Duration // time between ticks
	NumAccounts int           // simulated traders
	Seed        int64         // generator seed; 0 picks one from the clock
}

func DefaultConfig() Config {
	return Config{
		Mode:        "mixed",
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 50,
	}
}

// HighLoadConfig pushes roughly ten times the default rate.
func HighLoadConfig() Config {
	return Config{
		Mode:        "stress",
		BatchSize:   100,
		Interval:    100 * time.Millisecond,
		NumAccounts: 200,
	}
}

// ConfigForMode returns the preset for a FEEDER_MODE value.
func ConfigForMode(mode string) (Config, error) {
	switch mode {
	case "", "mixed":
		return DefaultConfig(), nil
	case "orders":
		cfg := DefaultConfig()
		cfg.Mode = "orders"
		return cfg, nil
	case "stress":
		return HighLoadConfig(), nil
	}
	return Config{}, fmt.Errorf("unknown feeder mode %q", mode)
}

// Feeder submits generated batches until its context ends.
type Feeder struct {
	cfg   Config
	gen   *Generator
	sub   Submitter
	clock util.Clock
	log   *zap.SugaredLogger

	submitted int
	shed      int
}

func New(cfg Config, instruments []market.Instrument, sub Submitter, clock util.Clock, log *zap.SugaredLogger) (*Feeder, error) {
	if cfg.BatchSize <= 0 || cfg.Interval <= 0 {
		return nil, fmt.Errorf("feeder needs a positive batch size and interval")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	gen, err := NewGenerator(cfg.NumAccounts, instruments, seed)
	if err != nil {
		return nil, err
	}
	return &Feeder{
		cfg:   cfg,
		gen:   gen,
		sub:   sub,
		clock: clock,
		log:   util.OrNop(log).Named("feeder"),
	}, nil
}

// Tick generates and submits one batch. A shedding bus is counted, not
// fatal.
func (f *Feeder) Tick() {
	for _, req := range f.gen.GenerateBatch(f.cfg.BatchSize, f.cfg.Mode != "orders") {
		if _, err := f.sub.Submit(req); err != nil {
			if errors.Is(err, pipeline.ErrInboundFull) {
				f.shed++
				continue
			}
			f.log.Warnw("submit_failed", "err", err)
			continue
		}
		f.submitted++
	}
}

// Run ticks every Interval and logs throughput every ten seconds.
func (f *Feeder) Run(ctx context.Context) error {
	start := f.clock.Now()
	lastStats := start
	f.log.Infow("feeder_started", "mode", f.cfg.Mode, "batch", f.cfg.BatchSize, "interval", f.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			elapsed := f.clock.Now().Sub(start)
			f.log.Infow("feeder_stopped", "submitted", f.submitted, "shed", f.shed, "elapsed", elapsed.Round(time.Second))
			return ctx.Err()

		case now := <-f.clock.After(f.cfg.Interval):
			f.Tick()
			if now.Sub(lastStats) >= 10*time.Second {
				lastStats = now
				st := f.gen.Stats()
				f.log.Infow("feeder_stats",
					"submitted", f.submitted, "shed", f.shed,
					"orders", st.Orders, "cancels", st.Cancels, "replaces", st.Replaces,
					"rate", float64(f.submitted)/now.Sub(start).Seconds())
			}
		}
	}
}

// Submitted returns the accepted and shed request counts. Only meaningful
// once Run has returned or from the goroutine calling Tick.
func (f *Feeder) Submitted() (accepted, shed int) { return f.submitted, f.shed }

package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/orderflow/pkg/app/core"
)

type Pipeline struct {
	InboundCapacity int
	ReportCapacity  int
	PollTimeout     time.Duration

	// MaxFollowUps bounds the FSM follow-up chain per inbound event. Values
	// above 8 are clamped by the pipeline.
	MaxFollowUps    int
	FillDedupWindow int
	SweepInterval   time.Duration
}

type Routing struct {
	Venues       []string
	DefaultVenue string

	// SliceQty and MaxChildren split parents into several children; zero
	// routes each parent as a single child.
	SliceQty      int64
	MaxChildren   int
	ReferenceFill bool
}

type Market struct {
	Instruments     []string
	ReferencePrices map[string]int64 // micros
}

type Node struct {
	APIAddr      string
	LogFile      string
	JournalPath  string // empty keeps the journal in memory
	TraceWAL     string // empty disables hop traces
	AuditLog     string // empty disables the API request log
	EnableFeeder bool
	FeederMode   string
	Verbose      bool
}

type Config struct {
	Pipeline Pipeline
	Routing  Routing
	Market   Market
	Node     Node
}

func Default() Config {
	return Config{
		Pipeline: Pipeline{
			InboundCapacity: 4096,
			ReportCapacity:  4096,
			PollTimeout:     50 * time.Millisecond,
			MaxFollowUps:    8,
			FillDedupWindow: 8192,
			SweepInterval:   time.Second,
		},
		Routing: Routing{
			Venues:        []string{"XNAS", "ARCA"},
			DefaultVenue:  "XNAS",
			ReferenceFill: true,
		},
		Market: Market{
			Instruments:     []string{"AAPL", "MSFT"},
			ReferencePrices: map[string]int64{"AAPL": 190_000_000, "MSFT": 410_000_000},
		},
		Node: Node{
			APIAddr:    ":8080",
			FeederMode: "mixed",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	setInt(&cfg.Pipeline.InboundCapacity, "INBOUND_CAPACITY")
	setInt(&cfg.Pipeline.ReportCapacity, "REPORT_CAPACITY")
	setInt(&cfg.Pipeline.MaxFollowUps, "MAX_FOLLOWUPS")
	setInt(&cfg.Pipeline.FillDedupWindow, "FILL_DEDUP_WINDOW")
	setMillis(&cfg.Pipeline.PollTimeout, "POLL_TIMEOUT_MS")
	setMillis(&cfg.Pipeline.SweepInterval, "SWEEP_INTERVAL_MS")
	if cfg.Pipeline.MaxFollowUps > 8 {
		cfg.Pipeline.MaxFollowUps = 8
	}

	if v := list("VENUES"); len(v) > 0 {
		cfg.Routing.Venues = v
		cfg.Routing.DefaultVenue = v[0]
	}
	cfg.Routing.DefaultVenue = getEnv("DEFAULT_VENUE", cfg.Routing.DefaultVenue)
	if n, err := strconv.ParseInt(os.Getenv("CHILD_SLICE_QTY"), 10, 64); err == nil {
		cfg.Routing.SliceQty = n
	}
	setInt(&cfg.Routing.MaxChildren, "MAX_CHILDREN")
	setBool(&cfg.Routing.ReferenceFill, "REFERENCE_FILL")

	if v := list("INSTRUMENTS"); len(v) > 0 {
		cfg.Market.Instruments = v
	}
	// REFERENCE_PRICES=AAPL=190.25,MSFT=410
	for _, pair := range list("REFERENCE_PRICES") {
		sym, px, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if micros, err := core.ParsePrice(px); err == nil {
			cfg.Market.ReferencePrices[strings.TrimSpace(sym)] = micros
		}
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.JournalPath = getEnv("JOURNAL_PATH", cfg.Node.JournalPath)
	cfg.Node.TraceWAL = getEnv("TRACE_WAL", cfg.Node.TraceWAL)
	cfg.Node.AuditLog = getEnv("AUDIT_LOG", cfg.Node.AuditLog)
	cfg.Node.FeederMode = getEnv("FEEDER_MODE", cfg.Node.FeederMode)
	setBool(&cfg.Node.EnableFeeder, "ENABLE_FEEDER")
	setBool(&cfg.Node.Verbose, "VERBOSE")

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setInt(dst *int, key string) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func setMillis(dst *time.Duration, key string) {
	if ms, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

// list splits a comma-separated variable, dropping empty items.
func list(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

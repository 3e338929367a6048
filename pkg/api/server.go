package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/orderflow/pkg/app/core"
	"github.com/uhyunpark/orderflow/pkg/app/core/market"
	"github.com/uhyunpark/orderflow/pkg/app/oms"
	"github.com/uhyunpark/orderflow/pkg/app/venue"
	"github.com/uhyunpark/orderflow/pkg/pipeline"
	"github.com/uhyunpark/orderflow/pkg/util"
)

const (
	defaultDepth   = 10
	maxDepth       = 100
	defaultReports = 50
	maxReports     = 1000
)

// Journal is the durable report and parent history. Optional.
type Journal interface {
	LoadReports(parentID string) ([]core.ExecutionReport, error)
	LoadRecentReports(limit int) ([]core.ExecutionReport, error)
	LoadParent(parentID string) (oms.State, bool, error)
}

type Config struct {
	Pipeline *pipeline.Pipeline
	Exchange *venue.Exchange
	Markets  *market.Registry
	Journal  Journal // nil disables the history endpoints
	Clock    util.Clock
	Logger   *zap.SugaredLogger

	// AuditLog receives one JSON line per request accepted onto the bus.
	AuditLog io.Writer

	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	pipe     *pipeline.Pipeline
	exchange *venue.Exchange
	markets  *market.Registry
	journal  Journal
	clock    util.Clock
	log      *zap.SugaredLogger

	router  *mux.Router
	hub     *Hub
	origins []string

	auditMu sync.Mutex
	audit   io.Writer
}

func NewServer(cfg Config) *Server {
	log := util.OrNop(cfg.Logger).Named("api")
	s := &Server{
		pipe:     cfg.Pipeline,
		exchange: cfg.Exchange,
		markets:  cfg.Markets,
		journal:  cfg.Journal,
		clock:    cfg.Clock,
		log:      log,
		router:   mux.NewRouter(),
		hub:      NewHub(log),
		origins:  cfg.AllowedOrigins,
		audit:    cfg.AuditLog,
	}
	if s.clock == nil {
		s.clock = util.RealClock{}
	}
	if len(s.origins) == 0 {
		s.origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	s.setupRoutes()
	return s
}

// Hub is the WebSocket fan-out; register it as a publisher sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Reference data
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/books", s.handleGetBooks).Methods("GET")
	api.HandleFunc("/venues", s.handleGetVenues).Methods("GET")
	api.HandleFunc("/venues/{venue}/books/{symbol}", s.handleGetBook).Methods("GET")

	// Order entry
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/orders/replace", s.handleReplaceOrder).Methods("POST")

	// Order state
	api.HandleFunc("/orders/{session}/{clOrdId}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/parents/{id}", s.handleGetParent).Methods("GET")
	api.HandleFunc("/parents/{id}/children", s.handleGetChildren).Methods("GET")
	api.HandleFunc("/parents/{id}/reports", s.handleGetParentReports).Methods("GET")
	api.HandleFunc("/reports", s.handleGetReports).Methods("GET")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", s.pipe.Metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx ends. The hub runs for the same lifetime.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// Reference data
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	list := s.markets.List()
	response := make([]MarketInfo, len(list))
	for i, in := range list {
		response[i] = marketInfo(in)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	in, err := s.markets.Get(mux.Vars(r)["symbol"])
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", err.Error())
		return
	}
	respondJSON(w, marketInfo(in))
}

func (s *Server) handleGetVenues(w http.ResponseWriter, r *http.Request) {
	ids := s.exchange.IDs()
	response := make([]VenueInfo, 0, len(ids))
	for _, id := range ids {
		v, _ := s.exchange.Venue(id)
		h := v.StateHash()
		response = append(response, VenueInfo{ID: id, StateHash: hex.EncodeToString(h[:])})
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	v, ok := s.exchange.Venue(vars["venue"])
	if !ok {
		respondError(w, http.StatusNotFound, "venue not found", vars["venue"])
		return
	}
	if !s.markets.Exists(vars["symbol"]) {
		respondError(w, http.StatusNotFound, "market not found", vars["symbol"])
		return
	}
	depth, err := intParam(r, "depth", defaultDepth, maxDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}
	respondJSON(w, s.snapshot(v, vars["symbol"], depth))
}

// handleGetBooks returns the instrument's book on every venue.
func (s *Server) handleGetBooks(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if !s.markets.Exists(symbol) {
		respondError(w, http.StatusNotFound, "market not found", symbol)
		return
	}
	depth, err := intParam(r, "depth", defaultDepth, maxDepth)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid depth", err.Error())
		return
	}
	ids := s.exchange.IDs()
	response := make([]BookSnapshot, 0, len(ids))
	for _, id := range ids {
		v, _ := s.exchange.Venue(id)
		response = append(response, s.snapshot(v, symbol, depth))
	}
	respondJSON(w, response)
}

func (s *Server) snapshot(v *venue.Venue, symbol string, depth int) BookSnapshot {
	d := v.Depth(symbol, depth)
	snap := BookSnapshot{
		Venue:     d.Venue,
		Symbol:    d.Instrument,
		Bids:      make([]PriceLevel, len(d.Bids)),
		Asks:      make([]PriceLevel, len(d.Asks)),
		Timestamp: s.clock.NowMillis(),
	}
	for i, l := range d.Bids {
		snap.Bids[i] = PriceLevel{Price: core.FormatPrice(l.Price), Qty: l.Qty, Orders: l.Orders}
	}
	for i, l := range d.Asks {
		snap.Asks[i] = PriceLevel{Price: core.FormatPrice(l.Price), Qty: l.Qty, Orders: l.Orders}
	}
	return snap
}

// ==============================
// Order entry
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ev, err := req.bound(s.clock.MonoNanos())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	s.submit(w, "order", ev, req)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ev, err := req.bound(s.clock.MonoNanos())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cancel", err.Error())
		return
	}
	s.submit(w, "cancel", ev, req)
}

func (s *Server) handleReplaceOrder(w http.ResponseWriter, r *http.Request) {
	var req ReplaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ev, err := req.bound(s.clock.MonoNanos())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid replace", err.Error())
		return
	}
	s.submit(w, "replace", ev, req)
}

// submit offers ev to the pipeline. Acceptance only means the event is
// queued; its outcome arrives as execution reports.
func (s *Server) submit(w http.ResponseWriter, kind string, ev core.BoundEvent, req interface{}) {
	seq, err := s.pipe.Submit(ev)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "inbound full", err.Error())
		return
	}
	s.logRequest(kind, seq, req)
	respondStatus(w, http.StatusAccepted, SubmitOrderResponse{Status: "accepted", Seq: seq})
}

func (req SubmitOrderRequest) bound(ingressNs int64) (core.BoundNew, error) {
	side, ok := core.ParseSide(req.Side)
	if !ok {
		return core.BoundNew{}, fmt.Errorf("unknown side %q", req.Side)
	}
	ordType, ok := core.ParseOrdType(req.Type)
	if !ok {
		return core.BoundNew{}, fmt.Errorf("unknown order type %q", req.Type)
	}
	tif, ok := core.ParseTimeInForce(req.TIF)
	if !ok {
		return core.BoundNew{}, fmt.Errorf("unknown time in force %q", req.TIF)
	}
	var px int64
	if ordType == core.Limit {
		if req.Price == "" {
			return core.BoundNew{}, fmt.Errorf("limit order needs a price")
		}
		var err error
		if px, err = core.ParsePrice(req.Price); err != nil {
			return core.BoundNew{}, err
		}
	}
	return core.BoundNew{
		SessionKey: req.Session,
		ClOrdID:    req.ClOrdID,
		AccountID:  req.Account,
		Instrument: req.Symbol,
		Side:       side,
		Qty:        req.Qty,
		OrdType:    ordType,
		LimitPx:    px,
		TIF:        tif,
		ExpireAt:   req.ExpireAt,
		ExDest:     req.ExDest,
		IngressNs:  ingressNs,
	}, nil
}

// optionalSide accepts an empty side; cancels resolve by id alone.
func optionalSide(s string) (core.Side, error) {
	if s == "" {
		return 0, nil
	}
	side, ok := core.ParseSide(s)
	if !ok {
		return 0, fmt.Errorf("unknown side %q", s)
	}
	return side, nil
}

func (req CancelOrderRequest) bound(ingressNs int64) (core.BoundCancel, error) {
	side, err := optionalSide(req.Side)
	if err != nil {
		return core.BoundCancel{}, err
	}
	return core.BoundCancel{
		SessionKey:  req.Session,
		ClOrdID:     req.ClOrdID,
		OrigClOrdID: req.OrigClOrdID,
		Instrument:  req.Symbol,
		Side:        side,
		IngressNs:   ingressNs,
	}, nil
}

func (req ReplaceOrderRequest) bound(ingressNs int64) (core.BoundReplace, error) {
	side, err := optionalSide(req.Side)
	if err != nil {
		return core.BoundReplace{}, err
	}
	var px int64
	if req.Price != "" {
		if px, err = core.ParsePrice(req.Price); err != nil {
			return core.BoundReplace{}, err
		}
	}
	return core.BoundReplace{
		SessionKey:  req.Session,
		ClOrdID:     req.ClOrdID,
		OrigClOrdID: req.OrigClOrdID,
		Instrument:  req.Symbol,
		Side:        side,
		Qty:         req.Qty,
		LimitPx:     px,
		IngressNs:   ingressNs,
	}, nil
}

// ==============================
// Order state
// ==============================

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, ok := s.pipe.Sessions().Lookup(vars["session"], vars["clOrdId"])
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", vars["clOrdId"])
		return
	}
	s.respondParent(w, id)
}

func (s *Server) handleGetParent(w http.ResponseWriter, r *http.Request) {
	s.respondParent(w, mux.Vars(r)["id"])
}

// respondParent serves the live snapshot, falling back to the journal for
// parents that finished before a restart.
func (s *Server) respondParent(w http.ResponseWriter, id string) {
	st, ok := s.pipe.Parents().Lookup(id)
	if !ok && s.journal != nil {
		var err error
		st, ok, err = s.journal.LoadParent(id)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
			return
		}
	}
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	info := orderInfo(st)
	for _, c := range s.pipe.Children().ByParent(id) {
		info.Children = append(info.Children, childInfo(c))
	}
	respondJSON(w, info)
}

func (s *Server) handleGetChildren(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.pipe.Parents().Lookup(id); !ok {
		respondError(w, http.StatusNotFound, "order not found", id)
		return
	}
	children := s.pipe.Children().ByParent(id)
	response := make([]ChildInfo, len(children))
	for i, c := range children {
		response[i] = childInfo(c)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetParentReports(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotImplemented, "journal disabled", "")
		return
	}
	reports, err := s.journal.LoadReports(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, reportInfos(reports))
}

func (s *Server) handleGetReports(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotImplemented, "journal disabled", "")
		return
	}
	limit, err := intParam(r, "limit", defaultReports, maxReports)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err.Error())
		return
	}
	reports, err := s.journal.LoadRecentReports(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "journal read failed", err.Error())
		return
	}
	respondJSON(w, reportInfos(reports))
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, Status{
		LiveParents:  len(s.pipe.Parents().Live()),
		TotalParents: s.pipe.Parents().Len(),
		Venues:       s.exchange.IDs(),
		Markets:      len(s.markets.List()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func reportInfos(reports []core.ExecutionReport) []ReportInfo {
	out := make([]ReportInfo, len(reports))
	for i, r := range reports {
		out[i] = reportInfo(r)
	}
	return out
}

// intParam reads a positive query parameter, clamped to ceil.
func intParam(r *http.Request, name string, def, ceil int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	if n > ceil {
		n = ceil
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// logRequest appends an accepted request to the audit log.
func (s *Server) logRequest(kind string, seq uint64, req interface{}) {
	if s.audit == nil {
		return
	}
	entry := map[string]interface{}{
		"timestamp": s.clock.Now().Format(time.RFC3339Nano),
		"event":     kind,
		"seq":       seq,
		"data":      req,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		s.log.Warnw("audit_marshal_failed", "seq", seq, "err", err)
		return
	}

	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	s.audit.Write(append(line, '\n'))
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/roll"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/rollwatch/rollwatch/internal/symbols"
	"github.com/sirupsen/logrus"
)

// heartbeatMaxAge bounds how stale a heartbeat can be before the health
// endpoint reports the terminal link down.
const heartbeatMaxAge = 60 * time.Second

// Server is the authenticated HTTP boundary between the MT5 expert advisor
// and the cache/queue. It also exposes the operator alert-retry endpoint.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	cache      *Cache
	queue      *CommandQueue
	store      storage.Interface
	provider   marketdata.Provider
	calc       *roll.Calculator
	rollParams roll.Params
	mapper     *symbols.Mapper
	logger     *logrus.Logger
	port       int
	token      string
	allowed    []string
	quoteTTL   time.Duration
}

// ServerConfig carries the bridge HTTP settings.
type ServerConfig struct {
	Port       int
	Token      string
	AllowedIPs []string
	QuoteTTL   time.Duration
	RollParams roll.Params
}

// NewServer wires the bridge routes over the cache, queue, storage, the
// provider chain, and the roll calculator.
func NewServer(cfg ServerConfig, cache *Cache, queue *CommandQueue,
	store storage.Interface, provider marketdata.Provider, calc *roll.Calculator,
	logger *logrus.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		cache:      cache,
		queue:      queue,
		store:      store,
		provider:   provider,
		calc:       calc,
		rollParams: cfg.RollParams,
		mapper:     symbols.NewMapper(),
		logger:     logger,
		port:       cfg.Port,
		token:      cfg.Token,
		allowed:    cfg.AllowedIPs,
		quoteTTL:   cfg.QuoteTTL,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(s.authMiddleware)

	s.router.Post("/api/mt5/heartbeat", s.handleHeartbeat)
	s.router.Post("/api/mt5/quotes", s.handleQuotes)
	s.router.Post("/api/mt5/option_quotes", s.handleOptionQuotes)
	s.router.Get("/api/mt5/commands", s.handleCommands)
	s.router.Post("/api/mt5/execution_report", s.handleExecutionReport)
	s.router.Get("/api/mt5/health", s.handleHealth)

	s.router.Post("/api/alerts/{id}/retry", s.handleAlertRetry)
	s.router.Get("/api/positions/{id}/roll-options", s.handleRollOptions)
	s.router.Post("/api/commands/roll", s.handleEnqueueRoll)
	s.router.Get("/api/commands", s.handleListCommands)
}

// authMiddleware enforces the bearer token and optional IP allowlist on every
// route, health included: the payload names the terminal's account.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowed) > 0 && !s.ipAllowed(r) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.token {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) ipAllowed(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	for _, ip := range s.allowed {
		if ip == host {
			return true
		}
	}
	return false
}

// Start blocks serving HTTP until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting bridge server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

type heartbeatRequest struct {
	TerminalID    string  `json:"terminal_id"`
	AccountNumber string  `json:"account_number"`
	Broker        string  `json:"broker"`
	Build         string  `json:"build"`
	Timestamp     float64 `json:"timestamp"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TerminalID == "" {
		s.writeError(w, http.StatusBadRequest, "terminal_id is required")
		return
	}

	s.cache.SetHeartbeat(models.Heartbeat{
		TerminalID:    req.TerminalID,
		AccountNumber: req.AccountNumber,
		Broker:        req.Broker,
		Build:         req.Build,
		Ts:            epochTime(req.Timestamp),
	})

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type quoteRow struct {
	Symbol string   `json:"symbol"`
	Bid    *float64 `json:"bid"`
	Ask    *float64 `json:"ask"`
	Last   *float64 `json:"last"`
	Volume *float64 `json:"volume"`
	Ts     float64  `json:"ts"`
}

type quotesRequest struct {
	TerminalID    string     `json:"terminal_id"`
	AccountNumber string     `json:"account_number"`
	Quotes        []quoteRow `json:"quotes"`
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	var req quotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	accepted := 0
	for _, row := range req.Quotes {
		ok := s.cache.SetQuote(models.Quote{
			Symbol: row.Symbol,
			Bid:    row.Bid,
			Ask:    row.Ask,
			Last:   row.Last,
			Volume: row.Volume,
			Ts:     epochTime(row.Ts),
			Source: models.SourceMT5,
		})
		if ok {
			accepted++
		}
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

type optionQuoteRow struct {
	MT5Symbol string   `json:"mt5_symbol"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Last      *float64 `json:"last"`
	Volume    *float64 `json:"volume"`
	Ts        float64  `json:"ts"`
}

type optionQuotesRequest struct {
	TerminalID    string           `json:"terminal_id"`
	AccountNumber string           `json:"account_number"`
	OptionQuotes  []optionQuoteRow `json:"option_quotes"`
}

// handleOptionQuotes decodes each mt5_symbol into a contract identity.
// Per-row decode failures accumulate as mapping_errors without failing the
// batch.
func (s *Server) handleOptionQuotes(w http.ResponseWriter, r *http.Request) {
	var req optionQuotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	accepted := 0
	var mappingErrors []string
	for _, row := range req.OptionQuotes {
		decoded, err := s.mapper.Decode(row.MT5Symbol, 0)
		if err != nil {
			mappingErrors = append(mappingErrors, fmt.Sprintf("%s: %v", row.MT5Symbol, err))
			continue
		}

		ok := s.cache.SetOptionQuote(models.OptionQuote{
			Ticker:     decoded.Ticker,
			Strike:     decoded.Strike,
			OptionType: sideFromRef(decoded.Side),
			Expiration: decoded.Expiration,
			MT5Symbol:  decoded.Symbol,
			Bid:        row.Bid,
			Ask:        row.Ask,
			Last:       row.Last,
			Volume:     row.Volume,
			Ts:         epochTime(row.Ts),
		})
		if ok {
			accepted++
		}
	}

	resp := map[string]any{
		"accepted": accepted,
		"total":    len(req.OptionQuotes),
	}
	if len(mappingErrors) > 0 {
		resp["mapping_errors"] = mappingErrors
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	terminalID := r.URL.Query().Get("terminal_id")
	accountNumber := r.URL.Query().Get("account_number")
	maxCount := 0
	if v := r.URL.Query().Get("max_count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxCount = n
		}
	}

	commands := s.queue.Pending(terminalID, accountNumber, maxCount)
	if commands == nil {
		commands = []models.Command{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

type executionReportRequest struct {
	CommandID string         `json:"command_id"`
	Status    string         `json:"status"`
	OrderID   string         `json:"order_id"`
	Details   map[string]any `json:"details"`
}

func (s *Server) handleExecutionReport(w http.ResponseWriter, r *http.Request) {
	var req executionReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.CommandID == "" {
		s.writeError(w, http.StatusBadRequest, "command_id is required")
		return
	}

	s.queue.RecordExecutionReport(models.ExecutionReport{
		CommandID: req.CommandID,
		Status:    models.CommandStatus(strings.ToUpper(req.Status)),
		OrderID:   req.OrderID,
		Details:   req.Details,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleHealth aggregates terminal liveness and quote freshness:
// ok when both hold, degraded when one does, unhealthy when neither.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.cache.Snapshot(s.quoteTTL)
	hb, hbFresh := s.cache.LastHeartbeat(heartbeatMaxAge)
	quotesFresh := stats.FreshQuotes > 0 || stats.FreshOptionQuotes > 0

	status := "unhealthy"
	switch {
	case hbFresh && quotesFresh:
		status = "ok"
	case hbFresh || quotesFresh:
		status = "degraded"
	}

	heartbeat := map[string]any{"fresh": hbFresh}
	if hb != nil {
		heartbeat["terminal_id"] = hb.TerminalID
		heartbeat["account_number"] = hb.AccountNumber
		heartbeat["age_seconds"] = int(time.Since(hb.UpdatedAt).Seconds())
	}

	provider := map[string]any{"name": s.provider.Name(), "healthy": true}
	if err := s.provider.HealthCheck(r.Context()); err != nil {
		provider["healthy"] = false
		provider["error"] = err.Error()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"bridge_enabled":    true,
		"quote_ttl_seconds": int(s.quoteTTL.Seconds()),
		"heartbeat":         heartbeat,
		"quotes":            stats,
		"provider":          provider,
		"queue":             s.store.GetStatistics(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

// handleRollOptions computes ranked roll suggestions for an open position.
func (s *Server) handleRollOptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	position, err := s.store.GetPositionByID(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}
	asset, err := s.store.GetAssetByID(position.AssetID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	result, err := s.calc.Suggest(r.Context(), position, asset.Ticker, s.rollParams)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type enqueueRollRequest struct {
	PositionID    string  `json:"position_id"`
	TerminalID    string  `json:"terminal_id"`
	AccountNumber string  `json:"account_number"`
	NewStrike     float64 `json:"new_strike"`
	NewExpiration string  `json:"new_expiration"`
	Quantity      int     `json:"quantity"`
	LimitPrice    float64 `json:"limit_price"`
	MinNetCredit  float64 `json:"min_net_credit"`
	CreatedBy     string  `json:"created_by"`
}

// handleEnqueueRoll queues a ROLL_POSITION command: close the current leg,
// open the requested one.
func (s *Server) handleEnqueueRoll(w http.ResponseWriter, r *http.Request) {
	var req enqueueRollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PositionID == "" || req.NewStrike <= 0 || req.NewExpiration == "" {
		s.writeError(w, http.StatusBadRequest, "position_id, new_strike and new_expiration are required")
		return
	}

	position, err := s.store.GetPositionByID(req.PositionID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "position not found")
		return
	}
	asset, err := s.store.GetAssetByID(position.AssetID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "asset not found")
		return
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = position.Quantity
	}

	cmd := s.queue.Enqueue(models.Command{
		Type:          models.CommandRollPosition,
		TerminalID:    req.TerminalID,
		AccountNumber: req.AccountNumber,
		PositionID:    position.ID,
		CloseLeg: &models.CommandLeg{
			Ticker:     asset.Ticker,
			Side:       position.Side,
			Strike:     position.Strike,
			Expiration: position.Expiration.Format("2006-01-02"),
			Quantity:   quantity,
		},
		OpenLeg: &models.CommandLeg{
			Ticker:     asset.Ticker,
			Side:       position.Side,
			Strike:     req.NewStrike,
			Expiration: req.NewExpiration,
			Quantity:   quantity,
			LimitPrice: req.LimitPrice,
		},
		Constraints: &models.CommandConstraints{
			MinNetCredit: req.MinNetCredit,
		},
		CreatedBy: req.CreatedBy,
	})

	s.writeJSON(w, http.StatusCreated, map[string]any{"command": cmd})
}

// handleListCommands returns commands newest-first, optionally scoped to a
// creating user.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	commands := s.queue.List(r.URL.Query().Get("created_by"), limit)
	if commands == nil {
		commands = []models.Command{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": commands})
}

// handleAlertRetry re-queues a FAILED alert for delivery.
func (s *Server) handleAlertRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	alert, err := s.store.RetryFailedAlert(id)
	if err != nil {
		if storage.IsNotFound(err) {
			s.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"alert":  alert,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]any{"error": msg})
}

// epochTime converts a seconds-since-epoch float from the terminal, falling
// back to now for zero/absent values.
func epochTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// sideFromRef converts the mapper's side to the model enum.
func sideFromRef(ref symbols.OptionSideRef) models.OptionSide {
	if ref == symbols.Put {
		return models.SidePut
	}
	return models.SideCall
}

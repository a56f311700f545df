package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"invoicex/internal/config"
	"invoicex/internal/engine"
	"invoicex/internal/sink"
	"invoicex/pkg/types"
)

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	sink     *sink.Sink
	limiter  *rateLimiter
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg config.ServerConfig, eng *engine.Engine, snk *sink.Sink, logger *slog.Logger) *Handlers {
	h := &Handlers{
		cfg:     cfg,
		engine:  eng,
		sink:    snk,
		limiter: newRateLimiter(),
		logger:  logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg, r.Host)
		},
	}
	return h
}

type cancelRequest struct {
	OrderID uint64 `json:"order_id"`
	UserID  string `json:"user_id"`
}

// modifyRequest carries the replacement parameters. Zero values leave the
// corresponding parameter unchanged.
type modifyRequest struct {
	OrderID     uint64          `json:"order_id"`
	UserID      string          `json:"user_id"`
	NewPrice    decimal.Decimal `json:"new_price"`
	NewQuantity decimal.Decimal `json:"new_quantity"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// statusFromError maps engine errors to HTTP statuses and wire codes.
func statusFromError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidParams):
		return http.StatusBadRequest, "invalid_params"
	case errors.Is(err, engine.ErrPairUnknown):
		return http.StatusNotFound, "pair_unknown"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, engine.ErrAlreadyTerminal):
		return http.StatusConflict, "already_terminal"
	case errors.Is(err, engine.ErrEngineClosed):
		return http.StatusServiceUnavailable, "engine_closed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, code := statusFromError(err)
	h.writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func (h *Handlers) badRequest(w http.ResponseWriter, msg string) {
	h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_params", Message: msg})
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleSubmitOrder accepts an order draft and returns the submit result:
// the order snapshot plus any trades executed synchronously.
func (h *Handlers) HandleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var draft types.OrderDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.badRequest(w, "malformed body: "+err.Error())
		return
	}

	res, err := h.engine.Submit(draft)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleCancelOrder cancels a resting or parked order on behalf of its owner.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed body: "+err.Error())
		return
	}

	order, err := h.engine.Cancel(req.OrderID, req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// HandleModifyOrder replaces an order with new price and/or quantity. The
// replacement is a fresh submission and loses time priority.
func (h *Handlers) HandleModifyOrder(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "malformed body: "+err.Error())
		return
	}

	res, err := h.engine.Modify(req.OrderID, req.UserID, req.NewPrice, req.NewQuantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

// HandleUserOrders lists every order the user has submitted, newest first.
func (h *Handlers) HandleUserOrders(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		h.badRequest(w, "user is required")
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.UserOrders(user))
}

// HandleBook returns the aggregated book for one pair. depth is optional;
// omitted selects the configured default.
func (h *Handlers) HandleBook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pair := q.Get("pair")
	if pair == "" {
		h.badRequest(w, "pair is required")
		return
	}

	depth := -1
	if ds := q.Get("depth"); ds != "" {
		n, err := strconv.Atoi(ds)
		if err != nil {
			h.badRequest(w, "depth must be an integer")
			return
		}
		depth = n
	}

	snap, err := h.engine.Book(pair, depth)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleTrades returns recent trades, newest first. With a pair it reads
// that pair's history; without it reads the engine-wide ring.
func (h *Handlers) HandleTrades(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 0
	if ls := q.Get("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil {
			h.badRequest(w, "limit must be an integer")
			return
		}
		limit = n
	}

	pair := q.Get("pair")
	if pair == "" {
		h.writeJSON(w, http.StatusOK, h.engine.RecentTrades(limit))
		return
	}

	trades, err := h.engine.Trades(pair, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trades)
}

// HandleStats returns per-pair rolling statistics with engine-wide totals.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.MarketStats())
}

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"invoicex/internal/config"
	"invoicex/internal/engine"
	"invoicex/internal/sink"
	"invoicex/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestAPI builds a server around a fresh engine without starting the
// engine's background loops; matching is synchronous so handlers work.
func newTestAPI(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()

	cfg := config.Default()
	logger := testLogger()
	snk := sink.New(cfg.Stream.QueueSize, logger, nil)
	eng := engine.New(cfg.Engine, logger, snk)
	srv := NewServer(cfg.Server, eng, snk, nil, logger)

	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)
	return ts, eng
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func draft(user string, side types.Side, qty, price string) types.OrderDraft {
	return types.OrderDraft{
		UserID:      user,
		Pair:        "invoice-42",
		Side:        side,
		Type:        types.OrderTypeLimit,
		Quantity:    decimal.RequireFromString(qty),
		Price:       decimal.RequireFromString(price),
		TimeInForce: types.GTC,
	}
}

func TestHandleSubmitOrder(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	resp := postJSON(t, ts.URL+"/api/orders", draft("alice", types.SELL, "5", "101"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	res := decodeBody[types.SubmitResult](t, resp)
	if res.Order.ID != 1 {
		t.Errorf("order id = %d, want 1", res.Order.ID)
	}
	if res.Order.Status != types.StatusPending {
		t.Errorf("status = %s, want %s", res.Order.Status, types.StatusPending)
	}

	// Crossing buy executes synchronously and reports the trade
	resp = postJSON(t, ts.URL+"/api/orders", draft("bob", types.BUY, "5", "101"))
	res = decodeBody[types.SubmitResult](t, resp)
	if got, want := len(res.Trades), 1; got != want {
		t.Fatalf("trades = %d, want %d", got, want)
	}
	if !res.Trades[0].Price.Equal(decimal.RequireFromString("101")) {
		t.Errorf("trade price = %s, want 101", res.Trades[0].Price)
	}
	if res.Order.Status != types.StatusFilled {
		t.Errorf("taker status = %s, want %s", res.Order.Status, types.StatusFilled)
	}
}

func TestHandleSubmitOrderRejectsInvalid(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	bad := draft("alice", types.BUY, "5", "100")
	bad.Quantity = decimal.RequireFromString("-1")

	resp := postJSON(t, ts.URL+"/api/orders", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	er := decodeBody[errorResponse](t, resp)
	if er.Error != "invalid_params" {
		t.Errorf("error code = %q, want invalid_params", er.Error)
	}
}

func TestHandleSubmitOrderRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	resp, err := http.Post(ts.URL+"/api/orders", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()
}

func TestHandleCancelOrder(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	res := decodeBody[types.SubmitResult](t, postJSON(t, ts.URL+"/api/orders", draft("alice", types.BUY, "5", "100")))

	// Wrong owner
	resp := postJSON(t, ts.URL+"/api/orders/cancel", cancelRequest{OrderID: res.Order.ID, UserID: "mallory"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign cancel status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
	resp.Body.Close()

	// Unknown order
	resp = postJSON(t, ts.URL+"/api/orders/cancel", cancelRequest{OrderID: 999, UserID: "alice"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown cancel status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()

	// Owner succeeds
	resp = postJSON(t, ts.URL+"/api/orders/cancel", cancelRequest{OrderID: res.Order.ID, UserID: "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	order := decodeBody[types.Order](t, resp)
	if order.Status != types.StatusCancelled {
		t.Errorf("status = %s, want %s", order.Status, types.StatusCancelled)
	}

	// Repeat conflicts
	resp = postJSON(t, ts.URL+"/api/orders/cancel", cancelRequest{OrderID: res.Order.ID, UserID: "alice"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("repeat cancel status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
	resp.Body.Close()
}

func TestHandleModifyOrder(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	res := decodeBody[types.SubmitResult](t, postJSON(t, ts.URL+"/api/orders", draft("alice", types.BUY, "5", "100")))

	resp := postJSON(t, ts.URL+"/api/orders/modify", modifyRequest{
		OrderID:     res.Order.ID,
		UserID:      "alice",
		NewQuantity: decimal.RequireFromString("8"),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("modify status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	mod := decodeBody[types.SubmitResult](t, resp)
	if mod.Order.ID == res.Order.ID {
		t.Error("replacement should carry a new id")
	}
	if !mod.Order.Quantity.Equal(decimal.RequireFromString("8")) {
		t.Errorf("quantity = %s, want 8", mod.Order.Quantity)
	}
}

func TestHandleBook(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	postJSON(t, ts.URL+"/api/orders", draft("alice", types.BUY, "5", "100")).Body.Close()
	postJSON(t, ts.URL+"/api/orders", draft("bob", types.SELL, "3", "105")).Body.Close()

	resp, err := http.Get(ts.URL + "/api/book?pair=invoice-42")
	if err != nil {
		t.Fatalf("GET book: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("book status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	snap := decodeBody[types.BookSnapshot](t, resp)
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("levels = %d bids, %d asks, want 1 and 1", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Price.Equal(decimal.RequireFromString("100")) {
		t.Errorf("best bid = %s, want 100", snap.Bids[0].Price)
	}

	// Unknown pair
	resp, err = http.Get(ts.URL + "/api/book?pair=nope")
	if err != nil {
		t.Fatalf("GET book: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown pair status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	er := decodeBody[errorResponse](t, resp)
	if er.Error != "pair_unknown" {
		t.Errorf("error code = %q, want pair_unknown", er.Error)
	}

	// Missing pair parameter
	resp, err = http.Get(ts.URL + "/api/book")
	if err != nil {
		t.Fatalf("GET book: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing pair status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()
}

func TestHandleTrades(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	postJSON(t, ts.URL+"/api/orders", draft("alice", types.SELL, "5", "100")).Body.Close()
	postJSON(t, ts.URL+"/api/orders", draft("bob", types.BUY, "5", "100")).Body.Close()

	resp, err := http.Get(ts.URL + "/api/trades?pair=invoice-42")
	if err != nil {
		t.Fatalf("GET trades: %v", err)
	}
	trades := decodeBody[[]types.Trade](t, resp)
	if got, want := len(trades), 1; got != want {
		t.Fatalf("pair trades = %d, want %d", got, want)
	}

	// Without a pair the engine-wide ring answers
	resp, err = http.Get(ts.URL + "/api/trades")
	if err != nil {
		t.Fatalf("GET trades: %v", err)
	}
	trades = decodeBody[[]types.Trade](t, resp)
	if got, want := len(trades), 1; got != want {
		t.Fatalf("recent trades = %d, want %d", got, want)
	}
}

func TestHandleUserOrdersAndStats(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	postJSON(t, ts.URL+"/api/orders", draft("alice", types.BUY, "5", "100")).Body.Close()
	postJSON(t, ts.URL+"/api/orders", draft("alice", types.BUY, "2", "99")).Body.Close()

	resp, err := http.Get(ts.URL + "/api/orders?user=alice")
	if err != nil {
		t.Fatalf("GET orders: %v", err)
	}
	orders := decodeBody[[]types.Order](t, resp)
	if got, want := len(orders), 2; got != want {
		t.Fatalf("user orders = %d, want %d", got, want)
	}
	if orders[0].ID != 2 {
		t.Errorf("newest order id = %d, want 2", orders[0].ID)
	}

	resp, err = http.Get(ts.URL + "/api/orders")
	if err != nil {
		t.Fatalf("GET orders: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing user status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	report := decodeBody[types.StatsReport](t, resp)
	if report.TotalPairs != 1 {
		t.Errorf("total pairs = %d, want 1", report.TotalPairs)
	}
	if _, ok := report.Pairs["invoice-42"]; !ok {
		t.Error("stats missing invoice-42")
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	ts, _ := newTestAPI(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.ServerConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.ServerConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://ivx.internal:8080",
			cfg:     config.ServerConfig{},
			reqHost: "ivx.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestStatusFromError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		errConv error
		status  int
		code    string
	}{
		{engine.ErrInvalidParams, http.StatusBadRequest, "invalid_params"},
		{engine.ErrPairUnknown, http.StatusNotFound, "pair_unknown"},
		{engine.ErrNotFound, http.StatusNotFound, "not_found"},
		{engine.ErrForbidden, http.StatusForbidden, "forbidden"},
		{engine.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
		{engine.ErrEngineClosed, http.StatusServiceUnavailable, "engine_closed"},
	}
	for _, tt := range tests {
		wrapped := fmt.Errorf("context: %w", tt.errConv)
		status, code := statusFromError(wrapped)
		if status != tt.status || code != tt.code {
			t.Errorf("statusFromError(%v) = %d %q, want %d %q", tt.errConv, status, code, tt.status, tt.code)
		}
	}
}

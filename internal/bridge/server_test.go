package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rollwatch/rollwatch/internal/marketdata"
	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/rollwatch/rollwatch/internal/roll"
	"github.com/rollwatch/rollwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

const testToken = "secret-token"

func newTestServer(t *testing.T) (*Server, *Cache, *CommandQueue, *storage.MockStorage) {
	t.Helper()

	cache := NewCache()
	queue := NewCommandQueue()
	store := storage.NewMockStorage()
	calc := roll.NewCalculator(marketdata.NewMockProvider(), cache, 10*time.Second)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	srv := NewServer(ServerConfig{
		Port:     8081,
		Token:    testToken,
		QuoteTTL: 10 * time.Second,
	}, cache, queue, store, marketdata.NewMockProvider(), calc, logger)
	return srv, cache, queue, store
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestAuthRequired(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/mt5/heartbeat",
		map[string]any{"terminal_id": "t1"}, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/mt5/heartbeat", bytes.NewBufferString("{}"))
	req.Header.Set("Authorization", "Bearer wrong")
	rec2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec2.Code)
	}

	// Health names the terminal's account, so it is not exempt.
	rec3 := doRequest(t, srv, http.MethodGet, "/api/mt5/health", nil, false)
	if rec3.Code != http.StatusUnauthorized {
		t.Errorf("health without token: status = %d, want 401", rec3.Code)
	}
	rec4 := doRequest(t, srv, http.MethodGet, "/api/mt5/health", nil, true)
	if rec4.Code != http.StatusOK {
		t.Errorf("health with token: status = %d, want 200", rec4.Code)
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	srv, cache, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/mt5/heartbeat", map[string]any{
		"terminal_id": "term-1", "account_number": "12345", "broker": "XP",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	hb, ok := cache.LastHeartbeat(0)
	if !ok || hb.TerminalID != "term-1" || hb.AccountNumber != "12345" {
		t.Errorf("heartbeat = %+v", hb)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/mt5/heartbeat", map[string]any{}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing terminal_id: status = %d, want 400", rec.Code)
	}
}

func TestQuotesEndpoint(t *testing.T) {
	srv, cache, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/mt5/quotes", map[string]any{
		"terminal_id": "term-1",
		"quotes": []map[string]any{
			{"symbol": "VALE3", "bid": 64.1, "ask": 64.3, "last": 64.2},
			{"symbol": ""}, // dropped
		},
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["accepted"]; got != float64(1) {
		t.Errorf("accepted = %v, want 1", got)
	}

	q, ok := cache.LatestQuote("VALE3", 10*time.Second)
	if !ok {
		t.Fatal("quote not cached")
	}
	if price, _ := q.Price(); price != 64.2 {
		t.Errorf("price = %v", price)
	}
}

func TestOptionQuotesEndpointCollectsMappingErrors(t *testing.T) {
	srv, cache, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/mt5/option_quotes", map[string]any{
		"option_quotes": []map[string]any{
			{"mt5_symbol": "VALEI6350", "bid": 1.7, "ask": 1.9},
			{"mt5_symbol": "garbage!", "bid": 1.0, "ask": 1.2},
		},
	}, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["accepted"] != float64(1) || body["total"] != float64(2) {
		t.Errorf("accepted/total = %v/%v, want 1/2", body["accepted"], body["total"])
	}
	errs, ok := body["mapping_errors"].([]any)
	if !ok || len(errs) != 1 {
		t.Errorf("mapping_errors = %v, want one entry", body["mapping_errors"])
	}

	if n := len(cache.FreshOptionQuotes(10 * time.Second)); n != 1 {
		t.Errorf("cached option quotes = %d, want 1", n)
	}
}

func TestCommandPollAndExecutionReport(t *testing.T) {
	srv, _, queue, _ := newTestServer(t)
	queue.Enqueue(models.Command{ID: "cmd-1", Type: models.CommandRollPosition})

	rec := doRequest(t, srv, http.MethodGet, "/api/mt5/commands?terminal_id=term-1", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	cmds, _ := decodeBody(t, rec)["commands"].([]any)
	if len(cmds) != 1 {
		t.Fatalf("commands = %v, want 1", cmds)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/mt5/execution_report", map[string]any{
		"command_id": "cmd-1", "status": "filled", "order_id": "ord-9",
	}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("report status = %d body = %s", rec.Code, rec.Body.String())
	}

	cmd, _ := queue.Get("cmd-1")
	if cmd.Status != models.CommandFilled {
		t.Errorf("status = %q, want FILLED (case-insensitive report)", cmd.Status)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/mt5/commands", nil, true)
	cmds, _ = decodeBody(t, rec)["commands"].([]any)
	if len(cmds) != 0 {
		t.Errorf("filled command still dispatched: %v", cmds)
	}
}

func TestHealthAggregation(t *testing.T) {
	srv, cache, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/mt5/health", nil, true)
	if got := decodeBody(t, rec)["status"]; got != "unhealthy" {
		t.Errorf("empty cache: status = %v, want unhealthy", got)
	}

	cache.SetHeartbeat(models.Heartbeat{TerminalID: "term-1"})
	rec = doRequest(t, srv, http.MethodGet, "/api/mt5/health", nil, true)
	if got := decodeBody(t, rec)["status"]; got != "degraded" {
		t.Errorf("heartbeat only: status = %v, want degraded", got)
	}

	last := 64.2
	cache.SetQuote(models.Quote{Symbol: "VALE3", Last: &last})
	rec = doRequest(t, srv, http.MethodGet, "/api/mt5/health", nil, true)
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("heartbeat + quotes: status = %v, want ok", body["status"])
	}
	if _, ok := body["queue"]; !ok {
		t.Error("health payload should include queue statistics")
	}

	provider, ok := body["provider"].(map[string]any)
	if !ok {
		t.Fatalf("health payload should include provider health, got %v", body["provider"])
	}
	if provider["name"] != "mock" || provider["healthy"] != true {
		t.Errorf("provider health = %v, want healthy mock", provider)
	}
}

func TestAlertRetryEndpoint(t *testing.T) {
	srv, _, _, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/alerts/nope/retry", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert: status = %d, want 404", rec.Code)
	}

	alert, err := store.CreateAlert(models.Alert{AccountID: "acct-1", Reason: models.ReasonManual})
	if err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	// PENDING alerts are not retryable.
	rec = doRequest(t, srv, http.MethodPost, "/api/alerts/"+alert.ID+"/retry", nil, true)
	if rec.Code != http.StatusConflict {
		t.Errorf("pending alert: status = %d, want 409", rec.Code)
	}

	if err := store.UpdateAlertStatus(alert.ID, models.AlertProcessing, ""); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateAlertStatus(alert.ID, models.AlertFailed, "provider down"); err != nil {
		t.Fatal(err)
	}
	rec = doRequest(t, srv, http.MethodPost, "/api/alerts/"+alert.ID+"/retry", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed alert retry: status = %d body = %s", rec.Code, rec.Body.String())
	}

	got, err := store.GetAlertByID(alert.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.AlertPending {
		t.Errorf("status = %q, want PENDING after retry", got.Status)
	}
}

func TestEnqueueRollEndpoint(t *testing.T) {
	srv, _, queue, store := newTestServer(t)

	asset, _ := store.Inner.UpsertAsset(models.Asset{Ticker: "VALE3"})
	pos, _ := store.Inner.UpsertPosition(models.Position{
		AccountID:  "acct-1",
		AssetID:    asset.ID,
		Side:       models.SidePut,
		Strike:     60,
		Expiration: time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		Quantity:   10,
		Status:     models.PositionOpen,
	})

	rec := doRequest(t, srv, http.MethodPost, "/api/commands/roll", map[string]any{
		"position_id":    pos.ID,
		"new_strike":     57.5,
		"new_expiration": "2026-10-16",
		"created_by":     "user-1",
	}, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}

	cmds := queue.List("user-1", 0)
	if len(cmds) != 1 {
		t.Fatalf("queued commands = %d, want 1", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Type != models.CommandRollPosition {
		t.Errorf("type = %q", cmd.Type)
	}
	if cmd.CloseLeg == nil || cmd.CloseLeg.Strike != 60 || cmd.CloseLeg.Quantity != 10 {
		t.Errorf("close leg = %+v", cmd.CloseLeg)
	}
	if cmd.OpenLeg == nil || cmd.OpenLeg.Strike != 57.5 || cmd.OpenLeg.Expiration != "2026-10-16" {
		t.Errorf("open leg = %+v", cmd.OpenLeg)
	}

	// Missing fields are rejected before touching storage.
	rec = doRequest(t, srv, http.MethodPost, "/api/commands/roll", map[string]any{
		"position_id": pos.ID,
	}, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("incomplete request: status = %d, want 400", rec.Code)
	}
}

func TestRollOptionsEndpoint(t *testing.T) {
	srv, _, _, store := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/positions/nope/roll-options", nil, true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown position: status = %d, want 404", rec.Code)
	}

	asset, _ := store.Inner.UpsertAsset(models.Asset{Ticker: "VALE3"})
	pos, _ := store.Inner.UpsertPosition(models.Position{
		AccountID:  "acct-1",
		AssetID:    asset.ID,
		Side:       models.SidePut,
		Strike:     60,
		Expiration: time.Now().UTC().AddDate(0, 0, 20),
		Quantity:   10,
		AvgPremium: 1.5,
		Status:     models.PositionOpen,
	})

	rec = doRequest(t, srv, http.MethodGet, "/api/positions/"+pos.ID+"/roll-options", nil, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

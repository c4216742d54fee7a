package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvrvsimi/openbook-dex/domain/market"
	"github.com/dvrvsimi/openbook-dex/infra/journal"
	"github.com/dvrvsimi/openbook-dex/infra/outbox"
	"github.com/dvrvsimi/openbook-dex/infra/regionstore"
	"github.com/dvrvsimi/openbook-dex/infra/sequence"
	"github.com/dvrvsimi/openbook-dex/pkg/logger"
	"github.com/dvrvsimi/openbook-dex/service"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	journalDir := t.TempDir()
	j, err := journal.Open(journal.Config{Dir: journalDir})
	require.NoError(t, err)
	store, err := regionstore.Open(t.TempDir())
	require.NoError(t, err)
	ob, err := outbox.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = j.Close()
		_ = store.Close()
		_ = ob.Close()
	})

	svc, err := service.Restore(market.Params{
		Market: market.Address{1}, BaseVault: market.Address{2}, QuoteVault: market.Address{3},
		BaseDecimals: 6, QuoteDecimals: 6,
		Caps: market.Capacities{BookNodes: 64, Requests: 8, Events: 32, Slots: 8},
	}, journalDir, service.Deps{
		Journal: j, Store: store, Outbox: ob,
		Seq: sequence.New(0), Log: logger.NewNop(),
	})
	require.NoError(t, err)
	return New(svc, logger.NewNop())
}

func postJSON(t *testing.T, s *Server, path string, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest("POST", path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	res, err := s.app.Test(req)
	require.NoError(t, err)
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func getJSON(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	res, err := s.app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func ownerHex(n byte) string {
	return market.Address{n}.String()
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	code, body := getJSON(t, s, "/health")
	require.Equal(t, 200, code)
	require.Equal(t, "ok", body["status"])
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, _ := postJSON(t, s, "/credit", fmt.Sprintf(
		`{"owner_slot":0,"owner":"%s","quote":10000}`, ownerHex(10)))
	require.Equal(t, 200, code)

	code, _ = postJSON(t, s, "/orders/", fmt.Sprintf(
		`{"side":"bid","owner_slot":0,"owner":"%s","price":100,"quantity":5}`, ownerHex(10)))
	require.Equal(t, 200, code)

	code, body := getJSON(t, s, "/depth?side=bid")
	require.Equal(t, 200, code)
	levels := body["levels"].([]any)
	require.Len(t, levels, 1)
	level := levels[0].(map[string]any)
	require.Equal(t, float64(100), level["price"])
	require.Equal(t, float64(5), level["quantity"])

	code, body = getJSON(t, s, "/orders/0")
	require.Equal(t, 200, code)
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)

	code, stats := getJSON(t, s, "/stats")
	require.Equal(t, 200, code)
	require.Equal(t, float64(1), stats["bid_count"])
}

func TestQueuedSubmissionAccepted(t *testing.T) {
	s := newTestServer(t)
	postJSON(t, s, "/credit", fmt.Sprintf(`{"owner_slot":0,"owner":"%s","quote":10000}`, ownerHex(10)))

	code, body := postJSON(t, s, "/orders/", fmt.Sprintf(
		`{"side":"bid","owner_slot":0,"owner":"%s","price":100,"quantity":1,"queued":true}`, ownerHex(10)))
	require.Equal(t, 202, code)
	require.Equal(t, true, body["queued"])

	_, stats := getJSON(t, s, "/stats")
	require.Equal(t, float64(1), stats["pending_requests"])
}

func TestValidationMapsToBadRequest(t *testing.T) {
	s := newTestServer(t)

	code, _ := postJSON(t, s, "/orders/", `{`)
	require.Equal(t, 400, code)

	code, _ = postJSON(t, s, "/orders/", fmt.Sprintf(
		`{"side":"sideways","owner_slot":0,"owner":"%s","price":1,"quantity":1}`, ownerHex(10)))
	require.Equal(t, 400, code)

	// Insufficient funds is a validation failure.
	code, body := postJSON(t, s, "/orders/", fmt.Sprintf(
		`{"side":"bid","owner_slot":0,"owner":"%s","price":100,"quantity":100}`, ownerHex(10)))
	require.Equal(t, 400, code)
	require.Equal(t, "validation", body["code"])
}

func TestCancelUnknownOrderIsNotFound(t *testing.T) {
	s := newTestServer(t)
	code, _ := postJSON(t, s, "/orders/cancel",
		`{"side":"bid","owner_slot":0,"order_id":"00000000000000640000000000000001"}`)
	require.Equal(t, 404, code)
}

func TestSettleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	postJSON(t, s, "/credit", fmt.Sprintf(`{"owner_slot":0,"owner":"%s","base":3,"quote":70}`, ownerHex(10)))

	code, body := postJSON(t, s, "/settle/0", "")
	require.Equal(t, 200, code)
	require.Equal(t, float64(3), body["base"])
	require.Equal(t, float64(70), body["quote"])
}

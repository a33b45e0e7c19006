package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/core"
	"subledger/core/genesis"
	"subledger/native/billing"
	"subledger/storage"
)

const (
	testToken = "secret-test-token"
	adminHex  = "0x00000000000000000000000000000000000000AA"
	aliceHex  = "0x0000000000000000000000000000000000000001"
	bobHex    = "0x0000000000000000000000000000000000000002"
)

func newTestServer(t *testing.T) (*Server, *core.Node) {
	t.Helper()
	params := billing.Params{
		MinimumFee:       big.NewInt(1),
		RolloverInterval: billing.DefaultRolloverInterval,
		Admin:            [20]byte{0xAA},
	}
	spec := &genesis.Spec{Accounts: []genesis.Allocation{
		{Address: aliceHex, Balance: "1000000"},
	}}
	node, err := core.NewNode(storage.NewMemDB(), params, spec)
	require.NoError(t, err)

	t.Setenv(AuthTokenEnv, testToken)
	return NewServer(node, RateLimit{}), node
}

func rpcCall(t *testing.T, srv *Server, token, method string, params interface{}) (*httptest.ResponseRecorder, RPCResponse) {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{},
	}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	encoded, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(encoded))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func registerProviders(t *testing.T, srv *Server) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, 3)
	for i := 0; i < 3; i++ {
		_, resp := rpcCall(t, srv, testToken, "billing_registerProvider", registerProviderParams{
			Caller:          bobHex,
			RegistrationKey: fmt.Sprintf("provider-%d", i),
			Fee:             "100",
		})
		require.Nil(t, resp.Error)
		result := resp.Result.(map[string]interface{})
		ids = append(ids, uint64(result["id"].(float64)))
	}
	return ids
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := rpcCall(t, srv, "", "billing_registerProvider", registerProviderParams{
		Caller: bobHex, RegistrationKey: "k", Fee: "100",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, resp.Error)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	rec, resp = rpcCall(t, srv, "wrong-token", "billing_rollover", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)
}

func TestQueriesNeedNoAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := rpcCall(t, srv, "", "billing_accountBalance", addressParams{Address: aliceHex})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "1000000", result["balance"])
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := rpcCall(t, srv, "", "billing_bogus", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMalformedRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, codeParseError, resp.Error.Code)

	req = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderLifecycleOverRPC(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := registerProviders(t, srv)

	_, resp := rpcCall(t, srv, "", "billing_getProvider", idParams{ID: ids[0]})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, true, result["active"])
	require.Equal(t, "100", result["fee"])

	_, resp = rpcCall(t, srv, testToken, "billing_updateFee", updateFeeParams{
		Caller: bobHex, ID: ids[0], Fee: "150",
	})
	require.Nil(t, resp.Error)

	_, resp = rpcCall(t, srv, testToken, "billing_removeProvider", actorParams{
		Caller: bobHex, ID: ids[0],
	})
	require.Nil(t, resp.Error)

	rec, resp := rpcCall(t, srv, "", "billing_getProvider", idParams{ID: ids[0]})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, codeBillingNotFound, resp.Error.Code)
}

func TestSubscriberLifecycleOverRPC(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := registerProviders(t, srv)

	_, resp := rpcCall(t, srv, testToken, "billing_registerSubscriber", registerSubscriberParams{
		Caller: aliceHex, Deposit: "600", Plan: "premium", Providers: ids,
	})
	require.Nil(t, resp.Error)
	subID := uint64(resp.Result.(map[string]interface{})["id"].(float64))
	require.Greater(t, subID, billing.MaxProviderID)

	_, resp = rpcCall(t, srv, testToken, "billing_deposit", depositParams{
		Caller: aliceHex, ID: subID, Amount: "400",
	})
	require.Nil(t, resp.Error)

	_, resp = rpcCall(t, srv, "", "billing_getSubscriber", idParams{ID: subID})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	require.Equal(t, "1000", result["balance"])
	require.Equal(t, "premium", result["plan"])
	require.Equal(t, false, result["paused"])

	_, resp = rpcCall(t, srv, "", "billing_vaultBalance", nil)
	require.Nil(t, resp.Error)
	require.Equal(t, "1000", resp.Result.(map[string]interface{})["balance"])

	_, resp = rpcCall(t, srv, testToken, "billing_pauseSubscription", actorParams{
		Caller: aliceHex, ID: subID,
	})
	require.Nil(t, resp.Error)

	rec, resp := rpcCall(t, srv, testToken, "billing_pauseSubscription", actorParams{
		Caller: aliceHex, ID: subID,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeBillingConflict, resp.Error.Code)
}

func TestInsufficientDepositOverRPC(t *testing.T) {
	srv, _ := newTestServer(t)
	ids := registerProviders(t, srv)

	rec, resp := rpcCall(t, srv, testToken, "billing_registerSubscriber", registerSubscriberParams{
		Caller: aliceHex, Deposit: "599", Plan: "basic", Providers: ids,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeBillingConflict, resp.Error.Code)
}

func TestRolloverTooEarlyOverRPC(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := rpcCall(t, srv, testToken, "billing_rollover", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, codeBillingTooEarly, resp.Error.Code)
}

func TestInvalidAddressParam(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, resp := rpcCall(t, srv, testToken, "billing_registerProvider", registerProviderParams{
		Caller: "not-an-address", RegistrationKey: "k", Fee: "100",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestRateLimiting(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.limit = RateLimit{RequestsPerMinute: 60, Burst: 2}

	var limited bool
	for i := 0; i < 5; i++ {
		rec, _ := rpcCall(t, srv, "", "billing_vaultBalance", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	require.True(t, limited, "expected the burst to exhaust the limiter")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

package billing

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"subledger/core"
	"subledger/core/genesis"
	nativebilling "subledger/native/billing"
	"subledger/rpc"
	"subledger/storage"
)

const (
	testToken = "sdk-test-token"
	aliceHex  = "0x0000000000000000000000000000000000000001"
	bobHex    = "0x0000000000000000000000000000000000000002"
)

func newTestBackend(t *testing.T) *httptest.Server {
	t.Helper()
	params := nativebilling.Params{
		MinimumFee:       big.NewInt(1),
		RolloverInterval: nativebilling.DefaultRolloverInterval,
		Admin:            [20]byte{0xAA},
	}
	spec := &genesis.Spec{Accounts: []genesis.Allocation{
		{Address: aliceHex, Balance: "1000000"},
	}}
	node, err := core.NewNode(storage.NewMemDB(), params, spec)
	require.NoError(t, err)

	t.Setenv(rpc.AuthTokenEnv, testToken)
	backend := httptest.NewServer(rpc.NewServer(node, rpc.RateLimit{}).Router())
	t.Cleanup(backend.Close)
	return backend
}

func TestClientProviderAndSubscriberFlow(t *testing.T) {
	backend := newTestBackend(t)
	client := New(backend.URL, WithAuthToken(testToken))
	ctx := context.Background()

	ids := make([]uint64, 0, 3)
	for _, key := range []string{"p1", "p2", "p3"} {
		id, err := client.RegisterProvider(ctx, bobHex, key, "100")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	provider, err := client.GetProvider(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, provider.Active)
	require.Equal(t, "100", provider.Fee)

	subID, err := client.RegisterSubscriber(ctx, aliceHex, "600", "basic", ids)
	require.NoError(t, err)

	require.NoError(t, client.Deposit(ctx, aliceHex, subID, "200"))

	subscriber, err := client.GetSubscriber(ctx, subID)
	require.NoError(t, err)
	require.Equal(t, "800", subscriber.Balance)
	require.Equal(t, ids, subscriber.Providers)

	vault, err := client.VaultBalance(ctx)
	require.NoError(t, err)
	require.Equal(t, "800", vault)

	balance, err := client.AccountBalance(ctx, aliceHex)
	require.NoError(t, err)
	require.Equal(t, "999200", balance)
}

func TestClientSurfacesRPCErrors(t *testing.T) {
	backend := newTestBackend(t)
	client := New(backend.URL, WithAuthToken(testToken))
	ctx := context.Background()

	_, err := client.GetProvider(ctx, 42)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.NotZero(t, rpcErr.Code)

	// Rollover immediately after node init is rejected as too early.
	_, err = client.Rollover(ctx)
	require.Error(t, err)
}

func TestClientWithoutTokenIsRejected(t *testing.T) {
	backend := newTestBackend(t)
	client := New(backend.URL)
	ctx := context.Background()

	_, err := client.RegisterProvider(ctx, bobHex, "k", "100")
	var rpcErr *Error
	require.True(t, errors.As(err, &rpcErr))
}

package core

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"subledger/core/events"
	"subledger/core/genesis"
	"subledger/native/billing"
	"subledger/storage"
)

type captureSink struct {
	events []events.Event
}

func (c *captureSink) Emit(evt events.Event) { c.events = append(c.events, evt) }

var (
	nodeAdmin = [20]byte{0xAA}
	alice     = [20]byte{19: 0x01}
	bob       = [20]byte{0x02}
)

const aliceHex = "0x0000000000000000000000000000000000000001"

func testParams() billing.Params {
	return billing.Params{
		MinimumFee:       big.NewInt(1),
		RolloverInterval: billing.DefaultRolloverInterval,
		Admin:            nodeAdmin,
	}
}

func testSpec(balance string) *genesis.Spec {
	return &genesis.Spec{Accounts: []genesis.Allocation{
		{Address: aliceHex, Balance: balance},
	}}
}

func newTestNode(t *testing.T, opts ...NodeOption) (*Node, *captureSink, *int64) {
	t.Helper()
	sink := &captureSink{}
	now := int64(1_000_000)
	opts = append([]NodeOption{
		WithEmitter(sink),
		WithNowFunc(func() int64 { return now }),
	}, opts...)
	node, err := NewNode(storage.NewMemDB(), testParams(), testSpec("1000000"), opts...)
	require.NoError(t, err)
	return node, sink, &now
}

func registerProviderSet(t *testing.T, node *Node, fee int64) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, 3)
	for _, key := range []string{"p1", "p2", "p3"} {
		id, err := node.RegisterProvider(bob, []byte(key), big.NewInt(fee))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestNodeGenesisApplication(t *testing.T) {
	node, _, _ := newTestNode(t)

	balance, err := node.AccountBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), balance.Int64())

	// The rollover clock is anchored at initialisation so the first
	// settlement waits a full interval.
	last, err := node.LastRollover()
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), last)
}

func TestNodeGenesisAppliedOnce(t *testing.T) {
	db := storage.NewMemDB()
	node, err := NewNode(db, testParams(), testSpec("500"))
	require.NoError(t, err)

	balance, err := node.AccountBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Int64())

	// Reopening over the same store must not credit the allocation again.
	reopened, err := NewNode(db, testParams(), testSpec("500"))
	require.NoError(t, err)
	balance, err = reopened.AccountBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Int64())
}

func TestNodeOperationFlow(t *testing.T) {
	node, sink, _ := newTestNode(t)
	providerIDs := registerProviderSet(t, node, 100)

	id, err := node.RegisterSubscriber(alice, big.NewInt(600), billing.PlanBasic, providerIDs)
	require.NoError(t, err)

	subscriber, bound, err := node.GetSubscriber(id)
	require.NoError(t, err)
	require.Equal(t, int64(600), subscriber.Balance.Int64())
	require.Equal(t, providerIDs, bound)

	vault, err := node.VaultBalance()
	require.NoError(t, err)
	require.Equal(t, int64(600), vault.Int64())

	balance, err := node.AccountBalance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(999_400), balance.Int64())

	// 3 provider registrations + 1 subscriber registration.
	require.Len(t, sink.events, 4)
	added, ok := sink.events[3].(events.SubscriberAdded)
	require.True(t, ok)
	require.Equal(t, id, added.ID)
}

func TestNodeFailedOperationLeavesNoTrace(t *testing.T) {
	node, sink, _ := newTestNode(t)
	providerIDs := registerProviderSet(t, node, 100)
	emitted := len(sink.events)

	// The deposit clears validation but the caller's ledger account cannot
	// cover it, so the engine fails after provider counts were incremented.
	// The overlay discard must roll those increments back.
	_, err := node.RegisterSubscriber(bob, big.NewInt(600), billing.PlanBasic, providerIDs)
	require.Error(t, err)

	for _, pid := range providerIDs {
		provider, _, err := node.GetProvider(pid)
		require.NoError(t, err)
		require.Zero(t, provider.SubscriberCount)
	}
	vault, err := node.VaultBalance()
	require.NoError(t, err)
	require.Zero(t, vault.Sign())
	require.Len(t, sink.events, emitted, "failed operation must publish no events")

	// The store is clean for the next caller.
	_, err = node.RegisterSubscriber(alice, big.NewInt(600), billing.PlanBasic, providerIDs)
	require.NoError(t, err)
}

func TestNodeRolloverTiming(t *testing.T) {
	node, sink, now := newTestNode(t)
	providerIDs := registerProviderSet(t, node, 100)

	id, err := node.RegisterSubscriber(alice, big.NewInt(600), billing.PlanBasic, providerIDs)
	require.NoError(t, err)

	_, err = node.Rollover()
	require.ErrorIs(t, err, billing.ErrRolloverTooEarly)

	*now += int64(billing.DefaultRolloverInterval / time.Second)
	result, err := node.Rollover()
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Settled)
	require.Equal(t, int64(300), result.TotalCharged.Int64())

	subscriber, _, err := node.GetSubscriber(id)
	require.NoError(t, err)
	require.Equal(t, int64(300), subscriber.Balance.Int64())

	last, err := node.LastRollover()
	require.NoError(t, err)
	require.Equal(t, *now, last)

	executed, ok := sink.events[len(sink.events)-1].(events.RolloverExecuted)
	require.True(t, ok)
	require.Equal(t, *now, executed.Timestamp)
}

func TestNodeWithdrawAfterSettlement(t *testing.T) {
	node, _, now := newTestNode(t)
	providerIDs := registerProviderSet(t, node, 100)

	_, err := node.RegisterSubscriber(alice, big.NewInt(600), billing.PlanBasic, providerIDs)
	require.NoError(t, err)

	*now += int64(billing.DefaultRolloverInterval / time.Second)
	_, err = node.Rollover()
	require.NoError(t, err)

	amount, err := node.WithdrawEarnings(bob, providerIDs[0])
	require.NoError(t, err)
	require.Equal(t, int64(100), amount.Int64())

	balance, err := node.AccountBalance(bob)
	require.NoError(t, err)
	require.Equal(t, int64(100), balance.Int64())

	vault, err := node.VaultBalance()
	require.NoError(t, err)
	require.Equal(t, int64(500), vault.Int64())
}

func TestNodeStatePersistsAcrossReopen(t *testing.T) {
	db := storage.NewMemDB()
	node, err := NewNode(db, testParams(), testSpec("1000000"))
	require.NoError(t, err)

	id, err := node.RegisterProvider(bob, []byte("p1"), big.NewInt(100))
	require.NoError(t, err)

	reopened, err := NewNode(db, testParams(), nil)
	require.NoError(t, err)
	provider, fee, err := reopened.GetProvider(id)
	require.NoError(t, err)
	require.True(t, provider.Active)
	require.Equal(t, int64(100), fee.Int64())
}

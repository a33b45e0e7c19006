package billing

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"subledger/core/events"
)

// advanceClock moves the engine clock one full interval past the given anchor.
func advanceClock(engine *Engine, anchor int64) {
	next := anchor + int64(engine.Params().RolloverInterval/time.Second)
	engine.SetNowFunc(func() int64 { return next })
}

func TestRolloverTooEarly(t *testing.T) {
	engine, state, _ := newTestEngine(t)

	state.lastRollover = 1_000_000
	engine.SetNowFunc(func() int64 { return 1_000_001 })
	if _, err := engine.Rollover(); !errors.Is(err, ErrRolloverTooEarly) {
		t.Fatalf("expected ErrRolloverTooEarly, got %v", err)
	}

	// Exactly one interval later is allowed.
	advanceClock(engine, 1_000_000)
	if _, err := engine.Rollover(); err != nil {
		t.Fatalf("rollover at the interval boundary: %v", err)
	}
}

func TestRolloverSettlesSolventSubscriber(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)

	id, err := engine.RegisterSubscriber(bobAddr, big.NewInt(600), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register subscriber: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if result.Scanned != 1 || result.Settled != 1 || result.Paused != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.TotalCharged.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("total charged = %s, want 300", result.TotalCharged)
	}
	subscriber, _ := engine.loadSubscriber(id)
	if subscriber.Balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("subscriber balance = %s, want 300", subscriber.Balance)
	}
	if subscriber.Paused {
		t.Fatalf("solvent subscriber must stay active")
	}
	for _, pid := range providerIDs {
		provider, _ := engine.loadProvider(pid)
		if provider.Balance.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("provider %d balance = %s, want 100", pid, provider.Balance)
		}
		if provider.SubscriberCount != 1 {
			t.Fatalf("provider %d count changed on settlement", pid)
		}
	}
	if state.lastRollover != result.Timestamp {
		t.Fatalf("last rollover not anchored to the run timestamp")
	}
	last := emitter.events[len(emitter.events)-1]
	if executed, ok := last.(events.RolloverExecuted); !ok || executed.Timestamp != result.Timestamp {
		t.Fatalf("unexpected final event: %#v", last)
	}
}

func TestRolloverPausesInsolventSubscriber(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)

	id, err := engine.RegisterSubscriber(bobAddr, big.NewInt(600), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register subscriber: %v", err)
	}
	// Drain the prepaid balance below one cycle's fees.
	subscriber, _ := engine.loadSubscriber(id)
	subscriber.Balance = big.NewInt(50)
	if err := engine.storeSubscriber(id, subscriber); err != nil {
		t.Fatalf("store subscriber: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if result.Settled != 0 || result.Paused != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	subscriber, _ = engine.loadSubscriber(id)
	if !subscriber.Paused {
		t.Fatalf("insolvent subscriber not paused")
	}
	if subscriber.Balance.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("insolvency pause must not charge, balance = %s", subscriber.Balance)
	}
	for _, pid := range providerIDs {
		provider, _ := engine.loadProvider(pid)
		if provider.Balance.Sign() != 0 {
			t.Fatalf("provider %d credited by an insolvent subscriber", pid)
		}
		if provider.SubscriberCount != 0 {
			t.Fatalf("provider %d slot not released", pid)
		}
	}
	var paused bool
	for _, evt := range emitter.events {
		if p, ok := evt.(events.SubscriberPaused); ok && p.ID == id {
			paused = true
		}
	}
	if !paused {
		t.Fatalf("SubscriberPaused event not emitted")
	}
}

func TestRolloverSkipsPausedSubscribers(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)

	id, err := engine.RegisterSubscriber(bobAddr, big.NewInt(600), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register subscriber: %v", err)
	}
	if err := engine.PauseSubscription(bobAddr, id); err != nil {
		t.Fatalf("pause subscription: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if result.Scanned != 1 || result.Settled != 0 || result.Paused != 0 {
		t.Fatalf("paused subscriber must be skipped: %+v", result)
	}
	subscriber, _ := engine.loadSubscriber(id)
	if subscriber.Balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("paused subscriber charged: %s", subscriber.Balance)
	}
}

func TestRolloverSkipsRemovedProviders(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)

	id, err := engine.RegisterSubscriber(bobAddr, big.NewInt(600), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register subscriber: %v", err)
	}
	if err := engine.RemoveProvider(aliceAddr, providerIDs[0]); err != nil {
		t.Fatalf("remove provider: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	// Only the two surviving providers charge.
	if result.TotalCharged.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("total charged = %s, want 200", result.TotalCharged)
	}
	subscriber, _ := engine.loadSubscriber(id)
	if subscriber.Balance.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("subscriber balance = %s, want 400", subscriber.Balance)
	}
	for _, pid := range providerIDs[1:] {
		provider, _ := engine.loadProvider(pid)
		if provider.Balance.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("surviving provider %d balance = %s, want 100", pid, provider.Balance)
		}
	}
}

func TestRolloverChargesUpdatedFee(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)

	id, err := engine.RegisterSubscriber(bobAddr, big.NewInt(600), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register subscriber: %v", err)
	}
	// Fee changes after registration apply to the next cycle, not the deposit
	// that admitted the subscriber.
	if err := engine.UpdateFee(aliceAddr, providerIDs[0], big.NewInt(150)); err != nil {
		t.Fatalf("update fee: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if result.TotalCharged.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("total charged = %s, want 350", result.TotalCharged)
	}
	subscriber, _ := engine.loadSubscriber(id)
	if subscriber.Balance.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("subscriber balance = %s, want 250", subscriber.Balance)
	}
}

func TestRolloverMultipleSubscribers(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	providerIDs := subscriberSetup(t, engine, state, 100)
	fund(state, carolAddr, 1_000_000)

	solvent, err := engine.RegisterSubscriber(bobAddr, big.NewInt(900), PlanBasic, providerIDs)
	if err != nil {
		t.Fatalf("register solvent subscriber: %v", err)
	}
	broke, err := engine.RegisterSubscriber(carolAddr, big.NewInt(600), PlanVip, providerIDs)
	if err != nil {
		t.Fatalf("register insolvent subscriber: %v", err)
	}
	subscriber, _ := engine.loadSubscriber(broke)
	subscriber.Balance = big.NewInt(299)
	if err := engine.storeSubscriber(broke, subscriber); err != nil {
		t.Fatalf("store subscriber: %v", err)
	}
	advanceClock(engine, state.lastRollover)

	result, err := engine.Rollover()
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if result.Scanned != 2 || result.Settled != 1 || result.Paused != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	for _, pid := range providerIDs {
		provider, _ := engine.loadProvider(pid)
		// One credit from the solvent subscriber, one released slot from the
		// insolvent one.
		if provider.Balance.Cmp(big.NewInt(100)) != 0 {
			t.Fatalf("provider %d balance = %s, want 100", pid, provider.Balance)
		}
		if provider.SubscriberCount != 1 {
			t.Fatalf("provider %d count = %d, want 1", pid, provider.SubscriberCount)
		}
	}
	settled, _ := engine.loadSubscriber(solvent)
	if settled.Balance.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("solvent balance = %s, want 600", settled.Balance)
	}
}

func TestRolloverSecondRunRequiresNewInterval(t *testing.T) {
	engine, state, _ := newTestEngine(t)

	advanceClock(engine, state.lastRollover)
	if _, err := engine.Rollover(); err != nil {
		t.Fatalf("first rollover: %v", err)
	}
	if _, err := engine.Rollover(); !errors.Is(err, ErrRolloverTooEarly) {
		t.Fatalf("expected ErrRolloverTooEarly immediately after a run, got %v", err)
	}
	advanceClock(engine, state.lastRollover)
	if _, err := engine.Rollover(); err != nil {
		t.Fatalf("second rollover after full interval: %v", err)
	}
}

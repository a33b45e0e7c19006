package core

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"subledger/core/events"
	"subledger/core/genesis"
	"subledger/core/state"
	"subledger/native/billing"
	"subledger/storage"
)

// Node owns the state manager and the billing engine and serializes every
// operation against them. Each mutating call is all-or-nothing: writes
// accumulate in the manager's overlay and are committed only when the engine
// reports success, so a failed operation leaves the store untouched and
// publishes no events.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *state.Manager
	engine *billing.Engine
	buffer *events.Buffer
	sink   events.Emitter
	nowFn  func() int64
}

// NodeOption customises node construction.
type NodeOption func(*Node)

// WithEmitter routes committed events to the supplied sink.
func WithEmitter(sink events.Emitter) NodeOption {
	return func(n *Node) {
		if sink != nil {
			n.sink = sink
		}
	}
}

// WithNowFunc overrides the node's time source, primarily for tests.
func WithNowFunc(now func() int64) NodeOption {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

// NewNode wires a node over the database. A fresh store is initialised with
// the genesis allocation (may be nil) and anchors the rollover clock at the
// current time so the first settlement waits a full interval.
func NewNode(db storage.Database, params billing.Params, spec *genesis.Spec, opts ...NodeOption) (*Node, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	node := &Node{
		db:     db,
		state:  state.NewManager(db),
		buffer: new(events.Buffer),
		sink:   events.NoopEmitter{},
		nowFn:  func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(node)
	}

	engine := billing.NewEngine()
	engine.SetState(node.state)
	engine.SetOwnership(node.state)
	engine.SetLedger(node.state)
	engine.SetRegistrationIndex(node.state)
	engine.SetParams(params)
	engine.SetEmitter(node.buffer)
	engine.SetNowFunc(func() int64 { return node.nowFn() })
	node.engine = engine

	if err := node.initialize(spec); err != nil {
		return nil, err
	}
	return node, nil
}

// initialize applies genesis state exactly once, using the rollover anchor as
// the initialisation marker.
func (n *Node) initialize(spec *genesis.Spec) error {
	anchored, err := n.state.HasRolloverAnchor()
	if err != nil {
		return err
	}
	if anchored {
		return nil
	}
	if err := spec.Apply(n.state); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.SetLastRollover(n.nowFn()); err != nil {
		n.state.Discard()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		return fmt.Errorf("node init: %w", err)
	}
	return nil
}

// Params returns the engine parameters.
func (n *Node) Params() billing.Params { return n.engine.Params() }

func (n *Node) withWrite(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := fn(); err != nil {
		n.state.Discard()
		n.buffer.Reset()
		return err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		n.buffer.Reset()
		return fmt.Errorf("node commit: %w", err)
	}
	for _, evt := range n.buffer.Drain() {
		n.sink.Emit(evt)
	}
	return nil
}

// RegisterProvider registers a provider for the caller.
func (n *Node) RegisterProvider(caller [20]byte, registrationKey []byte, fee *big.Int) (uint64, error) {
	var id uint64
	err := n.withWrite(func() error {
		var err error
		id, err = n.engine.RegisterProvider(caller, registrationKey, fee)
		return err
	})
	return id, err
}

// RemoveProvider removes the caller's provider and pays out its balance.
func (n *Node) RemoveProvider(caller [20]byte, id uint64) error {
	return n.withWrite(func() error {
		return n.engine.RemoveProvider(caller, id)
	})
}

// RegisterSubscriber registers a subscriber bound to the provider set.
func (n *Node) RegisterSubscriber(caller [20]byte, deposit *big.Int, plan billing.Plan, providerIDs []uint64) (uint64, error) {
	var id uint64
	err := n.withWrite(func() error {
		var err error
		id, err = n.engine.RegisterSubscriber(caller, deposit, plan, providerIDs)
		return err
	})
	return id, err
}

// PauseSubscription pauses the caller's subscription.
func (n *Node) PauseSubscription(caller [20]byte, id uint64) error {
	return n.withWrite(func() error {
		return n.engine.PauseSubscription(caller, id)
	})
}

// Deposit tops up the caller's subscriber balance.
func (n *Node) Deposit(caller [20]byte, id uint64, amount *big.Int) error {
	return n.withWrite(func() error {
		return n.engine.Deposit(caller, id, amount)
	})
}

// WithdrawEarnings pays out the caller's provider balance.
func (n *Node) WithdrawEarnings(caller [20]byte, id uint64) (*big.Int, error) {
	var amount *big.Int
	err := n.withWrite(func() error {
		var err error
		amount, err = n.engine.WithdrawEarnings(caller, id)
		return err
	})
	return amount, err
}

// UpdateFee overwrites the caller's provider fee.
func (n *Node) UpdateFee(caller [20]byte, id uint64, newFee *big.Int) error {
	return n.withWrite(func() error {
		return n.engine.UpdateFee(caller, id, newFee)
	})
}

// SetProviderStates applies an administrative batch of active-flag updates.
func (n *Node) SetProviderStates(caller [20]byte, ids []uint64, states []bool) error {
	return n.withWrite(func() error {
		return n.engine.SetProviderStates(caller, ids, states)
	})
}

// Rollover runs the periodic batch settlement.
func (n *Node) Rollover() (*billing.RolloverResult, error) {
	var result *billing.RolloverResult
	err := n.withWrite(func() error {
		var err error
		result, err = n.engine.Rollover()
		return err
	})
	return result, err
}

// GetProvider returns the provider state and fee for an existing id.
func (n *Node) GetProvider(id uint64) (*billing.Provider, *big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetProvider(id)
}

// GetSubscriber returns the subscriber state and bound providers for an
// existing id.
func (n *Node) GetSubscriber(id uint64) (*billing.Subscriber, []uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.GetSubscriber(id)
}

// AccountBalance returns the token-ledger balance of an address.
func (n *Node) AccountBalance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	account, err := n.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// VaultBalance returns the balance held in the module vault.
func (n *Node) VaultBalance() (*big.Int, error) {
	return n.AccountBalance(n.state.Vault())
}

// LastRollover returns the unix timestamp anchoring the current billing
// cycle.
func (n *Node) LastRollover() (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state.LastRollover()
}

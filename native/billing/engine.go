package billing

import (
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"subledger/core/events"
)

// EntityState is the packed-word entity store. It carries no business logic:
// reading an id that was never written yields the all-zero word, so callers
// must consult the ownership registry before trusting a decoded zero value.
type EntityState interface {
	ProviderWord(id uint64) (*uint256.Int, error)
	SetProviderWord(id uint64, word *uint256.Int) error
	DeleteProviderWord(id uint64) error

	SubscriberWord(id uint64) (*uint256.Int, error)
	SetSubscriberWord(id uint64, word *uint256.Int) error

	ProviderFee(id uint64) (*big.Int, error)
	SetProviderFee(id uint64, fee *big.Int) error
	DeleteProviderFee(id uint64) error

	SubscriberProviders(id uint64) ([]uint64, error)
	SetSubscriberProviders(id uint64, providers []uint64) error

	LastProviderID() (uint64, error)
	SetLastProviderID(id uint64) error
	LastSubscriberID() (uint64, error)
	SetLastSubscriberID(id uint64) error
	LastRollover() (int64, error)
	SetLastRollover(ts int64) error
}

// Ownership binds entity ids to their controlling addresses. An id with no
// owner is treated as never registered or removed.
type Ownership interface {
	OwnerOf(id uint64) ([20]byte, bool, error)
	Exists(id uint64) (bool, error)
	Mint(owner [20]byte, id uint64) error
	Burn(id uint64) error
}

// TokenLedger moves funds between external accounts and the module vault. Any
// failed movement aborts the surrounding operation.
type TokenLedger interface {
	Vault() [20]byte
	// Transfer pays out of the module vault.
	Transfer(to [20]byte, amount *big.Int) error
	TransferFrom(from, to [20]byte, amount *big.Int) error
}

// RegistrationIndex is the dedup set for provider registration keys.
type RegistrationIndex interface {
	Seen(hash [32]byte) (bool, error)
	MarkSeen(hash [32]byte) error
}

// Engine wires the billing business logic with external state, the ownership
// registry, the token ledger and an event emitter. Engine operations are not
// safe for concurrent use; the node serializes them and discards all state
// writes when an operation returns an error.
type Engine struct {
	state   EntityState
	tokens  Ownership
	ledger  TokenLedger
	regKeys RegistrationIndex
	params  Params
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a billing engine with default parameters and a no-op
// emitter. Callers wire the collaborators via the Set methods.
func NewEngine() *Engine {
	return &Engine{
		params:  DefaultParams(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the entity store used by the engine.
func (e *Engine) SetState(state EntityState) { e.state = state }

// SetOwnership configures the ownership-token registry.
func (e *Engine) SetOwnership(tokens Ownership) { e.tokens = tokens }

// SetLedger configures the token ledger used for deposits and payouts.
func (e *Engine) SetLedger(ledger TokenLedger) { e.ledger = ledger }

// SetRegistrationIndex configures the registration-key dedup set.
func (e *Engine) SetRegistrationIndex(index RegistrationIndex) { e.regKeys = index }

// SetParams overrides the engine parameters.
func (e *Engine) SetParams(params Params) { e.params = params }

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	if e.ledger == nil {
		return errNilLedger
	}
	if e.regKeys == nil {
		return errNilIndex
	}
	return nil
}

// RegistrationKeyHash derives the dedup key for a registration attempt from
// the caller identity and the raw registration key.
func RegistrationKeyHash(caller [20]byte, registrationKey []byte) [32]byte {
	var hash [32]byte
	copy(hash[:], ethcrypto.Keccak256(caller[:], registrationKey))
	return hash
}

func (e *Engine) loadProvider(id uint64) (*Provider, error) {
	word, err := e.state.ProviderWord(id)
	if err != nil {
		return nil, err
	}
	return DecodeProvider(word)
}

func (e *Engine) storeProvider(id uint64, provider *Provider) error {
	return e.state.SetProviderWord(id, EncodeProvider(provider))
}

func (e *Engine) loadSubscriber(id uint64) (*Subscriber, error) {
	word, err := e.state.SubscriberWord(id)
	if err != nil {
		return nil, err
	}
	return DecodeSubscriber(word)
}

func (e *Engine) storeSubscriber(id uint64, subscriber *Subscriber) error {
	return e.state.SetSubscriberWord(id, EncodeSubscriber(subscriber))
}

func (e *Engine) requireOwner(caller [20]byte, id uint64, missing error) error {
	owner, ok, err := e.tokens.OwnerOf(id)
	if err != nil {
		return err
	}
	if !ok {
		return missing
	}
	if owner != caller {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) checkFee(fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 || fee.Cmp(MaxBalance) > 0 {
		return ErrAmountOutOfRange
	}
	if fee.Cmp(e.params.MinimumFee) < 0 {
		return ErrFeeTooLow
	}
	return nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 || amount.Cmp(MaxBalance) > 0 {
		return ErrAmountOutOfRange
	}
	return nil
}

// RegisterProvider allocates the next provider id for the caller, records the
// recurring fee and mints the ownership token. The registration key may be
// used once per caller identity.
func (e *Engine) RegisterProvider(caller [20]byte, registrationKey []byte, fee *big.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if err := e.checkFee(fee); err != nil {
		return 0, err
	}
	hash := RegistrationKeyHash(caller, registrationKey)
	seen, err := e.regKeys.Seen(hash)
	if err != nil {
		return 0, err
	}
	if seen {
		return 0, ErrDuplicateRegistrationKey
	}
	last, err := e.state.LastProviderID()
	if err != nil {
		return 0, err
	}
	id := last + 1
	if id > MaxProviderID {
		return 0, ErrProviderSpaceExhausted
	}
	if err := e.state.SetLastProviderID(id); err != nil {
		return 0, err
	}
	if err := e.storeProvider(id, &Provider{Active: true, Balance: big.NewInt(0)}); err != nil {
		return 0, err
	}
	if err := e.state.SetProviderFee(id, fee); err != nil {
		return 0, err
	}
	if err := e.regKeys.MarkSeen(hash); err != nil {
		return 0, err
	}
	if err := e.tokens.Mint(caller, id); err != nil {
		return 0, err
	}
	e.emit(newProviderAddedEvent(id, caller, registrationKey, fee))
	return id, nil
}

// RemoveProvider deletes all provider state, pays the accrued balance out of
// the vault to the caller and burns the ownership token. Bound subscribers
// keep their stale reference; rollover skips removed providers silently.
func (e *Engine) RemoveProvider(caller [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !IsProviderID(id) {
		return ErrInvalidProviderID
	}
	if err := e.requireOwner(caller, id, ErrProviderNotFound); err != nil {
		return err
	}
	provider, err := e.loadProvider(id)
	if err != nil {
		return err
	}
	if err := e.state.DeleteProviderWord(id); err != nil {
		return err
	}
	if err := e.state.DeleteProviderFee(id); err != nil {
		return err
	}
	if provider.Balance.Sign() > 0 {
		if err := e.ledger.Transfer(caller, provider.Balance); err != nil {
			return err
		}
	}
	if err := e.tokens.Burn(id); err != nil {
		return err
	}
	e.emit(newProviderRemovedEvent(id))
	return nil
}

// RegisterSubscriber binds the caller to the supplied provider set, pulls the
// deposit into the vault and mints the ownership token. Deposit sufficiency
// is validated before any provider state is mutated, so a rejected
// registration never moves a subscriber count.
func (e *Engine) RegisterSubscriber(caller [20]byte, deposit *big.Int, plan Plan, providerIDs []uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if len(providerIDs) < MinProviderSet || len(providerIDs) > MaxProviderSet {
		return 0, ErrInvalidProviderSetSize
	}
	if !plan.Valid() {
		return 0, ErrInvalidPlan
	}
	if err := checkAmount(deposit); err != nil {
		return 0, err
	}

	minimum := new(big.Int)
	for _, pid := range providerIDs {
		if !IsProviderID(pid) {
			return 0, ErrInvalidProviderID
		}
		exists, err := e.tokens.Exists(pid)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, ErrInactiveProvider
		}
		provider, err := e.loadProvider(pid)
		if err != nil {
			return 0, err
		}
		if !provider.Active {
			return 0, ErrInactiveProvider
		}
		fee, err := e.state.ProviderFee(pid)
		if err != nil {
			return 0, err
		}
		minimum.Add(minimum, new(big.Int).Mul(fee, big.NewInt(DepositFeeMultiplier)))
	}
	if deposit.Cmp(minimum) < 0 {
		return 0, ErrInsufficientDeposit
	}

	// Reload on each iteration so a provider bound more than once is
	// incremented once per binding.
	for _, pid := range providerIDs {
		provider, err := e.loadProvider(pid)
		if err != nil {
			return 0, err
		}
		if provider.SubscriberCount == ^uint32(0) {
			return 0, ErrInconsistentState
		}
		provider.SubscriberCount++
		if err := e.storeProvider(pid, provider); err != nil {
			return 0, err
		}
	}

	last, err := e.state.LastSubscriberID()
	if err != nil {
		return 0, err
	}
	id := last + 1
	if err := e.state.SetLastSubscriberID(id); err != nil {
		return 0, err
	}
	subscriber := &Subscriber{Balance: cloneBigInt(deposit), Plan: plan}
	if err := e.storeSubscriber(id, subscriber); err != nil {
		return 0, err
	}
	if err := e.state.SetSubscriberProviders(id, providerIDs); err != nil {
		return 0, err
	}
	if deposit.Sign() > 0 {
		if err := e.ledger.TransferFrom(caller, e.ledger.Vault(), deposit); err != nil {
			return 0, err
		}
	}
	if err := e.tokens.Mint(caller, id); err != nil {
		return 0, err
	}
	e.emit(newSubscriberAddedEvent(id, caller, plan, deposit))
	return id, nil
}

// PauseSubscription marks the subscription paused and releases the
// subscriber's slot on every bound provider that still exists. A paused
// subscription is never charged again.
func (e *Engine) PauseSubscription(caller [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !IsSubscriberID(id) {
		return ErrInvalidSubscriberID
	}
	if err := e.requireOwner(caller, id, ErrSubscriberNotFound); err != nil {
		return err
	}
	subscriber, err := e.loadSubscriber(id)
	if err != nil {
		return err
	}
	if subscriber.Paused {
		return ErrAlreadyPaused
	}
	subscriber.Paused = true
	if err := e.storeSubscriber(id, subscriber); err != nil {
		return err
	}
	providerIDs, err := e.state.SubscriberProviders(id)
	if err != nil {
		return err
	}
	if err := e.releaseProviderSlots(providerIDs); err != nil {
		return err
	}
	e.emit(newSubscriberPausedEvent(id))
	return nil
}

// releaseProviderSlots decrements the subscriber count of every provider in
// the list that still has an ownership token. A zero count signals a state
// inconsistency rather than a user error.
func (e *Engine) releaseProviderSlots(providerIDs []uint64) error {
	for _, pid := range providerIDs {
		exists, err := e.tokens.Exists(pid)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		provider, err := e.loadProvider(pid)
		if err != nil {
			return err
		}
		if provider.SubscriberCount == 0 {
			return fmt.Errorf("%w: provider %d subscriber count underflow", ErrInconsistentState, pid)
		}
		provider.SubscriberCount--
		if err := e.storeProvider(pid, provider); err != nil {
			return err
		}
	}
	return nil
}

// Deposit pulls the amount from the caller into the vault and credits the
// subscriber's prepaid balance.
func (e *Engine) Deposit(caller [20]byte, id uint64, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !IsSubscriberID(id) {
		return ErrInvalidSubscriberID
	}
	if err := e.requireOwner(caller, id, ErrSubscriberNotFound); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return ErrAmountOutOfRange
	}
	subscriber, err := e.loadSubscriber(id)
	if err != nil {
		return err
	}
	balance := new(big.Int).Add(subscriber.Balance, amount)
	if balance.Cmp(MaxBalance) > 0 {
		return ErrAmountOutOfRange
	}
	subscriber.Balance = balance
	if err := e.storeSubscriber(id, subscriber); err != nil {
		return err
	}
	if err := e.ledger.TransferFrom(caller, e.ledger.Vault(), amount); err != nil {
		return err
	}
	e.emit(newSubscriberDepositedEvent(id, amount))
	return nil
}

// WithdrawEarnings pays the provider's accrued balance out of the vault to
// the caller and zeroes it.
func (e *Engine) WithdrawEarnings(caller [20]byte, id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !IsProviderID(id) {
		return nil, ErrInvalidProviderID
	}
	if err := e.requireOwner(caller, id, ErrProviderNotFound); err != nil {
		return nil, err
	}
	provider, err := e.loadProvider(id)
	if err != nil {
		return nil, err
	}
	amount := provider.Balance
	provider.Balance = big.NewInt(0)
	if err := e.storeProvider(id, provider); err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err := e.ledger.Transfer(caller, amount); err != nil {
			return nil, err
		}
	}
	e.emit(newProviderEarningWithdrawnEvent(id, amount))
	return cloneBigInt(amount), nil
}

// UpdateFee overwrites the provider's recurring fee.
func (e *Engine) UpdateFee(caller [20]byte, id uint64, newFee *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !IsProviderID(id) {
		return ErrInvalidProviderID
	}
	if err := e.requireOwner(caller, id, ErrProviderNotFound); err != nil {
		return err
	}
	if err := e.checkFee(newFee); err != nil {
		return err
	}
	if err := e.state.SetProviderFee(id, newFee); err != nil {
		return err
	}
	e.emit(newProviderFeeUpdatedEvent(id, newFee))
	return nil
}

// SetProviderStates overwrites the active flag of each listed provider that
// still has an ownership token. The id list is parsed all-or-nothing: any id
// outside the provider partition rejects the whole batch.
func (e *Engine) SetProviderStates(caller [20]byte, ids []uint64, states []bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.params.Admin {
		return ErrUnauthorized
	}
	if len(ids) != len(states) {
		return ErrArrayLengthMismatch
	}
	for _, id := range ids {
		if !IsProviderID(id) {
			return ErrInvalidProviderID
		}
	}
	for i, id := range ids {
		exists, err := e.tokens.Exists(id)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		provider, err := e.loadProvider(id)
		if err != nil {
			return err
		}
		provider.Active = states[i]
		if err := e.storeProvider(id, provider); err != nil {
			return err
		}
	}
	e.emit(newProviderStateUpdatedEvent(ids, states))
	return nil
}

// GetProvider returns the decoded provider state and fee for an existing id.
func (e *Engine) GetProvider(id uint64) (*Provider, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if !IsProviderID(id) {
		return nil, nil, ErrInvalidProviderID
	}
	exists, err := e.tokens.Exists(id)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, ErrProviderNotFound
	}
	provider, err := e.loadProvider(id)
	if err != nil {
		return nil, nil, err
	}
	fee, err := e.state.ProviderFee(id)
	if err != nil {
		return nil, nil, err
	}
	return provider, fee, nil
}

// GetSubscriber returns the decoded subscriber state and its bound provider
// list for an existing id.
func (e *Engine) GetSubscriber(id uint64) (*Subscriber, []uint64, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if !IsSubscriberID(id) {
		return nil, nil, ErrInvalidSubscriberID
	}
	exists, err := e.tokens.Exists(id)
	if err != nil {
		return nil, nil, err
	}
	if !exists {
		return nil, nil, ErrSubscriberNotFound
	}
	subscriber, err := e.loadSubscriber(id)
	if err != nil {
		return nil, nil, err
	}
	providers, err := e.state.SubscriberProviders(id)
	if err != nil {
		return nil, nil, err
	}
	return subscriber, providers, nil
}

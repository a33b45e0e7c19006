package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"subledger/native/billing"
)

// ErrInsufficientFunds is returned when a ledger transfer would overdraw the
// source account.
var ErrInsufficientFunds = errors.New("state: insufficient funds")

// vaultAddress is the module's custody account. Subscriber deposits sit here
// until settlement moves them out through withdrawals and removals.
var vaultAddress = func() [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("subledger/billing/vault"))
	copy(addr[:], hash[12:])
	return addr
}()

// --- billing.EntityState ---

// ProviderWord returns the packed provider state word, or the all-zero word
// when the id was never written.
func (m *Manager) ProviderWord(id uint64) (*uint256.Int, error) {
	return m.word(idKey(providerWordPrefix, id))
}

// SetProviderWord persists the packed provider state word.
func (m *Manager) SetProviderWord(id uint64, word *uint256.Int) error {
	return m.setWord(idKey(providerWordPrefix, id), word)
}

// DeleteProviderWord removes the packed provider state word.
func (m *Manager) DeleteProviderWord(id uint64) error {
	m.del(idKey(providerWordPrefix, id))
	return nil
}

// SubscriberWord returns the packed subscriber state word, or the all-zero
// word when the id was never written.
func (m *Manager) SubscriberWord(id uint64) (*uint256.Int, error) {
	return m.word(idKey(subscriberWordPrefix, id))
}

// SetSubscriberWord persists the packed subscriber state word.
func (m *Manager) SetSubscriberWord(id uint64, word *uint256.Int) error {
	return m.setWord(idKey(subscriberWordPrefix, id), word)
}

func (m *Manager) word(key []byte) (*uint256.Int, error) {
	value, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	word := new(uint256.Int)
	if ok {
		word.SetBytes(value)
	}
	return word, nil
}

func (m *Manager) setWord(key []byte, word *uint256.Int) error {
	if word == nil {
		word = new(uint256.Int)
	}
	encoded := word.Bytes32()
	m.put(key, encoded[:])
	return nil
}

// ProviderFee returns the provider's recurring fee, zero when unset.
func (m *Manager) ProviderFee(id uint64) (*big.Int, error) {
	fee := new(big.Int)
	ok, err := m.KVGet(idKey(providerFeePrefix, id), fee)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fee, nil
}

// SetProviderFee persists the provider's recurring fee.
func (m *Manager) SetProviderFee(id uint64, fee *big.Int) error {
	if fee == nil || fee.Sign() < 0 {
		return fmt.Errorf("state: provider %d fee must be non-negative", id)
	}
	if _, overflow := uint256.FromBig(fee); overflow {
		return fmt.Errorf("state: provider %d fee overflow", id)
	}
	return m.KVPut(idKey(providerFeePrefix, id), fee)
}

// DeleteProviderFee removes the provider's fee entry.
func (m *Manager) DeleteProviderFee(id uint64) error {
	m.del(idKey(providerFeePrefix, id))
	return nil
}

// SubscriberProviders returns the subscriber's bound provider id list.
func (m *Manager) SubscriberProviders(id uint64) ([]uint64, error) {
	var providers []uint64
	if _, err := m.KVGet(idKey(subscriberListPrefix, id), &providers); err != nil {
		return nil, err
	}
	return providers, nil
}

// SetSubscriberProviders persists the subscriber's bound provider id list.
// The list is fixed at registration time; set-once discipline belongs to the
// caller.
func (m *Manager) SetSubscriberProviders(id uint64, providers []uint64) error {
	return m.KVPut(idKey(subscriberListPrefix, id), providers)
}

// LastProviderID returns the most recently allocated provider id.
func (m *Manager) LastProviderID() (uint64, error) {
	return m.counter(lastProviderIDKeyBytes, 0)
}

// SetLastProviderID records the most recently allocated provider id.
func (m *Manager) SetLastProviderID(id uint64) error {
	return m.KVPut(lastProviderIDKeyBytes, id)
}

// LastSubscriberID returns the most recently allocated subscriber id. A fresh
// store answers with the partition boundary so the first allocation lands
// just above it.
func (m *Manager) LastSubscriberID() (uint64, error) {
	return m.counter(lastSubscriberIDKeyBytes, billing.MaxProviderID)
}

// SetLastSubscriberID records the most recently allocated subscriber id.
func (m *Manager) SetLastSubscriberID(id uint64) error {
	return m.KVPut(lastSubscriberIDKeyBytes, id)
}

func (m *Manager) counter(key []byte, initial uint64) (uint64, error) {
	var value uint64
	ok, err := m.KVGet(key, &value)
	if err != nil {
		return 0, err
	}
	if !ok {
		return initial, nil
	}
	return value, nil
}

// LastRollover returns the unix timestamp of the last successful rollover,
// zero when none has run.
func (m *Manager) LastRollover() (int64, error) {
	var value uint64
	if _, err := m.KVGet(lastRolloverKeyBytes, &value); err != nil {
		return 0, err
	}
	return int64(value), nil
}

// SetLastRollover records the unix timestamp of a successful rollover.
func (m *Manager) SetLastRollover(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("state: rollover timestamp must be non-negative")
	}
	return m.KVPut(lastRolloverKeyBytes, uint64(ts))
}

// HasRolloverAnchor reports whether a rollover timestamp was ever recorded.
func (m *Manager) HasRolloverAnchor() (bool, error) {
	var value uint64
	return m.KVGet(lastRolloverKeyBytes, &value)
}

// --- billing.Ownership ---

// OwnerOf returns the controlling address of the id's ownership token.
func (m *Manager) OwnerOf(id uint64) ([20]byte, bool, error) {
	var owner [20]byte
	value, ok, err := m.get(idKey(tokenOwnerPrefix, id))
	if err != nil || !ok {
		return owner, false, err
	}
	if len(value) != len(owner) {
		return owner, false, fmt.Errorf("state: malformed owner record for token %d", id)
	}
	copy(owner[:], value)
	return owner, true, nil
}

// Exists reports whether an ownership token exists for the id.
func (m *Manager) Exists(id uint64) (bool, error) {
	_, ok, err := m.get(idKey(tokenOwnerPrefix, id))
	return ok, err
}

// Mint binds the id's ownership token to the owner address.
func (m *Manager) Mint(owner [20]byte, id uint64) error {
	if _, ok, err := m.get(idKey(tokenOwnerPrefix, id)); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("state: token %d already minted", id)
	}
	m.put(idKey(tokenOwnerPrefix, id), owner[:])
	return nil
}

// Burn removes the id's ownership token.
func (m *Manager) Burn(id uint64) error {
	m.del(idKey(tokenOwnerPrefix, id))
	return nil
}

// --- billing.RegistrationIndex ---

// Seen reports whether the registration key hash was used before.
func (m *Manager) Seen(hash [32]byte) (bool, error) {
	_, ok, err := m.get(hashKey(registrationKeyPrefix, hash))
	return ok, err
}

// MarkSeen records the registration key hash as used.
func (m *Manager) MarkSeen(hash [32]byte) error {
	m.put(hashKey(registrationKeyPrefix, hash), []byte{1})
	return nil
}

// --- billing.TokenLedger ---

// Account is a token-ledger account record.
type Account struct {
	Balance *big.Int
	Nonce   uint64
}

func ensureAccountDefaults(account *Account) *Account {
	if account == nil {
		account = &Account{}
	}
	if account.Balance == nil {
		account.Balance = big.NewInt(0)
	}
	return account
}

// Vault returns the module's custody address.
func (m *Manager) Vault() [20]byte { return vaultAddress }

// GetAccount loads the token-ledger account stored under the address.
func (m *Manager) GetAccount(addr [20]byte) (*Account, error) {
	account := new(Account)
	ok, err := m.KVGet(addrKey(accountPrefix, addr), account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return ensureAccountDefaults(nil), nil
	}
	return ensureAccountDefaults(account), nil
}

// PutAccount persists the token-ledger account under the address.
func (m *Manager) PutAccount(addr [20]byte, account *Account) error {
	account = ensureAccountDefaults(account)
	if account.Balance.Sign() < 0 {
		return fmt.Errorf("state: account balance must be non-negative")
	}
	if _, overflow := uint256.FromBig(account.Balance); overflow {
		return fmt.Errorf("state: account balance overflow")
	}
	return m.KVPut(addrKey(accountPrefix, addr), account)
}

// Transfer pays out of the module vault.
func (m *Manager) Transfer(to [20]byte, amount *big.Int) error {
	return m.TransferFrom(vaultAddress, to, amount)
}

// TransferFrom moves amount between two ledger accounts, failing without any
// write when the source balance cannot cover it.
func (m *Manager) TransferFrom(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromAcc, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	if err := m.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return m.PutAccount(to, toAcc)
}

// Credit mints amount into the address's ledger account. Used for genesis
// allocations.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return m.PutAccount(addr, account)
}

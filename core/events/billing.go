package events

import "math/big"

const (
	// TypeProviderAdded is emitted when a provider completes registration.
	TypeProviderAdded = "billing.provider.added"
	// TypeProviderRemoved is emitted when a provider is removed and its
	// accrued earnings are paid out.
	TypeProviderRemoved = "billing.provider.removed"
	// TypeProviderFeeUpdated is emitted when a provider overwrites its
	// recurring fee.
	TypeProviderFeeUpdated = "billing.provider.fee_updated"
	// TypeProviderStateUpdated is emitted when the administrator overwrites
	// the active flag for a batch of providers.
	TypeProviderStateUpdated = "billing.provider.state_updated"
	// TypeProviderEarningWithdrawn is emitted when a provider withdraws its
	// accrued balance.
	TypeProviderEarningWithdrawn = "billing.provider.earning_withdrawn"
	// TypeSubscriberAdded is emitted when a subscriber completes
	// registration and its deposit is pulled into the vault.
	TypeSubscriberAdded = "billing.subscriber.added"
	// TypeSubscriberPaused is emitted when a subscription is paused, either
	// voluntarily or by insolvency during rollover.
	TypeSubscriberPaused = "billing.subscriber.paused"
	// TypeSubscriberDeposited is emitted when a subscriber tops up its
	// prepaid balance.
	TypeSubscriberDeposited = "billing.subscriber.deposited"
	// TypeRolloverExecuted is emitted after a settlement scan completes.
	TypeRolloverExecuted = "billing.rollover.executed"
)

// ProviderAdded captures the key metadata of a newly registered provider.
type ProviderAdded struct {
	ID              uint64
	Owner           [20]byte
	RegistrationKey []byte
	Fee             *big.Int
}

// EventType implements the Event interface.
func (ProviderAdded) EventType() string { return TypeProviderAdded }

// ProviderRemoved records the removal of a provider.
type ProviderRemoved struct {
	ID uint64
}

// EventType implements the Event interface.
func (ProviderRemoved) EventType() string { return TypeProviderRemoved }

// ProviderFeeUpdated records the new recurring fee of a provider.
type ProviderFeeUpdated struct {
	ID  uint64
	Fee *big.Int
}

// EventType implements the Event interface.
func (ProviderFeeUpdated) EventType() string { return TypeProviderFeeUpdated }

// ProviderStateUpdated records an administrative batch update of provider
// active flags. The slices are index-aligned.
type ProviderStateUpdated struct {
	IDs    []uint64
	States []bool
}

// EventType implements the Event interface.
func (ProviderStateUpdated) EventType() string { return TypeProviderStateUpdated }

// ProviderEarningWithdrawn records a provider earnings payout.
type ProviderEarningWithdrawn struct {
	ID     uint64
	Amount *big.Int
}

// EventType implements the Event interface.
func (ProviderEarningWithdrawn) EventType() string { return TypeProviderEarningWithdrawn }

// SubscriberAdded captures the key metadata of a newly registered subscriber.
type SubscriberAdded struct {
	ID      uint64
	Owner   [20]byte
	Plan    uint8
	Deposit *big.Int
}

// EventType implements the Event interface.
func (SubscriberAdded) EventType() string { return TypeSubscriberAdded }

// SubscriberPaused records that a subscription stopped accruing charges.
type SubscriberPaused struct {
	ID uint64
}

// EventType implements the Event interface.
func (SubscriberPaused) EventType() string { return TypeSubscriberPaused }

// SubscriberDeposited records a balance top-up.
type SubscriberDeposited struct {
	ID     uint64
	Amount *big.Int
}

// EventType implements the Event interface.
func (SubscriberDeposited) EventType() string { return TypeSubscriberDeposited }

// RolloverExecuted records the completion of a settlement scan.
type RolloverExecuted struct {
	Timestamp int64
}

// EventType implements the Event interface.
func (RolloverExecuted) EventType() string { return TypeRolloverExecuted }

package billing

import (
	"math/big"

	"subledger/core/events"
)

func newProviderAddedEvent(id uint64, owner [20]byte, registrationKey []byte, fee *big.Int) events.ProviderAdded {
	key := make([]byte, len(registrationKey))
	copy(key, registrationKey)
	return events.ProviderAdded{
		ID:              id,
		Owner:           owner,
		RegistrationKey: key,
		Fee:             cloneBigInt(fee),
	}
}

func newProviderRemovedEvent(id uint64) events.ProviderRemoved {
	return events.ProviderRemoved{ID: id}
}

func newProviderFeeUpdatedEvent(id uint64, fee *big.Int) events.ProviderFeeUpdated {
	return events.ProviderFeeUpdated{ID: id, Fee: cloneBigInt(fee)}
}

func newProviderStateUpdatedEvent(ids []uint64, states []bool) events.ProviderStateUpdated {
	evt := events.ProviderStateUpdated{
		IDs:    make([]uint64, len(ids)),
		States: make([]bool, len(states)),
	}
	copy(evt.IDs, ids)
	copy(evt.States, states)
	return evt
}

func newProviderEarningWithdrawnEvent(id uint64, amount *big.Int) events.ProviderEarningWithdrawn {
	return events.ProviderEarningWithdrawn{ID: id, Amount: cloneBigInt(amount)}
}

func newSubscriberAddedEvent(id uint64, owner [20]byte, plan Plan, deposit *big.Int) events.SubscriberAdded {
	return events.SubscriberAdded{
		ID:      id,
		Owner:   owner,
		Plan:    uint8(plan),
		Deposit: cloneBigInt(deposit),
	}
}

func newSubscriberPausedEvent(id uint64) events.SubscriberPaused {
	return events.SubscriberPaused{ID: id}
}

func newSubscriberDepositedEvent(id uint64, amount *big.Int) events.SubscriberDeposited {
	return events.SubscriberDeposited{ID: id, Amount: cloneBigInt(amount)}
}

func newRolloverExecutedEvent(timestamp int64) events.RolloverExecuted {
	return events.RolloverExecuted{Timestamp: timestamp}
}

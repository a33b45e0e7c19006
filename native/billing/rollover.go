package billing

import (
	"fmt"
	"math/big"
	"time"
)

// RolloverResult summarises a completed settlement scan.
type RolloverResult struct {
	// Timestamp is the time recorded as the start of the new billing cycle.
	Timestamp int64
	// Scanned counts every subscriber id visited, paused ones included.
	Scanned uint64
	// Settled counts solvent subscribers that were charged this cycle.
	Settled uint64
	// Paused counts subscribers force-paused for insolvency this cycle.
	Paused uint64
	// TotalCharged is the sum debited across all settled subscribers.
	TotalCharged *big.Int
}

// Rollover runs the periodic batch settlement: every non-paused subscriber is
// charged the sum of its bound providers' fees, or force-paused when its
// balance cannot cover them. Anyone may invoke it once the configured
// interval has elapsed since the previous successful run.
//
// Providers whose ownership token no longer exists contribute nothing to the
// amount owed and receive no credit; they are skipped silently. The scan
// visits subscribers in existence order and is all-or-nothing: any failure
// aborts the invocation and the node discards every write it made.
func (e *Engine) Rollover() (*RolloverResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	now := e.now()
	last, err := e.state.LastRollover()
	if err != nil {
		return nil, err
	}
	if now < last+int64(e.params.RolloverInterval/time.Second) {
		return nil, ErrRolloverTooEarly
	}

	firstID := MaxProviderID + 1
	lastID, err := e.state.LastSubscriberID()
	if err != nil {
		return nil, err
	}
	result := &RolloverResult{Timestamp: now, TotalCharged: new(big.Int)}
	for id := firstID; id <= lastID; id++ {
		result.Scanned++
		subscriber, err := e.loadSubscriber(id)
		if err != nil {
			return nil, err
		}
		if subscriber.Paused {
			continue
		}
		providerIDs, err := e.state.SubscriberProviders(id)
		if err != nil {
			return nil, err
		}
		owed, existing, err := e.amountOwed(providerIDs)
		if err != nil {
			return nil, err
		}
		if subscriber.Balance.Cmp(owed) >= 0 {
			if err := e.settleSubscriber(id, subscriber, owed, existing); err != nil {
				return nil, err
			}
			result.Settled++
			result.TotalCharged.Add(result.TotalCharged, owed)
			continue
		}
		if err := e.pauseInsolvent(id, subscriber, existing); err != nil {
			return nil, err
		}
		result.Paused++
	}

	if err := e.state.SetLastRollover(now); err != nil {
		return nil, err
	}
	e.emit(newRolloverExecutedEvent(now))
	return result, nil
}

// amountOwed sums the current fee of every bound provider whose ownership
// token still exists and returns those ids alongside the total.
func (e *Engine) amountOwed(providerIDs []uint64) (*big.Int, []uint64, error) {
	owed := new(big.Int)
	existing := make([]uint64, 0, len(providerIDs))
	for _, pid := range providerIDs {
		exists, err := e.tokens.Exists(pid)
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			continue
		}
		fee, err := e.state.ProviderFee(pid)
		if err != nil {
			return nil, nil, err
		}
		owed.Add(owed, fee)
		existing = append(existing, pid)
	}
	return owed, existing, nil
}

// settleSubscriber credits each existing bound provider by its fee and debits
// the subscriber by the total.
func (e *Engine) settleSubscriber(id uint64, subscriber *Subscriber, owed *big.Int, existing []uint64) error {
	for _, pid := range existing {
		provider, err := e.loadProvider(pid)
		if err != nil {
			return err
		}
		fee, err := e.state.ProviderFee(pid)
		if err != nil {
			return err
		}
		balance := new(big.Int).Add(provider.Balance, fee)
		if balance.Cmp(MaxBalance) > 0 {
			return fmt.Errorf("%w: provider %d balance overflow", ErrInconsistentState, pid)
		}
		provider.Balance = balance
		if err := e.storeProvider(pid, provider); err != nil {
			return err
		}
	}
	subscriber.Balance = new(big.Int).Sub(subscriber.Balance, owed)
	return e.storeSubscriber(id, subscriber)
}

// pauseInsolvent force-pauses the subscriber, releasing its slot on every
// existing bound provider. The prepaid balance is left untouched: the
// subscriber owes nothing further but also pays nothing this cycle.
func (e *Engine) pauseInsolvent(id uint64, subscriber *Subscriber, existing []uint64) error {
	for _, pid := range existing {
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
	subscriber.Paused = true
	if err := e.storeSubscriber(id, subscriber); err != nil {
		return err
	}
	e.emit(newSubscriberPausedEvent(id))
	return nil
}

package billing

import "github.com/holiman/uint256"

// Packed word layout. Each entity's full state occupies a single 256-bit word
// so that one storage slot round-trip covers every mutation.
//
//	Provider:   bits [0,128) balance | bits [128,160) subscriber count | bit 160 active
//	Subscriber: bits [0,128) balance | bits [128,136) plan             | bit 136 paused
//
// Every bit outside the defined fields must be zero; decode rejects anything
// else as structural corruption.
const (
	balanceWidth = 128

	providerCountShift = 128
	providerCountWidth = 32
	providerActiveBit  = 160

	subscriberPlanShift = 128
	subscriberPlanWidth = 8
	subscriberPausedBit = 136
)

var (
	balanceMask        = fieldMask(0, balanceWidth)
	providerCountMask  = fieldMask(0, providerCountWidth)
	providerActiveMask = fieldMask(providerActiveBit, 1)
	subscriberPlanMask = fieldMask(0, subscriberPlanWidth)
	subscriberPauseMsk = fieldMask(subscriberPausedBit, 1)

	// MaxBalance is the largest value representable in a packed balance
	// field. Engines enforce it before encoding.
	MaxBalance = fieldMask(0, balanceWidth).ToBig()
)

func fieldMask(offset, width uint) *uint256.Int {
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), width)
	mask.Sub(mask, uint256.NewInt(1))
	return mask.Lsh(mask, offset)
}

// EncodeProvider packs a provider into its state word. It is total for
// range-checked fields (balance within 128 bits); callers own the range
// discipline because encode does not re-validate.
func EncodeProvider(p *Provider) *uint256.Int {
	word := new(uint256.Int)
	if p != nil && p.Balance != nil {
		bal, _ := uint256.FromBig(p.Balance)
		word.Set(bal)
	}
	if p != nil {
		count := uint256.NewInt(uint64(p.SubscriberCount))
		word.Or(word, count.Lsh(count, providerCountShift))
		if p.Active {
			word.Or(word, providerActiveMask)
		}
	}
	return word
}

// DecodeProvider unpacks a provider state word. It fails with
// ErrMalformedEncoding when any bit outside the three defined fields is set.
func DecodeProvider(word *uint256.Int) (*Provider, error) {
	if word == nil {
		word = new(uint256.Int)
	}
	balance := new(uint256.Int).And(word, balanceMask)
	count := new(uint256.Int).Rsh(word, providerCountShift)
	count.And(count, providerCountMask)
	provider := &Provider{
		Active:          !new(uint256.Int).And(word, providerActiveMask).IsZero(),
		Balance:         balance.ToBig(),
		SubscriberCount: uint32(count.Uint64()),
	}
	if !EncodeProvider(provider).Eq(word) {
		return nil, ErrMalformedEncoding
	}
	return provider, nil
}

// EncodeSubscriber packs a subscriber into its state word. Like
// EncodeProvider it is total for range-checked fields.
func EncodeSubscriber(s *Subscriber) *uint256.Int {
	word := new(uint256.Int)
	if s != nil && s.Balance != nil {
		bal, _ := uint256.FromBig(s.Balance)
		word.Set(bal)
	}
	if s != nil {
		plan := uint256.NewInt(uint64(s.Plan))
		word.Or(word, plan.Lsh(plan, subscriberPlanShift))
		if s.Paused {
			word.Or(word, subscriberPauseMsk)
		}
	}
	return word
}

// DecodeSubscriber unpacks a subscriber state word, rejecting words with any
// bit set outside the defined fields.
func DecodeSubscriber(word *uint256.Int) (*Subscriber, error) {
	if word == nil {
		word = new(uint256.Int)
	}
	balance := new(uint256.Int).And(word, balanceMask)
	plan := new(uint256.Int).Rsh(word, subscriberPlanShift)
	plan.And(plan, subscriberPlanMask)
	subscriber := &Subscriber{
		Paused:  !new(uint256.Int).And(word, subscriberPauseMsk).IsZero(),
		Balance: balance.ToBig(),
		Plan:    Plan(plan.Uint64()),
	}
	if !EncodeSubscriber(subscriber).Eq(word) {
		return nil, ErrMalformedEncoding
	}
	return subscriber, nil
}

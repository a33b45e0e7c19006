package billing

import "math/big"

// MaxProviderID is the boundary partitioning the shared identifier space:
// ids in [1, MaxProviderID] are providers, ids above it are subscribers. Both
// entity kinds share one ownership-token id space without collision.
const MaxProviderID uint64 = 1 << 32

const (
	// MinProviderSet and MaxProviderSet bound the number of providers a
	// subscriber binds to at registration time.
	MinProviderSet = 3
	MaxProviderSet = 14

	// DepositFeeMultiplier scales the summed provider fees into the minimum
	// deposit required at subscriber registration.
	DepositFeeMultiplier = 2
)

// Plan is the informational subscription tier. It carries no pricing effect.
type Plan uint8

const (
	PlanBasic Plan = iota
	PlanPremium
	PlanVip
)

// Valid reports whether the plan is one of the defined tiers.
func (p Plan) Valid() bool { return p <= PlanVip }

func (p Plan) String() string {
	switch p {
	case PlanBasic:
		return "basic"
	case PlanPremium:
		return "premium"
	case PlanVip:
		return "vip"
	default:
		return "unknown"
	}
}

// Provider is the decoded form of a provider's packed state word. The
// recurring fee lives outside the word because it is set independently and
// mostly reasoned about alone.
type Provider struct {
	Active          bool
	Balance         *big.Int
	SubscriberCount uint32
}

// Clone produces a deep copy so callers cannot alias internal big integers.
func (p *Provider) Clone() *Provider {
	if p == nil {
		return nil
	}
	return &Provider{
		Active:          p.Active,
		Balance:         cloneBigInt(p.Balance),
		SubscriberCount: p.SubscriberCount,
	}
}

// Subscriber is the decoded form of a subscriber's packed state word. The
// bound provider list is stored separately and fixed at registration time.
type Subscriber struct {
	Paused  bool
	Balance *big.Int
	Plan    Plan
}

// Clone produces a deep copy so callers cannot alias internal big integers.
func (s *Subscriber) Clone() *Subscriber {
	if s == nil {
		return nil
	}
	return &Subscriber{
		Paused:  s.Paused,
		Balance: cloneBigInt(s.Balance),
		Plan:    s.Plan,
	}
}

// IsProviderID reports whether the id falls inside the provider partition.
func IsProviderID(id uint64) bool { return id >= 1 && id <= MaxProviderID }

// IsSubscriberID reports whether the id falls inside the subscriber partition.
func IsSubscriberID(id uint64) bool { return id > MaxProviderID }

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

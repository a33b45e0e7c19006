package billing

import (
	"fmt"
	"math/big"
	"time"
)

// DefaultRolloverInterval is the settlement cadence: one rollover per 30 days.
const DefaultRolloverInterval = 30 * 24 * time.Hour

// Params holds the construction-time configuration of the billing engine.
// All fields are immutable once the engine is wired.
type Params struct {
	// MinimumFee is the lowest recurring fee a provider may register or
	// update to.
	MinimumFee *big.Int
	// RolloverInterval is the minimum elapsed time between two successful
	// rollover settlements.
	RolloverInterval time.Duration
	// Admin is the only address permitted to overwrite provider active
	// flags in bulk.
	Admin [20]byte
}

// DefaultParams returns the parameter set used when the operator supplies no
// overrides.
func DefaultParams() Params {
	return Params{
		MinimumFee:       big.NewInt(1),
		RolloverInterval: DefaultRolloverInterval,
	}
}

// Validate checks the parameter set for internal consistency.
func (p Params) Validate() error {
	if p.MinimumFee == nil || p.MinimumFee.Sign() <= 0 {
		return fmt.Errorf("billing params: minimum fee must be positive")
	}
	if p.MinimumFee.Cmp(MaxBalance) > 0 {
		return fmt.Errorf("billing params: minimum fee exceeds 128-bit range")
	}
	if p.RolloverInterval <= 0 {
		return fmt.Errorf("billing params: rollover interval must be positive")
	}
	if p.Admin == ([20]byte{}) {
		return fmt.Errorf("billing params: admin address required")
	}
	return nil
}

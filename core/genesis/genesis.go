package genesis

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"subledger/core/state"
)

// Spec describes the initial token-ledger allocation applied to a fresh
// store before the first operation is accepted.
type Spec struct {
	Accounts []Allocation `yaml:"accounts"`
}

// Allocation funds one address with an initial balance.
type Allocation struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// Load reads and validates a genesis spec from a YAML file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a genesis spec from YAML bytes.
func Parse(data []byte) (*Spec, error) {
	spec := new(Spec)
	if err := yaml.Unmarshal(data, spec); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	for i, alloc := range spec.Accounts {
		if _, err := alloc.address(); err != nil {
			return nil, fmt.Errorf("genesis: account %d: %w", i, err)
		}
		if _, err := alloc.balance(); err != nil {
			return nil, fmt.Errorf("genesis: account %d: %w", i, err)
		}
	}
	return spec, nil
}

func (a Allocation) address() ([20]byte, error) {
	if !common.IsHexAddress(a.Address) {
		return [20]byte{}, fmt.Errorf("invalid address %q", a.Address)
	}
	return common.HexToAddress(a.Address), nil
}

func (a Allocation) balance() (*big.Int, error) {
	balance, ok := new(big.Int).SetString(a.Balance, 10)
	if !ok || balance.Sign() < 0 {
		return nil, fmt.Errorf("invalid balance %q", a.Balance)
	}
	return balance, nil
}

// Apply credits every allocation into the state manager. The caller commits.
func (s *Spec) Apply(m *state.Manager) error {
	if s == nil {
		return nil
	}
	for i, alloc := range s.Accounts {
		addr, err := alloc.address()
		if err != nil {
			return fmt.Errorf("genesis: account %d: %w", i, err)
		}
		balance, err := alloc.balance()
		if err != nil {
			return fmt.Errorf("genesis: account %d: %w", i, err)
		}
		if err := m.Credit(addr, balance); err != nil {
			return fmt.Errorf("genesis: account %d: %w", i, err)
		}
	}
	return nil
}

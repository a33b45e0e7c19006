package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"subledger/native/billing"
)

// Storage backend selectors.
const (
	BackendLevelDB = "leveldb"
	BackendBoltDB  = "bbolt"
	BackendMemory  = "memory"
)

type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	Backend              string `toml:"Backend"`
	GenesisFile          string `toml:"GenesisFile"`
	AdminAddress         string `toml:"AdminAddress"`
	MinimumFee           string `toml:"MinimumFee"`
	RolloverIntervalDays int    `toml:"RolloverIntervalDays"`

	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	RPCRequestsPerMinute float64 `toml:"RPCRequestsPerMinute"`
	RPCBurst             int     `toml:"RPCBurst"`
}

func defaults() *Config {
	return &Config{
		RPCAddress:           "127.0.0.1:8650",
		DataDir:              "./subledger-data",
		Backend:              BackendLevelDB,
		MinimumFee:           "1",
		RolloverIntervalDays: 30,
		LogMaxSizeMB:         100,
		LogMaxBackups:        5,
		LogMaxAgeDays:        30,
		RPCRequestsPerMinute: 600,
		RPCBurst:             30,
	}
}

// Load reads the configuration from the given path, falling back to defaults
// for unset fields. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Backend) {
	case BackendLevelDB, BackendBoltDB, BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Backend)
	}
	if strings.TrimSpace(c.DataDir) == "" && c.Backend != BackendMemory {
		return fmt.Errorf("config: data dir required for backend %q", c.Backend)
	}
	if strings.TrimSpace(c.AdminAddress) != "" && !common.IsHexAddress(c.AdminAddress) {
		return fmt.Errorf("config: invalid admin address %q", c.AdminAddress)
	}
	if _, err := c.minimumFee(); err != nil {
		return err
	}
	if c.RolloverIntervalDays <= 0 {
		return fmt.Errorf("config: rollover interval must be positive")
	}
	return nil
}

func (c *Config) minimumFee() (*big.Int, error) {
	fee, ok := new(big.Int).SetString(strings.TrimSpace(c.MinimumFee), 10)
	if !ok || fee.Sign() <= 0 {
		return nil, fmt.Errorf("config: invalid minimum fee %q", c.MinimumFee)
	}
	return fee, nil
}

// EngineParams assembles the billing engine parameters from the
// configuration.
func (c *Config) EngineParams() (billing.Params, error) {
	fee, err := c.minimumFee()
	if err != nil {
		return billing.Params{}, err
	}
	if !common.IsHexAddress(c.AdminAddress) {
		return billing.Params{}, fmt.Errorf("config: admin address required")
	}
	params := billing.Params{
		MinimumFee:       fee,
		RolloverInterval: time.Duration(c.RolloverIntervalDays) * 24 * time.Hour,
		Admin:            common.HexToAddress(c.AdminAddress),
	}
	if err := params.Validate(); err != nil {
		return billing.Params{}, err
	}
	return params, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// AssetConfig describes one collateral asset: its allocation policy across
// strategies plus the reserve share kept in immediate custody.
type AssetConfig struct {
	Symbol                string            `toml:"Symbol"`
	ReserveBufferBps      uint64            `toml:"ReserveBufferBps"`
	StrategyBps           map[string]uint64 `toml:"StrategyBps"`
	RebalanceThresholdBps uint64            `toml:"RebalanceThresholdBps"`
	MaxUtilizationBps     uint64            `toml:"MaxUtilizationBps"`
}

// LiquidationConfig carries the coordinator parameters.
type LiquidationConfig struct {
	ThresholdBps          uint64 `toml:"ThresholdBps"`
	GasCompBps            uint64 `toml:"GasCompBps"`
	PoolAddress           string `toml:"PoolAddress"`
	RedistributionAddress string `toml:"RedistributionAddress"`
}

// Config is the daemon configuration.
type Config struct {
	ListenAddress            string            `toml:"ListenAddress"`
	DataDir                  string            `toml:"DataDir"`
	Environment              string            `toml:"Environment"`
	LogFile                  string            `toml:"LogFile"`
	OracleMaxAgeSeconds      uint64            `toml:"OracleMaxAgeSeconds"`
	RebalanceIntervalSeconds uint64            `toml:"RebalanceIntervalSeconds"`
	RecallPriority           []string          `toml:"RecallPriority"`
	Liquidation              LiquidationConfig `toml:"Liquidation"`
	Assets                   []AssetConfig     `toml:"Assets"`
}

// OracleMaxAge returns the staleness window for oracle quotes.
func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.OracleMaxAgeSeconds) * time.Second
}

// RebalanceInterval returns the keeper loop period.
func (c *Config) RebalanceInterval() time.Duration {
	return time.Duration(c.RebalanceIntervalSeconds) * time.Second
}

const basisPointsDenom = 10_000

// Load reads the configuration from path, creating a default file when none
// exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.ensureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) ensureDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8647"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./fluidity-data"
	}
	if c.OracleMaxAgeSeconds == 0 {
		c.OracleMaxAgeSeconds = 300
	}
	if c.RebalanceIntervalSeconds == 0 {
		c.RebalanceIntervalSeconds = 60
	}
	if len(c.RecallPriority) == 0 {
		c.RecallPriority = []string{"amm", "vault", "staking"}
	}
	if c.Liquidation.ThresholdBps == 0 {
		c.Liquidation.ThresholdBps = 11_000
	}
	if c.Liquidation.GasCompBps == 0 {
		c.Liquidation.GasCompBps = 50
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Liquidation.ThresholdBps < basisPointsDenom {
		return fmt.Errorf("liquidation threshold %d below %d", c.Liquidation.ThresholdBps, basisPointsDenom)
	}
	if c.Liquidation.GasCompBps >= basisPointsDenom {
		return fmt.Errorf("gas compensation %d must stay below %d", c.Liquidation.GasCompBps, basisPointsDenom)
	}
	seen := make(map[string]struct{}, len(c.Assets))
	for _, asset := range c.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if symbol == "" {
			return fmt.Errorf("asset with empty symbol")
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("duplicate asset %s", symbol)
		}
		seen[symbol] = struct{}{}
		total := asset.ReserveBufferBps
		for _, bps := range asset.StrategyBps {
			total += bps
		}
		if total > basisPointsDenom {
			return fmt.Errorf("asset %s allocation exceeds 100%%", symbol)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.ensureDefaults()
	cfg.Assets = []AssetConfig{{
		Symbol:                "ZNHB",
		ReserveBufferBps:      3000,
		StrategyBps:           map[string]uint64{"amm": 7000},
		RebalanceThresholdBps: 500,
		MaxUtilizationBps:     9000,
	}}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

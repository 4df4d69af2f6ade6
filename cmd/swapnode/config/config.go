// Package config loads the swapnode YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/defistate/microswap/engine"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// DataDir holds the leveldb store. Empty runs without persistence.
	DataDir  string        `yaml:"dataDir"`
	LogLevel string        `yaml:"logLevel"`
	Network  NetworkConfig `yaml:"network"`
	API      APIConfig     `yaml:"api"`
	Stream   StreamConfig  `yaml:"stream"`
	Monitor  MonitorConfig `yaml:"monitor"`
	Genesis  Genesis       `yaml:"genesis"`
}

type NetworkConfig struct {
	MaxBatch int `yaml:"maxBatch"`
}

type APIConfig struct {
	Addr            string        `yaml:"addr"`
	AllowOperations bool          `yaml:"allowOperations"`
	QueryTimeout    time.Duration `yaml:"queryTimeout"`
}

type StreamConfig struct {
	Addr string `yaml:"addr"`
}

type MonitorConfig struct {
	StuckAfter time.Duration `yaml:"stuckAfter"`
	Interval   time.Duration `yaml:"interval"`
}

// Genesis describes the chains and applications created on first start.
type Genesis struct {
	Chains []ChainGenesis `yaml:"chains"`
	Tokens []TokenGenesis `yaml:"tokens"`
	Router RouterGenesis  `yaml:"router"`
	Pools  []PoolGenesis  `yaml:"pools"`
}

// ChainGenesis seeds a chain id from Name and credits native balances by owner name.
type ChainGenesis struct {
	Name     string            `yaml:"name"`
	Balances map[string]string `yaml:"balances"`
}

type TokenGenesis struct {
	Name     string           `yaml:"name"`
	Symbol   string           `yaml:"symbol"`
	Decimals uint8            `yaml:"decimals"`
	Chain    string           `yaml:"chain"`
	Balances []AccountBalance `yaml:"balances"`
}

type AccountBalance struct {
	Account AccountRef `yaml:"account"`
	Amount  string     `yaml:"amount"`
}

// AccountRef names an owner on a chain by their seeds.
type AccountRef struct {
	Chain string `yaml:"chain"`
	Owner string `yaml:"owner"`
}

func (a AccountRef) Account() engine.Account {
	return engine.Account{ChainID: engine.NewChainID(a.Chain), Owner: engine.NewOwner(a.Owner)}
}

type RouterGenesis struct {
	Chain string `yaml:"chain"`
}

// PoolGenesis creates a pool through the router. Token symbols refer to
// Genesis.Tokens; an empty Token1 is the native side.
type PoolGenesis struct {
	Creator                 AccountRef `yaml:"creator"`
	Token0                  string     `yaml:"token0"`
	Token1                  string     `yaml:"token1"`
	PoolFeeBps              *uint16    `yaml:"poolFeeBps"`
	ProtocolFeeBps          *uint16    `yaml:"protocolFeeBps"`
	VirtualInitialLiquidity bool       `yaml:"virtualInitialLiquidity"`
	Amount0                 string     `yaml:"amount0"`
	Amount1                 string     `yaml:"amount1"`
}

// LoadConfig reads path, applies defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}
	if c.API.QueryTimeout == 0 {
		c.API.QueryTimeout = 5 * time.Second
	}
	if c.Stream.Addr == "" {
		c.Stream.Addr = ":8546"
	}
	if c.Monitor.StuckAfter == 0 {
		c.Monitor.StuckAfter = 2 * time.Minute
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Monitor.StuckAfter < time.Second {
		return errors.New("config: monitor.stuckAfter must be at least 1s")
	}
	return c.Genesis.validate()
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("config: invalid logLevel %q", c.LogLevel)
	}
	return level, nil
}

func (g *Genesis) validate() error {
	chains := make(map[string]bool, len(g.Chains))
	for _, ch := range g.Chains {
		if ch.Name == "" {
			return errors.New("config: genesis chain name is required")
		}
		if chains[ch.Name] {
			return fmt.Errorf("config: duplicate genesis chain %q", ch.Name)
		}
		chains[ch.Name] = true
		for owner, amount := range ch.Balances {
			if _, err := engine.ParseAmount(amount); err != nil {
				return fmt.Errorf("config: chain %s balance of %s: %w", ch.Name, owner, err)
			}
		}
	}
	known := func(chain string) error {
		if !chains[chain] {
			return fmt.Errorf("config: unknown chain %q", chain)
		}
		return nil
	}

	symbols := make(map[string]bool, len(g.Tokens))
	for _, tok := range g.Tokens {
		if tok.Symbol == "" {
			return errors.New("config: token symbol is required")
		}
		if symbols[tok.Symbol] {
			return fmt.Errorf("config: duplicate token %q", tok.Symbol)
		}
		symbols[tok.Symbol] = true
		if err := known(tok.Chain); err != nil {
			return err
		}
		for _, b := range tok.Balances {
			if _, err := engine.ParseAmount(b.Amount); err != nil {
				return fmt.Errorf("config: token %s balance: %w", tok.Symbol, err)
			}
		}
	}

	if g.Router.Chain == "" {
		if len(g.Pools) > 0 {
			return errors.New("config: genesis pools require a router")
		}
		return nil
	}
	if err := known(g.Router.Chain); err != nil {
		return err
	}
	for i, p := range g.Pools {
		if !symbols[p.Token0] {
			return fmt.Errorf("config: pool %d: unknown token0 %q", i, p.Token0)
		}
		if p.Token1 != "" && !symbols[p.Token1] {
			return fmt.Errorf("config: pool %d: unknown token1 %q", i, p.Token1)
		}
		if err := known(p.Creator.Chain); err != nil {
			return fmt.Errorf("config: pool %d creator: %w", i, err)
		}
	}
	return nil
}

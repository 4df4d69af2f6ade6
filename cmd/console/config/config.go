// Package config loads the console YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/defistate/microswap/engine"
	"gopkg.in/yaml.v3"
)

type ClientConfig struct {
	// StateStreamURL is the websocket endpoint of a swapnode state stream.
	StateStreamURL string `yaml:"stateStreamURL"`
	// Chain is a chain id in hex or the name it was seeded from.
	Chain   string `yaml:"chain"`
	LogFile string `yaml:"logFile"`
}

// ChainID resolves Chain.
func (c *ClientConfig) ChainID() (engine.ChainID, error) {
	if !strings.HasPrefix(c.Chain, "0x") {
		return engine.NewChainID(c.Chain), nil
	}
	var id engine.ChainID
	if err := id.UnmarshalText([]byte(c.Chain)); err != nil {
		return id, fmt.Errorf("config: invalid chain %q: %w", c.Chain, err)
	}
	return id, nil
}

func (c *ClientConfig) validate() error {
	if c.StateStreamURL == "" {
		return errors.New("config: stateStreamURL is required")
	}
	if c.Chain == "" {
		return errors.New("config: chain is required")
	}
	_, err := c.ChainID()
	return err
}

// LoadConfig reads and validates the file at path.
func LoadConfig(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg ClientConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "console.log"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

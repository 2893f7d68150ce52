package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Policy is the optional TOML file operators use to retune risk tiers and
// cooldown presets without a redeploy.
//
//	[risk]
//	monitor = 3
//	high = 5
//
//	[cooldown.presets]
//	"3m" = 3
//	"6m" = 6
//	"1y" = 12
type Policy struct {
	Risk     RiskPolicy     `toml:"risk"`
	Cooldown CooldownPolicy `toml:"cooldown"`
}

type RiskPolicy struct {
	Monitor int `toml:"monitor,omitempty"`
	High    int `toml:"high,omitempty"`
}

type CooldownPolicy struct {
	Presets map[string]int `toml:"presets,omitempty"`
}

// LoadPolicy reads a policy file.
func LoadPolicy(path string) (Policy, error) {
	var p Policy
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading policy file: %w", err)
	}
	if err := toml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parsing policy file: %w", err)
	}
	return p, nil
}

// ApplyPolicyFile merges PolicyFile, when set, over the environment values.
// Values missing from the file keep their current setting; a presets table
// extends or overrides the built-in presets and cannot remove them.
func (c *Config) ApplyPolicyFile() error {
	if c.PolicyFile == "" {
		return nil
	}
	p, err := LoadPolicy(c.PolicyFile)
	if err != nil {
		return err
	}
	if p.Risk.Monitor != 0 {
		c.RiskMonitorThreshold = p.Risk.Monitor
	}
	if p.Risk.High != 0 {
		c.RiskHighThreshold = p.Risk.High
	}
	if len(p.Cooldown.Presets) > 0 {
		c.CooldownPresets = p.Cooldown.Presets
	}
	return nil
}

// SavePolicy writes the policy as TOML.
func SavePolicy(path string, p Policy) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating policy file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(p)
}

// Package services provides the allocation engines and the orchestration
// that ties them together.
//
// This file holds the registry of named cooldown presets. A gated grant's
// cooldown is either one of these presets or a custom number of months.
package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"aidledger/internal/core"
)

// Default cooldown presets offered when creating a gated grant.
const (
	PresetThreeMonths = "3m"
	PresetSixMonths   = "6m"
)

// CooldownPresets maps preset names to a number of months.
type CooldownPresets struct {
	mu      sync.RWMutex
	presets map[string]int
}

// DefaultCooldownPresets returns the 3 and 6 month presets.
func DefaultCooldownPresets() *CooldownPresets {
	return &CooldownPresets{presets: map[string]int{
		PresetThreeMonths: 3,
		PresetSixMonths:   6,
	}}
}

// Register adds or replaces a preset.
func (c *CooldownPresets) Register(name string, months int) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("cooldown preset name is empty")
	}
	if months <= 0 {
		return fmt.Errorf("cooldown preset %s: %w", name, core.ErrInvalidCooldown)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presets[name] = months
	return nil
}

// Resolve turns a preset name or a custom month count into months. A preset
// name wins when both are given. Zero or negative custom values are rejected.
func (c *CooldownPresets) Resolve(preset string, custom int) (int, error) {
	if preset = strings.TrimSpace(preset); preset != "" {
		c.mu.RLock()
		months, ok := c.presets[preset]
		c.mu.RUnlock()
		if !ok {
			return 0, fmt.Errorf("unknown cooldown preset %q", preset)
		}
		return months, nil
	}
	if custom <= 0 {
		return 0, core.ErrInvalidCooldown
	}
	return custom, nil
}

// Names lists preset names in ascending month order.
func (c *CooldownPresets) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.presets))
	for n := range c.presets {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if c.presets[names[i]] == c.presets[names[j]] {
			return names[i] < names[j]
		}
		return c.presets[names[i]] < c.presets[names[j]]
	})
	return names
}

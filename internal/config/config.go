// Package config defines the engine's configuration, loaded from a
// YAML file with environment-variable overrides (FLOXCORE_ prefix),
// following the retrieval pack's viper-based loader idiom.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// SymbolConfig describes one symbol traded on an exchange.
type SymbolConfig struct {
	Symbol            string  `mapstructure:"symbol"`
	TickSize          float64 `mapstructure:"tick_size"`
	ExpectedDeviation float64 `mapstructure:"expected_deviation"`
}

// ExchangeConfig describes one exchange connection and the symbols the
// engine tracks on it.
type ExchangeConfig struct {
	Name    string         `mapstructure:"name"`
	Type    string         `mapstructure:"type"`
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// KillSwitchConfig carries kill-switch thresholds as inert data: the
// engine core never enforces these itself (Non-goal — risk management
// is an external collaborator), but every engine config needs a stable
// shape for that collaborator to bind to.
type KillSwitchConfig struct {
	MaxOrderQty        float64 `mapstructure:"max_order_qty"`
	MaxLoss            float64 `mapstructure:"max_loss"`
	MaxOrdersPerSecond int     `mapstructure:"max_orders_per_second"`
}

// DefaultKillSwitchConfig returns a generous order-size cap, an
// effectively unlimited loss budget, and no rate cap, so a config file
// that omits the block behaves the same as no kill switch configured.
func DefaultKillSwitchConfig() KillSwitchConfig {
	return KillSwitchConfig{
		MaxOrderQty:        10_000.0,
		MaxLoss:            -1e6,
		MaxOrdersPerSecond: -1,
	}
}

// EngineConfig is the engine's top-level configuration.
type EngineConfig struct {
	Exchanges         []ExchangeConfig `mapstructure:"exchanges"`
	KillSwitchConfig  KillSwitchConfig `mapstructure:"kill_switch"`
	LogLevel          string           `mapstructure:"log_level"`
	LogFile           string           `mapstructure:"log_file"`
	EventBusQueueSize int              `mapstructure:"event_bus_queue_size"`
	OrderTrackerSlots int              `mapstructure:"order_tracker_slots"`
}

const envPrefix = "FLOXCORE"

// Load reads an EngineConfig from path, applying FLOXCORE_-prefixed
// environment variable overrides (nested keys joined with underscores,
// e.g. FLOXCORE_KILL_SWITCH_MAX_ORDER_QTY).
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("event_bus_queue_size", 4096)
	v.SetDefault("order_tracker_slots", 65536)
	ks := DefaultKillSwitchConfig()
	v.SetDefault("kill_switch.max_order_qty", ks.MaxOrderQty)
	v.SetDefault("kill_switch.max_loss", ks.MaxLoss)
	v.SetDefault("kill_switch.max_orders_per_second", ks.MaxOrdersPerSecond)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg EngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the structural invariants a loaded EngineConfig must
// satisfy before the engine wires itself up from it.
func (c *EngineConfig) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config: at least one exchange must be configured")
	}
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("config: exchange missing name")
		}
		if len(ex.Symbols) == 0 {
			return fmt.Errorf("config: exchange %q has no symbols", ex.Name)
		}
		for _, sym := range ex.Symbols {
			if sym.Symbol == "" {
				return fmt.Errorf("config: exchange %q has a symbol with an empty name", ex.Name)
			}
			if sym.TickSize <= 0 {
				return fmt.Errorf("config: exchange %q symbol %q: tick_size must be > 0", ex.Name, sym.Symbol)
			}
			if sym.ExpectedDeviation <= 0 {
				return fmt.Errorf("config: exchange %q symbol %q: expected_deviation must be > 0", ex.Name, sym.Symbol)
			}
		}
	}
	return nil
}

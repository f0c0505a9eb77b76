package epoch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/derivex/rewards-engine/internal/model"
	"github.com/derivex/rewards-engine/internal/stake"
)

// Config is the operator-supplied epoch programme: the epochs to run,
// the reward curve and schedule parameters, the market registry, and the
// staking event history used for boost balances.
type Config struct {
	Epochs  []model.Epoch       `json:"epochs"`
	Rewards model.RewardsConfig `json:"rewards"`

	// Markets maps option-market contract addresses to market names.
	Markets map[string]string `json:"markets"`

	// CooldownEvents is the staking event dump feeding the boost curve.
	CooldownEvents []stake.CooldownEvent `json:"cooldown_events"`
}

// LoadConfig reads and validates a JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("epoch: read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("epoch: parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("epoch: config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Epochs) == 0 {
		return fmt.Errorf("no epochs configured")
	}
	seen := make(map[string]struct{}, len(c.Epochs))
	for _, ep := range c.Epochs {
		if ep.ID == "" {
			return fmt.Errorf("epoch with empty id")
		}
		if _, dup := seen[ep.ID]; dup {
			return fmt.Errorf("duplicate epoch id %s", ep.ID)
		}
		seen[ep.ID] = struct{}{}
		if ep.EndTimestamp <= ep.StartTimestamp {
			return fmt.Errorf("epoch %s: end %d not after start %d", ep.ID, ep.EndTimestamp, ep.StartTimestamp)
		}
		if len(ep.EnabledMarkets) == 0 {
			return fmt.Errorf("epoch %s: no enabled markets", ep.ID)
		}
	}
	return nil
}

// Epoch looks up a configured epoch by ID.
func (c *Config) Epoch(id string) (model.Epoch, bool) {
	for _, ep := range c.Epochs {
		if ep.ID == id {
			return ep, true
		}
	}
	return model.Epoch{}, false
}

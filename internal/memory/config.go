package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config bounds a conversation's history. Per-tenant overrides arrive as JSON
// and are merged over the service-wide limits by ParseConfig.
type Config struct {
	MaxTurns  int `json:"max_turns"`
	MaxTokens int `json:"max_tokens"`
	TTLSec    int `json:"ttl_sec"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:  20,
		MaxTokens: 8000,
		TTLSec:    3600,
	}
}

func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// ParseConfig merges conversation limits from JSON over base.
// Returns base on nil, empty, or invalid input. Non-positive values keep the
// base value for that field.
func ParseConfig(base Config, data []byte) Config {
	base = base.withDefaults()
	if len(data) == 0 {
		return base
	}

	var override Config
	if err := json.Unmarshal(data, &override); err != nil {
		return base
	}
	return override.over(base)
}

// ParseTenantLimits decodes a JSON object mapping user ids to partial limits,
// each merged over base. An empty input yields no overrides.
func ParseTenantLimits(base Config, data []byte) (map[string]Config, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding tenant conversation limits: %w", err)
	}

	out := make(map[string]Config, len(raw))
	for userID, entry := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			return nil, fmt.Errorf("decoding conversation limits for %q: %w", userID, err)
		}
		out[userID] = ParseConfig(base, entry)
	}
	return out, nil
}

// over fills c's non-positive fields from base.
func (c Config) over(base Config) Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = base.MaxTurns
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = base.MaxTokens
	}
	if c.TTLSec <= 0 {
		c.TTLSec = base.TTLSec
	}
	return c
}

func (c Config) withDefaults() Config {
	return c.over(DefaultConfig())
}

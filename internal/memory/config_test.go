package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Nil(t *testing.T) {
	cfg := ParseConfig(Config{}, nil)
	assert.Equal(t, 20, cfg.MaxTurns)
	assert.Equal(t, 8000, cfg.MaxTokens)
	assert.Equal(t, 3600, cfg.TTLSec)
	assert.Equal(t, time.Hour, cfg.TTL())
}

func TestParseConfig_EmptyObject(t *testing.T) {
	base := Config{MaxTurns: 5, MaxTokens: 1000, TTLSec: 60}
	assert.Equal(t, base, ParseConfig(base, []byte(`{}`)))
}

func TestParseConfig_InvalidJSON(t *testing.T) {
	base := Config{MaxTurns: 5, MaxTokens: 1000, TTLSec: 60}
	assert.Equal(t, base, ParseConfig(base, []byte(`not json`)))
}

func TestParseConfig_PartialMergesOverBase(t *testing.T) {
	base := Config{MaxTurns: 5, MaxTokens: 1000, TTLSec: 60}
	cfg := ParseConfig(base, []byte(`{"max_turns": 30, "max_tokens": -5}`))
	assert.Equal(t, Config{MaxTurns: 30, MaxTokens: 1000, TTLSec: 60}, cfg)
}

func TestParseTenantLimits(t *testing.T) {
	base := DefaultConfig()
	limits, err := ParseTenantLimits(base, []byte(`{"acme": {"max_turns": 4}, "globex": {"ttl_sec": 600}}`))
	require.NoError(t, err)
	assert.Equal(t, Config{MaxTurns: 4, MaxTokens: 8000, TTLSec: 3600}, limits["acme"])
	assert.Equal(t, Config{MaxTurns: 20, MaxTokens: 8000, TTLSec: 600}, limits["globex"])

	limits, err = ParseTenantLimits(base, nil)
	require.NoError(t, err)
	assert.Empty(t, limits)

	_, err = ParseTenantLimits(base, []byte(`["acme"]`))
	assert.Error(t, err)
	_, err = ParseTenantLimits(base, []byte(`{"acme": 3}`))
	assert.Error(t, err)
}

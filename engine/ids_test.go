package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedIDs(t *testing.T) {
	a := NewChainID("alice")
	assert.Equal(t, a, NewChainID("alice"), "derivation must be deterministic")
	assert.NotEqual(t, a, NewChainID("bob"))

	app1 := NewApplicationID(a, "pool", 0)
	app2 := NewApplicationID(a, "pool", 1)
	assert.NotEqual(t, app1, app2)
	assert.NotEqual(t, Owner(app1), ApplicationOwner(app1), "application owner is a separate derivation")
}

func TestAccountText(t *testing.T) {
	acc := Account{ChainID: NewChainID("c"), Owner: NewOwner("o")}

	// Accounts are used as JSON object keys for balances and shares.
	raw, err := json.Marshal(map[Account]Amount{acc: AmountFromTokens(2)})
	require.NoError(t, err)

	var back map[Account]Amount
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Contains(t, back, acc)
	assert.Equal(t, "2", back[acc].String())

	var bad Account
	assert.Error(t, bad.UnmarshalText([]byte("no-separator")))
}

func TestTimestampSince(t *testing.T) {
	now := TimestampFromTime(time.Unix(100, 0))
	earlier := TimestampFromTime(time.Unix(40, 0))
	assert.Equal(t, 60*time.Second, now.Since(earlier))
	assert.Zero(t, earlier.Since(now))
}

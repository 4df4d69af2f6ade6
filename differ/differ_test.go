package differ

import (
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intDiff int

func (d intDiff) IsEmpty() bool { return d == 0 }

func intDiffer(old, new any) (any, error) {
	prev := 0
	if old != nil {
		prev = old.(int)
	}
	return intDiff(new.(int) - prev), nil
}

var (
	chain  = engine.NewChainID("chain")
	schema = engine.ApplicationSchema("mock/int@v1")
)

func newDiffer(t *testing.T) *StateDiffer {
	t.Helper()
	d, err := NewStateDiffer(&StateDifferConfig{
		ApplicationDiffers: map[engine.ApplicationSchema]ApplicationDiffer{schema: intDiffer},
		Registry:           prometheus.NewRegistry(),
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return d
}

func state(height uint64, apps map[engine.ApplicationID]engine.ApplicationState) *engine.State {
	return &engine.State{ChainID: chain, Block: engine.BlockSummary{Height: height}, Applications: apps}
}

func TestDiff(t *testing.T) {
	d := newDiffer(t)
	same := engine.NewApplicationID(chain, "int", 1)
	moved := engine.NewApplicationID(chain, "int", 2)
	added := engine.NewApplicationID(chain, "int", 3)

	old := state(4, map[engine.ApplicationID]engine.ApplicationState{
		same:  {Schema: schema, Data: 1},
		moved: {Schema: schema, Data: 10},
	})
	next := state(5, map[engine.ApplicationID]engine.ApplicationState{
		same:  {Schema: schema, Data: 1},
		moved: {Schema: schema, Data: 13},
		added: {Schema: schema, Data: 0},
	})

	diff, err := d.Diff(old, next)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), diff.FromBlock)
	assert.Equal(t, uint64(5), diff.ToBlock.Height)
	assert.NotContains(t, diff.Applications, same)
	assert.Equal(t, intDiff(3), diff.Applications[moved].Data)
	// a new application is always carried, even with an empty diff
	assert.Contains(t, diff.Applications, added)
}

func TestDiffRejects(t *testing.T) {
	d := newDiffer(t)
	id := engine.NewApplicationID(chain, "int", 1)

	t.Run("errored state", func(t *testing.T) {
		bad := state(1, map[engine.ApplicationID]engine.ApplicationState{id: {Schema: schema, Error: "boom"}})
		_, err := d.Diff(state(0, nil), bad)
		require.Error(t, err)
	})

	t.Run("unknown schema", func(t *testing.T) {
		next := state(1, map[engine.ApplicationID]engine.ApplicationState{id: {Schema: "mock/other@v1", Data: 1}})
		_, err := d.Diff(state(0, nil), next)
		require.ErrorContains(t, err, "no differ registered")
	})

	t.Run("other chain", func(t *testing.T) {
		other := &engine.State{ChainID: engine.NewChainID("other")}
		_, err := d.Diff(state(0, nil), other)
		require.ErrorContains(t, err, "chain mismatch")
	})
}

func TestNewStateDifferValidates(t *testing.T) {
	_, err := NewStateDiffer(&StateDifferConfig{Logger: slog.Default()})
	require.Error(t, err)
	_, err = NewStateDiffer(&StateDifferConfig{Registry: prometheus.NewRegistry()})
	require.Error(t, err)
}

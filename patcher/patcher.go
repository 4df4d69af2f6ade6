package patcher

import (
	"errors"
	"fmt"

	"github.com/defistate/microswap/differ"
	"github.com/defistate/microswap/engine"
)

// PatcherFunc applies a diff to a previous view to produce a new view.
//
// Implementations must not mutate prev. prev is nil for an application that
// first appears in this diff.
type PatcherFunc func(prev any, diff any) (next any, err error)

type StatePatcherConfig struct {
	// Schema -> patcher.
	// Example: "microswap/pool/View@v1" -> pool view patcher
	Patchers map[engine.ApplicationSchema]PatcherFunc
}

func (c *StatePatcherConfig) validate() error {
	for _, patcher := range c.Patchers {
		if patcher == nil {
			return errors.New("patcher cannot be nil")
		}
	}
	return nil
}

// StatePatcher rebuilds a chain state from the previous state and a diff.
type StatePatcher struct {
	patchers map[engine.ApplicationSchema]PatcherFunc
}

func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	patchers := make(map[engine.ApplicationSchema]PatcherFunc, len(cfg.Patchers))
	for k, v := range cfg.Patchers {
		patchers[k] = v
	}

	return &StatePatcher{
		patchers: patchers,
	}, nil
}

// Patch applies diff to oldState. Applications absent from the diff are shared
// with oldState by reference.
func (p *StatePatcher) Patch(oldState *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	if oldState.ChainID != diff.ChainID {
		return nil, fmt.Errorf("patcher: chain mismatch (state=%s, diff=%s)", oldState.ChainID.Short(), diff.ChainID.Short())
	}
	if oldState.Block.Height != diff.FromBlock {
		return nil, fmt.Errorf("patcher: mismatch fromBlock (state=%d, diff=%d)", oldState.Block.Height, diff.FromBlock)
	}

	apps := make(map[engine.ApplicationID]engine.ApplicationState, len(oldState.Applications)+len(diff.Applications))
	for k, v := range oldState.Applications {
		apps[k] = v
	}

	for id, appDiff := range diff.Applications {
		patcherFunc, ok := p.patchers[appDiff.Schema]
		if !ok {
			return nil, fmt.Errorf("patcher: no patcher registered for schema %q (application=%s)", appDiff.Schema, id.Short())
		}

		var oldData any
		if old, exists := oldState.Applications[id]; exists {
			if old.Schema != appDiff.Schema {
				return nil, fmt.Errorf("patcher: schema mismatch for application %s (old=%s, diff=%s)", id.Short(), old.Schema, appDiff.Schema)
			}
			oldData = old.Data
		}

		newData, err := patcherFunc(oldData, appDiff.Data)
		if err != nil {
			return nil, fmt.Errorf("patcher: failed to patch application %s: %w", id.Short(), err)
		}

		apps[id] = engine.ApplicationState{
			Meta:   appDiff.Meta,
			Schema: appDiff.Schema,
			Data:   newData,
			Error:  appDiff.Error,
		}
	}

	return &engine.State{
		ChainID:      oldState.ChainID,
		Timestamp:    diff.Timestamp,
		Block:        diff.ToBlock,
		Applications: apps,
	}, nil
}

// Package stateops binds the differ and patcher engines to the microswap
// application schemas and decodes their JSON payloads.
package stateops

import (
	"encoding/json"
	"fmt"

	"github.com/defistate/microswap/differ"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/patcher"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/protocols/router"
	"github.com/defistate/microswap/protocols/token"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateOps is the differ used by the server and the patcher used by a client.
type StateOps struct {
	*differ.StateDiffer
	*patcher.StatePatcher

	codecs map[engine.ApplicationSchema]codec
}

type codec struct {
	view func(json.RawMessage) (any, error)
	diff func(json.RawMessage) (any, error)
}

// schemaOps holds the typed functions for one schema.
type schemaOps[V any, D any] struct {
	differ  func(old, new V) D
	patcher func(prev V, diff D) (V, error)
}

// asView treats a missing previous view as the zero view.
func asView[V any](v any) (V, error) {
	var zero V
	if v == nil {
		return zero, nil
	}
	switch t := v.(type) {
	case V:
		return t, nil
	case *V:
		return *t, nil
	}
	return zero, fmt.Errorf("unexpected view type %T", v)
}

func (s schemaOps[V, D]) diff(old, new any) (any, error) {
	o, err := asView[V](old)
	if err != nil {
		return nil, err
	}
	n, err := asView[V](new)
	if err != nil {
		return nil, err
	}
	return s.differ(o, n), nil
}

func (s schemaOps[V, D]) patch(prev, diff any) (any, error) {
	p, err := asView[V](prev)
	if err != nil {
		return nil, err
	}
	d, ok := diff.(D)
	if !ok {
		return nil, fmt.Errorf("unexpected diff type %T", diff)
	}
	return s.patcher(p, d)
}

func (s schemaOps[V, D]) codec() codec {
	return codec{
		view: func(raw json.RawMessage) (any, error) {
			var v V
			if err := engine.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		diff: func(raw json.RawMessage) (any, error) {
			var d D
			if err := engine.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return d, nil
		},
	}
}

type registration interface {
	diff(old, new any) (any, error)
	patch(prev, diff any) (any, error)
	codec() codec
}

func registrations() map[engine.ApplicationSchema]registration {
	return map[engine.ApplicationSchema]registration{
		pool.Schema:   schemaOps[pool.View, pool.ViewDiff]{differ: pool.Differ, patcher: pool.Patcher},
		token.Schema:  schemaOps[token.View, token.ViewDiff]{differ: token.Differ, patcher: token.Patcher},
		router.Schema: schemaOps[router.View, router.ViewDiff]{differ: router.Differ, patcher: router.Patcher},
	}
}

func NewStateOps(logger Logger, prometheusRegistry prometheus.Registerer) (*StateOps, error) {
	regs := registrations()
	differs := make(map[engine.ApplicationSchema]differ.ApplicationDiffer, len(regs))
	patchers := make(map[engine.ApplicationSchema]patcher.PatcherFunc, len(regs))
	codecs := make(map[engine.ApplicationSchema]codec, len(regs))
	for schema, r := range regs {
		differs[schema] = r.diff
		patchers[schema] = r.patch
		codecs[schema] = r.codec()
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		ApplicationDiffers: differs,
		Logger:             logger,
		Registry:           prometheusRegistry,
	})
	if err != nil {
		return nil, err
	}

	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{
		Patchers: patchers,
	})
	if err != nil {
		return nil, err
	}

	return &StateOps{
		StateDiffer:  stateDiffer,
		StatePatcher: statePatcher,
		codecs:       codecs,
	}, nil
}

// DecodeStateJSON decodes an application view carried as raw JSON.
func (ops *StateOps) DecodeStateJSON(schema engine.ApplicationSchema, data json.RawMessage) (any, error) {
	c, ok := ops.codecs[schema]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", schema)
	}
	return c.view(data)
}

// DecodeStateDiffJSON decodes an application diff carried as raw JSON.
func (ops *StateOps) DecodeStateDiffJSON(schema engine.ApplicationSchema, data json.RawMessage) (any, error) {
	c, ok := ops.codecs[schema]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", schema)
	}
	return c.diff(data)
}

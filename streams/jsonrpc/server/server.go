// Package server streams chain states to JSON-RPC subscribers: one full state,
// then a diff per observed block.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/microswap/differ"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source is where chain states come from.
type Source interface {
	Subscribe(chain engine.ChainID) (<-chan *engine.State, func(), error)
	Latest(chain engine.ChainID) (*engine.State, bool)
}

// Differ computes the diff between two states of one chain.
type Differ interface {
	Diff(old, new *engine.State) (*differ.StateDiff, error)
}

type Config struct {
	Source     Source
	Differ     Differ
	Registerer prometheus.Registerer
	Logger     Logger
}

func (c *Config) validate() error {
	if c.Source == nil {
		return errors.New("config: Source is required")
	}
	if c.Differ == nil {
		return errors.New("config: Differ is required")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// API is registered under client.RpcNamespace.
type API struct {
	source      Source
	differ      Differ
	logger      Logger
	events      *prometheus.CounterVec
	subscribers prometheus.Gauge
}

func NewAPI(cfg Config) (*API, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	api := &API{
		source: cfg.Source,
		differ: cfg.Differ,
		logger: cfg.Logger,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "State stream events sent, by type.",
		}, []string{"type"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "microswap",
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Open state stream subscriptions.",
		}),
	}
	cfg.Registerer.MustRegister(api.events, api.subscribers)
	return api, nil
}

// NewServer returns an rpc server with the API registered.
func NewServer(api *API) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(client.RpcNamespace, api); err != nil {
		return nil, fmt.Errorf("register %s api: %w", client.RpcNamespace, err)
	}
	return srv, nil
}

// SubscribeChainState streams the states of one chain. The first event is the
// full state; each later event is a diff from the last state sent, so states
// skipped by a slow subscriber are folded into the next diff.
func (api *API) SubscribeChainState(ctx context.Context, chain engine.ChainID) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	states, cancel, err := api.source.Subscribe(chain)
	if err != nil {
		return nil, err
	}

	rpcSub := notifier.CreateSubscription()
	api.subscribers.Inc()
	go func() {
		defer api.subscribers.Dec()
		defer cancel()

		var last *engine.State
		send := func(state *engine.State) bool {
			event, err := api.event(last, state)
			if err != nil {
				api.logger.Error("Failed to build stream event", "chain", chain.Short(), "height", state.Block.Height, "err", err)
				return true
			}
			if err := notifier.Notify(rpcSub.ID, event); err != nil {
				api.logger.Warn("Failed to notify subscriber", "id", rpcSub.ID, "err", err)
				return false
			}
			api.events.WithLabelValues(event.Type).Inc()
			last = state
			return true
		}

		if state, ok := api.source.Latest(chain); ok {
			if !send(state) {
				return
			}
		}
		for {
			select {
			case state, ok := <-states:
				if !ok {
					return
				}
				if last != nil && state.Block.Height <= last.Block.Height {
					continue
				}
				if !send(state) {
					return
				}
			case <-rpcSub.Err():
				api.logger.Debug("Subscriber left", "id", rpcSub.ID)
				return
			}
		}
	}()
	return rpcSub, nil
}

// event returns a full event when there is nothing to diff against or a
// state carries application errors.
func (api *API) event(last, state *engine.State) (client.SubscriptionEvent, error) {
	var (
		kind    = client.EventFull
		payload any
	)
	payload = state
	if last != nil && !last.HasErrors() && !state.HasErrors() {
		diff, err := api.differ.Diff(last, state)
		if err != nil {
			return client.SubscriptionEvent{}, err
		}
		kind = client.EventDiff
		payload = diff
	}
	raw, err := engine.Marshal(payload)
	if err != nil {
		return client.SubscriptionEvent{}, err
	}
	return client.SubscriptionEvent{
		Type:    kind,
		Payload: json.RawMessage(raw),
		SentAt:  time.Now().UnixNano(),
	}, nil
}

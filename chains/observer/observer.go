// Package observer follows the state stream of a router chain and turns each
// state into indexed pools, tokens and a token graph.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/protocols/router"
	"github.com/defistate/microswap/protocols/router/graph"
	routerindexer "github.com/defistate/microswap/protocols/router/indexer"
	"github.com/defistate/microswap/protocols/tokenregistry"
	tokenregistryindexer "github.com/defistate/microswap/protocols/tokenregistry/indexer"
	jsonrpcclient "github.com/defistate/microswap/streams/jsonrpc/client"
	"github.com/defistate/microswap/streams/jsonrpc/stateops"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Stream is a source of reconstructed chain states.
type Stream interface {
	State() <-chan *engine.State
	Err() <-chan error
}

type TokenIndexer interface {
	Index(tokens []tokenregistry.Token) tokenregistryindexer.IndexedTokenSystem
}

type PoolIndexer interface {
	Index(pools []router.Pool) routerindexer.IndexedPools
}

// State is one processed router chain state.
type State struct {
	Router engine.ApplicationID
	Pools  routerindexer.IndexedPools
	Tokens tokenregistryindexer.IndexedTokenSystem
	Graph  *graph.View
	// PoolViews holds the views of pools hosted on the router chain.
	PoolViews         map[engine.ApplicationID]pool.View
	Block             engine.BlockSummary
	ProcessedAtUnixNs uint64
}

// Observer's lifecycle is bound to the context passed to Dial or New.
type Observer struct {
	stream  Stream
	logger  Logger
	stateCh chan *State
	errCh   chan error

	tokenIndexer        TokenIndexer
	poolIndexer         PoolIndexer
	compactionThreshold int

	ctx context.Context
	wg  sync.WaitGroup
}

// Option configures the Observer.
type Option interface {
	apply(*Observer)
}

type funcOption func(*Observer)

func (f funcOption) apply(o *Observer) {
	f(o)
}

func newOption(f func(*Observer)) Option {
	return funcOption(f)
}

func WithTokenIndexer(indexer TokenIndexer) Option {
	return newOption(func(o *Observer) {
		o.tokenIndexer = indexer
	})
}

func WithPoolIndexer(indexer PoolIndexer) Option {
	return newOption(func(o *Observer) {
		o.poolIndexer = indexer
	})
}

// WithCompactionThreshold sets when the token graph rebuilds its index.
func WithCompactionThreshold(n int) Option {
	return newOption(func(o *Observer) {
		o.compactionThreshold = n
	})
}

// Dial subscribes to chain on the stream server at url.
func Dial(
	ctx context.Context,
	url string,
	chain engine.ChainID,
	logger Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Observer, error) {
	ops, err := stateops.NewStateOps(logger, prometheusRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to create state ops: %w", err)
	}

	client, err := jsonrpcclient.NewClient(ctx, jsonrpcclient.Config{
		URL:              url,
		ChainID:          chain,
		Logger:           logger,
		BufferSize:       1,
		StatePatcher:     ops.Patch,
		StateDecoder:     ops.DecodeStateJSON,
		StateDiffDecoder: ops.DecodeStateDiffJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial state stream url: %w", err)
	}

	o := New(ctx, client, logger, opts...)
	logger.Info("Observer started", "url", url, "chain", chain.Short())
	return o, nil
}

// New processes states from an existing stream.
func New(ctx context.Context, stream Stream, logger Logger, opts ...Option) *Observer {
	o := &Observer{
		stream:       stream,
		logger:       logger,
		stateCh:      make(chan *State, 1),
		errCh:        make(chan error, 1),
		tokenIndexer: tokenregistryindexer.New(),
		poolIndexer:  routerindexer.New(),
	}
	for _, opt := range opts {
		opt.apply(o)
	}

	o.ctx = ctx
	o.wg.Add(1)
	go o.loop()
	return o
}

// State is best-effort; if the consumer is slow, updates are dropped.
func (o *Observer) State() <-chan *State {
	return o.stateCh
}

func (o *Observer) Err() <-chan error {
	return o.errCh
}

// Wait blocks until the processing loop has exited.
func (o *Observer) Wait() {
	o.wg.Wait()
}

func (o *Observer) loop() {
	defer o.wg.Done()
	defer func() {
		close(o.stateCh)
		close(o.errCh)
		o.logger.Info("Observer stopped")
	}()

	for {
		select {
		case <-o.ctx.Done():
			return

		case err, ok := <-o.stream.Err():
			if !ok {
				return
			}
			o.logger.Error("Fatal stream error", "err", err)
			select {
			case o.errCh <- err:
			case <-o.ctx.Done():
			}
			return

		case raw, ok := <-o.stream.State():
			if !ok {
				o.logger.Error("Upstream state channel closed")
				return
			}

			processed, err := o.processState(raw)
			if err != nil {
				o.logger.Error("Failed to process state", "height", raw.Block.Height, "err", err)
				continue
			}

			select {
			case o.stateCh <- processed:
			case <-o.ctx.Done():
				return
			default:
				o.logger.Warn("State buffer full, discarding processed state...", "height", raw.Block.Height)
			}
		}
	}
}

var errNoRouter = errors.New("no router found in state")

func (o *Observer) processState(raw *engine.State) (*State, error) {
	start := time.Now()

	var (
		routerID   engine.ApplicationID
		routerView *router.View
		poolViews  = make(map[engine.ApplicationID]pool.View)
	)
	for id, app := range raw.Applications {
		if app.Error != "" {
			o.logger.Warn("Application reported an error", "application", id.Short(), "err", app.Error)
			continue
		}
		switch app.Schema {
		case router.Schema:
			if routerView != nil {
				return nil, fmt.Errorf("multiple routers found at height %d", raw.Block.Height)
			}
			v := app.Data.(router.View)
			routerID, routerView = id, &v
		case pool.Schema:
			poolViews[id] = app.Data.(pool.View)
		}
	}
	if routerView == nil {
		return nil, fmt.Errorf("%w: height %d", errNoRouter, raw.Block.Height)
	}

	var (
		wg            sync.WaitGroup
		indexedPools  routerindexer.IndexedPools
		indexedTokens tokenregistryindexer.IndexedTokenSystem
		tokenGraph    *graph.View
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		indexedPools = o.poolIndexer.Index(routerView.Pools)
	}()
	go func() {
		defer wg.Done()
		indexedTokens = o.tokenIndexer.Index(routerView.Tokens)
	}()
	go func() {
		defer wg.Done()
		ids := make([]uint64, len(routerView.Pools))
		sets := make([][]engine.ApplicationID, len(routerView.Pools))
		for i, p := range routerView.Pools {
			ids[i] = p.ID
			sets[i] = p.Tokens()
		}
		system := graph.NewSystem(o.compactionThreshold)
		system.AddPools(ids, sets)
		tokenGraph = system.View()
	}()
	wg.Wait()

	o.logger.Debug("Router state indexed",
		"height", raw.Block.Height,
		"pools", len(routerView.Pools),
		"tokens", len(routerView.Tokens),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &State{
		Router:            routerID,
		Pools:             indexedPools,
		Tokens:            indexedTokens,
		Graph:             tokenGraph,
		PoolViews:         poolViews,
		Block:             raw.Block,
		ProcessedAtUnixNs: uint64(time.Now().UnixNano()),
	}, nil
}

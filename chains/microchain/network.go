package microchain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/defistate/microswap/engine"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultMaxBatch = 64

// Config holds the configuration for a Network.
type Config struct {
	Logger     Logger
	Registerer prometheus.Registerer
	// Store persists chains after every block. Optional.
	Store Store
	// MaxBatch bounds the items executed in one block. Zero means 64.
	MaxBatch int
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registerer == nil {
		return errors.New("config: Registerer is required")
	}
	if c.MaxBatch < 0 {
		return errors.New("config: MaxBatch must not be negative")
	}
	return nil
}

// Network owns the chains and routes envelopes between them.
type Network struct {
	cfg            Config
	logger         Logger
	metrics        *metrics
	handlerMetrics *engine.Metrics
	now            func() time.Time
	duplicate      func(Envelope) bool

	mu      sync.RWMutex
	modules map[string]engine.Module
	chains  map[engine.ChainID]*Chain
	apps    map[engine.ApplicationID]ApplicationDescriptor
	ctx     context.Context

	// pending counts items enqueued but not yet fully executed.
	pending atomic.Int64
	started atomic.Bool
	wg      sync.WaitGroup
}

// Option configures the Network.
// The interface method is unexported to prevent external modification after creation.
type Option interface {
	apply(*Network)
}

type funcOption func(*Network)

func (f funcOption) apply(n *Network) {
	f(n)
}

func newOption(f func(*Network)) Option {
	return funcOption(f)
}

// WithClock replaces the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return newOption(func(n *Network) {
		n.now = now
	})
}

// WithDuplicateDelivery delivers every envelope for which dup returns true twice.
func WithDuplicateDelivery(dup func(Envelope) bool) Option {
	return newOption(func(n *Network) {
		n.duplicate = dup
	})
}

// WithHandlerMetrics shares handler metrics that were registered elsewhere.
func WithHandlerMetrics(m *engine.Metrics) Option {
	return newOption(func(n *Network) {
		n.handlerMetrics = m
	})
}

func NewNetwork(cfg Config, opts ...Option) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	n := &Network{
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: newMetrics(cfg.Registerer),
		now:     time.Now,
		modules: map[string]engine.Module{},
		chains:  map[engine.ChainID]*Chain{},
		apps:    map[engine.ApplicationID]ApplicationDescriptor{},
	}
	for _, opt := range opts {
		opt.apply(n)
	}
	if n.handlerMetrics == nil {
		n.handlerMetrics = engine.NewMetrics(cfg.Registerer)
	}
	return n, nil
}

func (n *Network) RegisterModule(name string, module engine.Module) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.modules[name]; ok {
		return fmt.Errorf("%w: %q", ErrModuleExists, name)
	}
	n.modules[name] = module
	return nil
}

// AddChain creates a chain with genesis native balances. Chains added after
// Start begin executing immediately.
func (n *Network) AddChain(id engine.ChainID, balances map[engine.Owner]engine.Amount) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.chains[id]; ok {
		return fmt.Errorf("%w: %s", ErrChainExists, id.Short())
	}
	c := newChain(n, id, balances)
	n.chains[id] = c
	if n.ctx != nil {
		if err := n.saveGenesis(n.ctx, c); err != nil {
			return err
		}
		n.startChain(c)
	}
	n.logger.Info("Chain added", "chain", c.label, "owners", len(balances))
	return nil
}

// Start restores persisted chains when a Store is configured and starts every
// chain goroutine. The network runs until ctx is cancelled.
func (n *Network) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if n.cfg.Store != nil {
		if err := n.restore(ctx); err != nil {
			return fmt.Errorf("restore network: %w", err)
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ctx = ctx
	for _, c := range n.chains {
		if err := n.saveGenesis(ctx, c); err != nil {
			return err
		}
		n.startChain(c)
	}
	n.logger.Info("Network started", "chains", len(n.chains), "applications", len(n.apps))
	return nil
}

func (n *Network) startChain(c *Chain) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.run(n.ctx)
	}()
}

// saveGenesis persists a chain that has not produced a block yet, so that a
// restart knows about it and its genesis balances.
func (n *Network) saveGenesis(ctx context.Context, c *Chain) error {
	if n.cfg.Store == nil || c.height > 0 {
		return nil
	}
	if err := c.saveRecord(ctx); err != nil {
		return fmt.Errorf("persist genesis of %s: %w", c.label, err)
	}
	return nil
}

// Wait blocks until every chain goroutine has stopped.
func (n *Network) Wait() {
	n.wg.Wait()
}

// restore runs before any chain goroutine exists.
func (n *Network) restore(ctx context.Context) error {
	descs, err := n.cfg.Store.Applications(ctx)
	if err != nil {
		return err
	}
	n.mu.Lock()
	for _, d := range descs {
		n.apps[d.ID] = d
	}
	n.mu.Unlock()

	ids, err := n.cfg.Store.ChainIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, ok, err := n.cfg.Store.LoadChain(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		n.mu.Lock()
		c, exists := n.chains[id]
		if !exists {
			c = newChain(n, id, nil)
			n.chains[id] = c
		}
		n.mu.Unlock()
		if err := c.restore(rec); err != nil {
			return fmt.Errorf("chain %s: %w", id.Short(), err)
		}
		for _, env := range rec.Inbox {
			n.pending.Add(1)
			c.inbox.push(&item{kind: itemEnvelope, envelope: env})
		}
		n.logger.Info("Chain restored", "chain", c.label, "height", rec.Height, "applications", len(rec.Applications), "inbox", len(rec.Inbox))
	}
	return nil
}

func (n *Network) module(name string) (engine.Module, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	m, ok := n.modules[name]
	return m, ok
}

func (n *Network) hasModule(name string) bool {
	_, ok := n.module(name)
	return ok
}

func (n *Network) hasChain(id engine.ChainID) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.chains[id]
	return ok
}

func (n *Network) chain(id engine.ChainID) (*Chain, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, id.Short())
	}
	if n.ctx == nil {
		return nil, ErrNotStarted
	}
	return c, nil
}

func (n *Network) descriptor(id engine.ApplicationID) (ApplicationDescriptor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d, ok := n.apps[id]
	return d, ok
}

func (n *Network) registerApplications(ctx context.Context, descs []ApplicationDescriptor) {
	if len(descs) == 0 {
		return
	}
	n.mu.Lock()
	for _, d := range descs {
		n.apps[d.ID] = d
	}
	n.mu.Unlock()
	for _, d := range descs {
		n.logger.Info("Application created", "app", d.ID.Short(), "module", d.Module, "chain", d.CreatorChainID.Short())
		if n.cfg.Store == nil {
			continue
		}
		if err := n.cfg.Store.SaveApplication(ctx, d); err != nil {
			n.logger.Error("Failed to persist application", "app", d.ID.Short(), "err", err)
		}
	}
}

// route queues env on its destination; unknown destinations are dropped.
func (n *Network) route(env Envelope) {
	n.mu.RLock()
	c, ok := n.chains[env.Destination]
	n.mu.RUnlock()
	if !ok {
		n.logger.Error("Envelope for unknown chain dropped", "destination", env.Destination.Short(), "source", env.Source.Short())
		return
	}
	copies := 1
	if n.duplicate != nil && n.duplicate(env) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		n.pending.Add(1)
		c.inbox.push(&item{kind: itemEnvelope, envelope: env})
	}
}

func (n *Network) done(items int) {
	n.pending.Add(-int64(items))
}

func (n *Network) submit(ctx context.Context, chain engine.ChainID, it *item) (result, error) {
	c, err := n.chain(chain)
	if err != nil {
		return result{}, err
	}
	it.reply = make(chan result, 1)
	n.pending.Add(1)
	c.inbox.push(it)
	select {
	case res := <-it.reply:
		return res, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

// Execute runs an operation signed by signer on chain and returns the
// application response. Messages it emits are delivered asynchronously.
func (n *Network) Execute(ctx context.Context, chain engine.ChainID, app engine.ApplicationID, signer engine.Account, operation []byte) ([]byte, error) {
	res, err := n.submit(ctx, chain, &item{kind: itemOperation, app: app, signer: &signer, payload: operation})
	if err != nil {
		return nil, err
	}
	return res.response, res.err
}

// CreateApplication instantiates module on chain. A nil signer creates a
// system application without an authenticated account.
func (n *Network) CreateApplication(ctx context.Context, chain engine.ChainID, signer *engine.Account, module string, parameters, argument []byte) (engine.ApplicationID, error) {
	res, err := n.submit(ctx, chain, &item{kind: itemCreate, signer: signer, module: module, parameters: parameters, payload: argument})
	if err != nil {
		return engine.ApplicationID{}, err
	}
	return res.app, res.err
}

// Query answers a read-only application query on chain.
func (n *Network) Query(ctx context.Context, chain engine.ChainID, app engine.ApplicationID, query []byte) ([]byte, error) {
	res, err := n.submit(ctx, chain, &item{kind: itemQuery, query: func(c *Chain) ([]byte, error) {
		inst, ok := c.instances[app]
		if !ok {
			if _, known := n.descriptor(app); !known {
				return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, app.Short())
			}
			return nil, fmt.Errorf("application %s has no state on chain %s", app.Short(), c.label)
		}
		return inst.HandleQuery(ctx, query)
	}})
	if err != nil {
		return nil, err
	}
	return res.response, res.err
}

// NativeBalance reads the native balance of owner on chain.
func (n *Network) NativeBalance(ctx context.Context, chain engine.ChainID, owner engine.Owner) (engine.Amount, error) {
	var bal engine.Amount
	_, err := n.submit(ctx, chain, &item{kind: itemQuery, query: func(c *Chain) ([]byte, error) {
		bal = c.balances[owner]
		return nil, nil
	}})
	return bal, err
}

// Subscribe streams every state published by chain. The returned func cancels.
func (n *Network) Subscribe(chain engine.ChainID) (<-chan *engine.State, func(), error) {
	n.mu.RLock()
	c, ok := n.chains[chain]
	n.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain.Short())
	}
	ch, cancel := c.subscribe()
	return ch, cancel, nil
}

// Latest returns the last state published by chain.
func (n *Network) Latest(chain engine.ChainID) (*engine.State, bool) {
	n.mu.RLock()
	c, ok := n.chains[chain]
	n.mu.RUnlock()
	if !ok {
		return nil, false
	}
	s := c.Latest()
	return s, s != nil
}

// Chains returns every chain id in byte order.
func (n *Network) Chains() []engine.ChainID {
	n.mu.RLock()
	out := make([]engine.ChainID, 0, len(n.chains))
	for id := range n.chains {
		out = append(out, id)
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Applications returns every known application in id order.
func (n *Network) Applications() []ApplicationDescriptor {
	n.mu.RLock()
	out := make([]ApplicationDescriptor, 0, len(n.apps))
	for _, d := range n.apps {
		out = append(out, d)
	}
	n.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// Application returns the descriptor of id.
func (n *Network) Application(id engine.ApplicationID) (ApplicationDescriptor, bool) {
	return n.descriptor(id)
}

// WaitIdle blocks until no chain has queued or executing work.
func (n *Network) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for n.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

package microchain

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/defistate/microswap/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/zeebo/blake3"
)

// subscriberBuffer is the per-subscriber state buffer. Slow subscribers miss states.
const subscriberBuffer = 16

// Chain is a single-owner actor. Everything below the mailbox is touched only
// by the chain goroutine once the network has started.
type Chain struct {
	id    engine.ChainID
	label string
	net   *Network
	inbox *mailbox

	height        uint64
	hash          common.Hash
	lastTimestamp engine.Timestamp
	nonce         uint64
	balances      map[engine.Owner]engine.Amount
	instances     map[engine.ApplicationID]engine.Application

	latest atomic.Pointer[engine.State]

	subMu   sync.Mutex
	subs    map[uint64]chan *engine.State
	nextSub uint64
}

func newChain(net *Network, id engine.ChainID, balances map[engine.Owner]engine.Amount) *Chain {
	c := &Chain{
		id:        id,
		label:     id.Short(),
		net:       net,
		inbox:     newMailbox(),
		balances:  map[engine.Owner]engine.Amount{},
		instances: map[engine.ApplicationID]engine.Application{},
		subs:      map[uint64]chan *engine.State{},
	}
	for owner, amt := range balances {
		c.setBalance(owner, amt)
	}
	return c
}

func (c *Chain) ID() engine.ChainID { return c.id }

// Latest returns the last published state, or nil before the first block.
func (c *Chain) Latest() *engine.State { return c.latest.Load() }

func (c *Chain) setBalance(owner engine.Owner, amt engine.Amount) {
	if amt.IsZero() {
		delete(c.balances, owner)
		return
	}
	c.balances[owner] = amt
}

func (c *Chain) construct(desc ApplicationDescriptor) (engine.Application, error) {
	module, ok := c.net.module(desc.Module)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, desc.Module)
	}
	return module(engine.ModuleEnv{
		ApplicationID:  desc.ID,
		CreatorChainID: desc.CreatorChainID,
		ChainID:        c.id,
		Parameters:     desc.Parameters,
		Logger:         c.net.logger,
		Metrics:        c.net.handlerMetrics,
	})
}

func (c *Chain) subscribe() (<-chan *engine.State, func()) {
	ch := make(chan *engine.State, subscriberBuffer)
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Chain) publish(state *engine.State) {
	c.latest.Store(state)
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- state:
		default:
			c.net.metrics.dropped.WithLabelValues(c.label).Inc()
			c.net.logger.Warn("Subscriber buffer full, discarding state", "chain", c.label, "height", state.Block.Height)
		}
	}
}

func (c *Chain) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.inbox.ready:
		}
		items := c.inbox.drain(c.net.cfg.MaxBatch)
		if len(items) == 0 {
			continue
		}
		c.executeBlock(ctx, items)
	}
}

// executeBlock runs items in order. Queries are answered in place; every other
// item either applies completely or is rolled back. Any non-query item closes a block.
func (c *Chain) executeBlock(ctx context.Context, items []*item) {
	start := c.net.now()
	now := engine.TimestampFromTime(start)
	if now <= c.lastTimestamp {
		now = c.lastTimestamp + 1
	}

	summary := engine.BlockSummary{Height: c.height + 1, Timestamp: now, ReceivedAt: start.UnixNano()}
	var outbox []Envelope
	produced := false
	for _, it := range items {
		if it.kind == itemQuery {
			resp, err := it.query(c)
			it.respond(result{response: resp, err: err})
			continue
		}
		produced = true
		exec := c.newExecution(now)
		var res result
		exec.begin()
		res.app, res.response, res.err = exec.run(ctx, it)
		if res.err != nil {
			exec.rollback()
			summary.Rejected++
		} else {
			exec.commit()
			c.net.registerApplications(ctx, exec.created)
			outbox = append(outbox, exec.outbox...)
		}
		switch it.kind {
		case itemEnvelope:
			summary.Messages++
			c.net.metrics.observeEnvelope(c.label, it.envelope.Kind, res.err)
			if res.err != nil {
				c.net.logger.Warn("Envelope rejected",
					"chain", c.label,
					"kind", it.envelope.Kind.String(),
					"source", it.envelope.Source.Short(),
					"app", it.envelope.Application.Short(),
					"err", res.err,
				)
			}
		default:
			summary.Operations++
			if res.err != nil {
				c.net.logger.Debug("Operation rejected", "chain", c.label, "kind", it.kind.String(), "app", it.app.Short(), "err", res.err)
			}
		}
		it.respond(res)
	}

	if produced {
		c.closeBlock(ctx, summary, outbox)
		c.net.metrics.observeBlock(c.label, c.net.now().Sub(start), c.inbox.len())
		for _, env := range outbox {
			c.net.route(env)
		}
	}
	c.net.done(len(items))
}

func (e *execution) run(ctx context.Context, it *item) (engine.ApplicationID, []byte, error) {
	switch it.kind {
	case itemOperation:
		if it.signer != nil && it.signer.ChainID != e.chain.id {
			return it.app, nil, ErrWrongSigner
		}
		inst, err := e.instance(it.app)
		if err != nil {
			return it.app, nil, err
		}
		rt := &runtime{exec: e, app: it.app, account: it.signer}
		resp, err := inst.ExecuteOperation(ctx, rt, it.payload)
		return it.app, resp, err

	case itemCreate:
		if it.signer != nil && it.signer.ChainID != e.chain.id {
			return engine.ApplicationID{}, nil, ErrWrongSigner
		}
		id, err := e.create(ctx, it.module, it.parameters, it.payload, it.signer, nil)
		return id, nil, err

	case itemEnvelope:
		env := it.envelope
		if env.Kind == EnvelopeCredit {
			return engine.ApplicationID{}, nil, e.credit(env)
		}
		inst, err := e.instance(env.Application)
		if err != nil {
			return env.Application, nil, err
		}
		origin := env.Source
		rt := &runtime{exec: e, app: env.Application, account: env.Signer, origin: &origin}
		return env.Application, nil, inst.ExecuteMessage(ctx, rt, env.Payload)
	}
	return engine.ApplicationID{}, nil, fmt.Errorf("unexpected item kind %s", it.kind)
}

func (e *execution) credit(env Envelope) error {
	c := e.chain
	bal, err := c.balances[env.Owner].Add(env.Amount)
	if err != nil {
		return err
	}
	c.setBalance(env.Owner, bal)
	return nil
}

func (c *Chain) closeBlock(ctx context.Context, summary engine.BlockSummary, outbox []Envelope) {
	summary.Hash = blockHash(c.hash, summary)
	c.height = summary.Height
	c.hash = summary.Hash
	c.lastTimestamp = summary.Timestamp
	for i := range outbox {
		outbox[i].Height = summary.Height
	}

	state := &engine.State{
		ChainID:      c.id,
		Timestamp:    uint64(summary.Timestamp),
		Block:        summary,
		Applications: c.views(),
	}
	c.publish(state)

	if c.net.cfg.Store != nil {
		if err := c.persist(ctx, summary); err != nil {
			c.net.logger.Error("Failed to persist block", "chain", c.label, "height", summary.Height, "err", err)
		}
	}
	c.net.logger.Debug("Block closed",
		"chain", c.label,
		"height", summary.Height,
		"operations", summary.Operations,
		"messages", summary.Messages,
		"rejected", summary.Rejected,
	)
}

// views collects the snapshot of every application homed on this chain.
func (c *Chain) views() map[engine.ApplicationID]engine.ApplicationState {
	out := make(map[engine.ApplicationID]engine.ApplicationState)
	for id, inst := range c.instances {
		desc, ok := c.net.descriptor(id)
		if !ok || desc.CreatorChainID != c.id {
			continue
		}
		out[id] = c.view(id, inst)
	}
	return out
}

func (c *Chain) view(id engine.ApplicationID, inst engine.Application) (state engine.ApplicationState) {
	defer func() {
		if r := recover(); r != nil {
			c.net.logger.Error("Application view panicked", "chain", c.label, "app", id.Short(), "panic", r)
			state = engine.ApplicationState{Error: fmt.Sprintf("view panicked: %v", r)}
		}
	}()
	return inst.View()
}

func (c *Chain) record() (ChainRecord, error) {
	rec := ChainRecord{
		ChainID:      c.id,
		Height:       c.height,
		Hash:         c.hash,
		Timestamp:    c.lastTimestamp,
		Nonce:        c.nonce,
		Balances:     make(map[engine.Owner]engine.Amount, len(c.balances)),
		Applications: make(map[engine.ApplicationID]json.RawMessage, len(c.instances)),
		Inbox:        c.inbox.envelopes(),
	}
	for o, a := range c.balances {
		rec.Balances[o] = a
	}
	for id, inst := range c.instances {
		data, err := inst.Save()
		if err != nil {
			return ChainRecord{}, fmt.Errorf("save %s: %w", id.Short(), err)
		}
		rec.Applications[id] = data
	}
	return rec, nil
}

func (c *Chain) saveRecord(ctx context.Context) error {
	rec, err := c.record()
	if err != nil {
		return err
	}
	return c.net.cfg.Store.SaveChain(ctx, rec)
}

func (c *Chain) persist(ctx context.Context, summary engine.BlockSummary) error {
	if err := c.saveRecord(ctx); err != nil {
		return err
	}
	return c.net.cfg.Store.SaveBlock(ctx, c.id, summary)
}

// restore loads a persisted record into a chain that has not started.
func (c *Chain) restore(rec ChainRecord) error {
	c.height = rec.Height
	c.hash = rec.Hash
	c.lastTimestamp = rec.Timestamp
	c.nonce = rec.Nonce
	c.balances = map[engine.Owner]engine.Amount{}
	for o, a := range rec.Balances {
		c.setBalance(o, a)
	}
	ids := make([]engine.ApplicationID, 0, len(rec.Applications))
	for id := range rec.Applications {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	for _, id := range ids {
		desc, ok := c.net.descriptor(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownApplication, id.Short())
		}
		inst, err := c.construct(desc)
		if err != nil {
			return err
		}
		if err := inst.Load(rec.Applications[id]); err != nil {
			return fmt.Errorf("load %s: %w", id.Short(), err)
		}
		c.instances[id] = inst
	}
	return nil
}

func blockHash(prev common.Hash, s engine.BlockSummary) common.Hash {
	h := blake3.New()
	h.Write(prev[:])
	var buf [8]byte
	for _, v := range []uint64{s.Height, uint64(s.Timestamp), uint64(s.Operations), uint64(s.Messages), uint64(s.Rejected)} {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

package microchain

import (
	"context"
	"fmt"
	"maps"

	"github.com/defistate/microswap/engine"
)

// scope records what an execution touched so it can be undone. Scopes nest:
// a failed application call rolls back only its own scope.
type scope struct {
	saved      map[engine.ApplicationID][]byte
	existed    map[engine.ApplicationID]bool
	balances   map[engine.Owner]engine.Amount
	outboxLen  int
	createdLen int
	nonce      uint64
}

// execution is one item running against a chain. It is confined to the chain goroutine.
type execution struct {
	chain   *Chain
	now     engine.Timestamp
	scopes  []*scope
	outbox  []Envelope
	created []ApplicationDescriptor
}

func (c *Chain) newExecution(now engine.Timestamp) *execution {
	return &execution{chain: c, now: now}
}

func (e *execution) begin() {
	e.scopes = append(e.scopes, &scope{
		saved:      map[engine.ApplicationID][]byte{},
		existed:    map[engine.ApplicationID]bool{},
		balances:   maps.Clone(e.chain.balances),
		outboxLen:  len(e.outbox),
		createdLen: len(e.created),
		nonce:      e.chain.nonce,
	})
}

// touch snapshots app in every open scope that has not seen it yet.
func (e *execution) touch(app engine.ApplicationID) error {
	inst, exists := e.chain.instances[app]
	var saved []byte
	if exists {
		var err error
		if saved, err = inst.Save(); err != nil {
			return fmt.Errorf("snapshot %s: %w", app.Short(), err)
		}
	}
	for _, s := range e.scopes {
		if _, seen := s.existed[app]; seen {
			continue
		}
		s.existed[app] = exists
		if exists {
			s.saved[app] = saved
		}
	}
	return nil
}

// commit closes the innermost scope, keeping its effects.
func (e *execution) commit() {
	e.scopes = e.scopes[:len(e.scopes)-1]
}

// rollback closes the innermost scope and undoes everything done inside it.
func (e *execution) rollback() {
	s := e.scopes[len(e.scopes)-1]
	e.scopes = e.scopes[:len(e.scopes)-1]
	c := e.chain
	for app, existed := range s.existed {
		if !existed {
			delete(c.instances, app)
			continue
		}
		if err := c.instances[app].Load(s.saved[app]); err != nil {
			c.net.logger.Error("Rollback failed to restore application", "chain", c.label, "app", app.Short(), "err", err)
		}
	}
	c.balances = s.balances
	c.nonce = s.nonce
	e.outbox = e.outbox[:s.outboxLen]
	e.created = e.created[:s.createdLen]
}

// within runs f inside a new scope.
func (e *execution) within(f func() error) error {
	e.begin()
	if err := f(); err != nil {
		e.rollback()
		return err
	}
	e.commit()
	return nil
}

func (e *execution) descriptor(app engine.ApplicationID) (ApplicationDescriptor, bool) {
	for i := len(e.created) - 1; i >= 0; i-- {
		if e.created[i].ID == app {
			return e.created[i], true
		}
	}
	return e.chain.net.descriptor(app)
}

// instance returns app on this chain, constructing an empty instance the first
// time a non-home chain sees it.
func (e *execution) instance(app engine.ApplicationID) (engine.Application, error) {
	if err := e.touch(app); err != nil {
		return nil, err
	}
	if inst, ok := e.chain.instances[app]; ok {
		return inst, nil
	}
	desc, ok := e.descriptor(app)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApplication, app.Short())
	}
	inst, err := e.chain.construct(desc)
	if err != nil {
		return nil, err
	}
	e.chain.instances[app] = inst
	return inst, nil
}

// runtime implements engine.Runtime for one application invocation.
type runtime struct {
	exec    *execution
	app     engine.ApplicationID
	account *engine.Account
	caller  *engine.ApplicationID
	origin  *engine.ChainID
}

var _ engine.Runtime = (*runtime)(nil)

func (r *runtime) ChainID() engine.ChainID             { return r.exec.chain.id }
func (r *runtime) ApplicationID() engine.ApplicationID { return r.app }
func (r *runtime) SystemTime() engine.Timestamp        { return r.exec.now }

func (r *runtime) CreatorChainID(app engine.ApplicationID) (engine.ChainID, error) {
	desc, ok := r.exec.descriptor(app)
	if !ok {
		return engine.ChainID{}, fmt.Errorf("%w: %s", ErrUnknownApplication, app.Short())
	}
	return desc.CreatorChainID, nil
}

func (r *runtime) AuthenticatedAccount() (engine.Account, bool) {
	if r.account == nil {
		return engine.Account{}, false
	}
	return *r.account, true
}

func (r *runtime) AuthenticatedCaller() (engine.ApplicationID, bool) {
	if r.caller == nil {
		return engine.ApplicationID{}, false
	}
	return *r.caller, true
}

func (r *runtime) MessageOriginChainID() (engine.ChainID, bool) {
	if r.origin == nil {
		return engine.ChainID{}, false
	}
	return *r.origin, true
}

func (r *runtime) CallApplication(ctx context.Context, app engine.ApplicationID, operation []byte) ([]byte, error) {
	if app == r.app {
		return nil, fmt.Errorf("%w: application %s cannot call itself", engine.ErrNotAllowed, app.Short())
	}
	caller := r.app
	callee := &runtime{exec: r.exec, app: app, account: r.account, caller: &caller}
	var resp []byte
	err := r.exec.within(func() error {
		inst, err := r.exec.instance(app)
		if err != nil {
			return err
		}
		resp, err = inst.ExecuteOperation(ctx, callee, operation)
		return err
	})
	return resp, err
}

func (r *runtime) SendMessage(ctx context.Context, destination engine.ChainID, message []byte) error {
	if !r.exec.chain.net.hasChain(destination) {
		return fmt.Errorf("%w: %s", ErrUnknownChain, destination.Short())
	}
	env := Envelope{
		Kind:        EnvelopeMessage,
		Source:      r.exec.chain.id,
		Destination: destination,
		Application: r.app,
		Payload:     append([]byte(nil), message...),
	}
	if r.account != nil {
		acc := *r.account
		env.Signer = &acc
	}
	r.exec.outbox = append(r.exec.outbox, env)
	return nil
}

// TransferNative debits from on this chain. Only the signer's own owner on this
// chain or the executing application's owner may be debited.
func (r *runtime) TransferNative(ctx context.Context, from engine.Owner, to engine.Account, amount engine.Amount) error {
	c := r.exec.chain
	allowed := from == engine.ApplicationOwner(r.app) ||
		(r.account != nil && r.account.ChainID == c.id && r.account.Owner == from)
	if !allowed {
		return fmt.Errorf("%w: cannot debit %s", engine.ErrPermissionDenied, from)
	}
	if amount.IsZero() {
		return fmt.Errorf("%w: zero native transfer", engine.ErrInvalidAmount)
	}
	bal, err := c.balances[from].Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %s, moving %s", engine.ErrInsufficientFunds, from, c.balances[from], amount)
	}
	if to.ChainID == c.id {
		credited, err := c.balances[to.Owner].Add(amount)
		if err != nil {
			return err
		}
		c.setBalance(from, bal)
		c.setBalance(to.Owner, credited)
		return nil
	}
	if !c.net.hasChain(to.ChainID) {
		return fmt.Errorf("%w: %s", ErrUnknownChain, to.ChainID.Short())
	}
	c.setBalance(from, bal)
	r.exec.outbox = append(r.exec.outbox, Envelope{
		Kind:        EnvelopeCredit,
		Source:      c.id,
		Destination: to.ChainID,
		Owner:       to.Owner,
		Amount:      amount,
	})
	return nil
}

func (r *runtime) NativeBalance(owner engine.Owner) engine.Amount {
	return r.exec.chain.balances[owner]
}

func (r *runtime) CreateApplication(ctx context.Context, module string, parameters, argument []byte) (engine.ApplicationID, error) {
	return r.exec.create(ctx, module, parameters, argument, r.account, &r.app)
}

// create registers a new application homed on this chain and instantiates it.
func (e *execution) create(ctx context.Context, module string, parameters, argument []byte, account *engine.Account, creator *engine.ApplicationID) (engine.ApplicationID, error) {
	c := e.chain
	if !c.net.hasModule(module) {
		return engine.ApplicationID{}, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}
	id := engine.NewApplicationID(c.id, module, c.nonce)
	desc := ApplicationDescriptor{
		ID:             id,
		Module:         module,
		CreatorChainID: c.id,
		Parameters:     append([]byte(nil), parameters...),
	}
	err := e.within(func() error {
		c.nonce++
		e.created = append(e.created, desc)
		inst, err := e.instance(id)
		if err != nil {
			return err
		}
		rt := &runtime{exec: e, app: id, account: account, caller: creator}
		return inst.Instantiate(ctx, rt, argument)
	})
	if err != nil {
		return engine.ApplicationID{}, fmt.Errorf("instantiate %s: %w", module, err)
	}
	return id, nil
}

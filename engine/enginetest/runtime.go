// Package enginetest provides an in-memory engine.Runtime for application unit tests.
package enginetest

import (
	"context"
	"fmt"

	"github.com/defistate/microswap/engine"
)

// SentMessage is a message captured by the fake runtime.
type SentMessage struct {
	Destination engine.ChainID
	Payload     []byte
}

// NativeTransfer is a native transfer captured by the fake runtime.
type NativeTransfer struct {
	From   engine.Owner
	To     engine.Account
	Amount engine.Amount
}

// CallFunc answers a synchronous application call.
type CallFunc func(ctx context.Context, caller engine.ApplicationID, operation []byte) ([]byte, error)

// Runtime is a scriptable engine.Runtime. Fields may be set directly by tests.
type Runtime struct {
	Chain         engine.ChainID
	App           engine.ApplicationID
	Creators      map[engine.ApplicationID]engine.ChainID
	Account       *engine.Account
	Caller        *engine.ApplicationID
	Origin        *engine.ChainID
	Now           engine.Timestamp
	Calls         map[engine.ApplicationID]CallFunc
	Balances      map[engine.Owner]engine.Amount
	Sent          []SentMessage
	Transfers     []NativeTransfer
	Created       []engine.ApplicationID
	CreateHandler func(module string, parameters, argument []byte) (engine.ApplicationID, error)
}

func NewRuntime(chain engine.ChainID, app engine.ApplicationID) *Runtime {
	return &Runtime{
		Chain:    chain,
		App:      app,
		Creators: map[engine.ApplicationID]engine.ChainID{},
		Calls:    map[engine.ApplicationID]CallFunc{},
		Balances: map[engine.Owner]engine.Amount{},
		Now:      1_700_000_000_000_000,
	}
}

// Reset clears captured side effects.
func (r *Runtime) Reset() {
	r.Sent = nil
	r.Transfers = nil
	r.Created = nil
}

func (r *Runtime) ChainID() engine.ChainID             { return r.Chain }
func (r *Runtime) ApplicationID() engine.ApplicationID { return r.App }
func (r *Runtime) SystemTime() engine.Timestamp        { return r.Now }

func (r *Runtime) CreatorChainID(app engine.ApplicationID) (engine.ChainID, error) {
	c, ok := r.Creators[app]
	if !ok {
		return engine.ChainID{}, fmt.Errorf("unknown application %s", app.Short())
	}
	return c, nil
}

func (r *Runtime) AuthenticatedAccount() (engine.Account, bool) {
	if r.Account == nil {
		return engine.Account{}, false
	}
	return *r.Account, true
}

func (r *Runtime) AuthenticatedCaller() (engine.ApplicationID, bool) {
	if r.Caller == nil {
		return engine.ApplicationID{}, false
	}
	return *r.Caller, true
}

func (r *Runtime) MessageOriginChainID() (engine.ChainID, bool) {
	if r.Origin == nil {
		return engine.ChainID{}, false
	}
	return *r.Origin, true
}

func (r *Runtime) CallApplication(ctx context.Context, app engine.ApplicationID, operation []byte) ([]byte, error) {
	call, ok := r.Calls[app]
	if !ok {
		return nil, fmt.Errorf("no application %s on chain", app.Short())
	}
	return call(ctx, r.App, operation)
}

func (r *Runtime) SendMessage(_ context.Context, destination engine.ChainID, message []byte) error {
	r.Sent = append(r.Sent, SentMessage{Destination: destination, Payload: message})
	return nil
}

func (r *Runtime) TransferNative(_ context.Context, from engine.Owner, to engine.Account, amount engine.Amount) error {
	bal := r.Balances[from]
	next, err := bal.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: native balance %s below %s", engine.ErrInsufficientFunds, bal, amount)
	}
	r.Balances[from] = next
	if to.ChainID == r.Chain {
		credited, err := r.Balances[to.Owner].Add(amount)
		if err != nil {
			return err
		}
		r.Balances[to.Owner] = credited
	}
	r.Transfers = append(r.Transfers, NativeTransfer{From: from, To: to, Amount: amount})
	return nil
}

func (r *Runtime) NativeBalance(owner engine.Owner) engine.Amount { return r.Balances[owner] }

func (r *Runtime) CreateApplication(_ context.Context, module string, parameters, argument []byte) (engine.ApplicationID, error) {
	if r.CreateHandler == nil {
		return engine.ApplicationID{}, engine.ErrNotImplemented
	}
	id, err := r.CreateHandler(module, parameters, argument)
	if err != nil {
		return engine.ApplicationID{}, err
	}
	r.Creators[id] = r.Chain
	r.Created = append(r.Created, id)
	return id, nil
}

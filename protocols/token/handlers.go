package token

import (
	"context"
	"errors"

	"github.com/defistate/microswap/engine"
)

type outcome = engine.Outcome[Message, Response]

// handlers builds the token handlers for one execution.
type handlers struct {
	app *Application
	rt  engine.Runtime
}

func (h *handlers) OperationHandler(op Operation) (engine.Handler[Message, Response], error) {
	switch op.Kind {
	case OperationTransfer:
		if op.Transfer == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return engine.HandlerFunc[Message, Response](func(ctx context.Context) (*outcome, error) {
			return h.transfer(*op.Transfer)
		}), nil
	case OperationTransferToCaller:
		if op.TransferToCaller == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return engine.HandlerFunc[Message, Response](func(ctx context.Context) (*outcome, error) {
			return h.transferToCaller(*op.TransferToCaller)
		}), nil
	case OperationTransferFromApplication:
		if op.TransferFromApplication == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return engine.HandlerFunc[Message, Response](func(ctx context.Context) (*outcome, error) {
			return h.transferFromApplication(*op.TransferFromApplication)
		}), nil
	case OperationMetadata:
		return engine.HandlerFunc[Message, Response](func(ctx context.Context) (*outcome, error) {
			params := h.app.params
			return engine.NewOutcome[Message, Response]().WithResponse(Response{Ok: true, Token: &params}), nil
		}), nil
	}
	return nil, engine.ErrMismatchedVariant
}

func (h *handlers) MessageHandler(msg Message) (engine.Handler[Message, Response], error) {
	switch msg.Kind {
	case MessageTransfer:
		if msg.Transfer == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return engine.HandlerFunc[Message, Response](func(ctx context.Context) (*outcome, error) {
			if !h.app.isHome(h.rt) {
				return nil, engine.NewRuntimeError(ErrNotHomeChain)
			}
			if signer, ok := h.rt.AuthenticatedAccount(); !ok || signer != msg.Transfer.From {
				return nil, engine.NewRuntimeError(engine.ErrPermissionDenied)
			}
			return nil, h.app.state.move(msg.Transfer.From, msg.Transfer.To, msg.Transfer.Amount)
		}), nil
	}
	return nil, engine.ErrMismatchedVariant
}

// transfer moves the signer's funds. Off the home chain it becomes a message.
func (h *handlers) transfer(op TransferOperation) (*outcome, error) {
	from, ok := h.rt.AuthenticatedAccount()
	if !ok {
		return nil, engine.NewRuntimeError(engine.ErrMissingAuthenticatedAccount)
	}
	if op.Amount.IsZero() {
		return nil, engine.ErrInvalidAmount
	}
	if !h.app.isHome(h.rt) {
		return engine.NewOutcome[Message, Response]().
			WithMessage(h.app.env.CreatorChainID, Message{
				Kind:     MessageTransfer,
				Transfer: &TransferMessage{From: from, To: op.To, Amount: op.Amount},
			}).
			WithResponse(okResponse()), nil
	}
	if err := h.app.state.move(from, op.To, op.Amount); err != nil {
		return nil, err
	}
	return engine.NewOutcome[Message, Response]().WithResponse(okResponse()), nil
}

// transferToCaller debits the authenticated account and credits the calling
// application's account on the home chain.
func (h *handlers) transferToCaller(op TransferToCallerOperation) (*outcome, error) {
	caller, from, err := h.ledgerCall()
	if err != nil {
		return nil, err
	}
	to := engine.Account{ChainID: h.app.env.CreatorChainID, Owner: engine.ApplicationOwner(caller)}
	return h.applyMove(from, to, op.Amount), nil
}

// transferFromApplication pays out funds held by the calling application.
func (h *handlers) transferFromApplication(op TransferFromApplicationOperation) (*outcome, error) {
	caller, _, err := h.ledgerCall()
	if err != nil && !errors.Is(err, engine.ErrMissingAuthenticatedAccount) {
		return nil, err
	}
	from := engine.Account{ChainID: h.app.env.CreatorChainID, Owner: engine.ApplicationOwner(caller)}
	return h.applyMove(from, op.To, op.Amount), nil
}

// ledgerCall checks the preconditions shared by application-initiated moves.
func (h *handlers) ledgerCall() (engine.ApplicationID, engine.Account, error) {
	if !h.app.isHome(h.rt) {
		return engine.ApplicationID{}, engine.Account{}, engine.NewRuntimeError(ErrNotHomeChain)
	}
	caller, ok := h.rt.AuthenticatedCaller()
	if !ok {
		return engine.ApplicationID{}, engine.Account{}, engine.NewRuntimeError(engine.ErrMissingAuthenticatedCaller)
	}
	from, ok := h.rt.AuthenticatedAccount()
	if !ok {
		return caller, engine.Account{}, engine.NewRuntimeError(engine.ErrMissingAuthenticatedAccount)
	}
	return caller, from, nil
}

// applyMove reports a refused move as a failed response instead of an error so the
// caller can answer its own counterparty.
func (h *handlers) applyMove(from, to engine.Account, amount engine.Amount) *outcome {
	out := engine.NewOutcome[Message, Response]()
	if err := h.app.state.move(from, to, amount); err != nil {
		reason := err.Error()
		if errors.Is(err, engine.ErrInsufficientFunds) {
			reason = ReasonInsufficientBalance
		}
		h.app.logger.Debug("Ledger move refused", "from", from.String(), "to", to.String(), "amount", amount.String(), "reason", reason)
		return out.WithResponse(failResponse(reason))
	}
	return out.WithResponse(okResponse())
}

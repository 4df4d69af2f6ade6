package pool

import (
	"context"
	"fmt"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/token"
)

type outcome = engine.Outcome[Message, Response]

// handlers builds the pool handlers for one execution.
type handlers struct {
	app *Application
	rt  engine.Runtime
}

func handle(f func(ctx context.Context) (*outcome, error)) engine.Handler[Message, Response] {
	return engine.HandlerFunc[Message, Response](f)
}

func (h *handlers) OperationHandler(op Operation) (engine.Handler[Message, Response], error) {
	switch op.Kind {
	case OperationSwap:
		if op.Swap == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.swapOperation(ctx, *op.Swap) }), nil
	case OperationAddLiquidity:
		if op.AddLiquidity == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.addLiquidityOperation(ctx, *op.AddLiquidity) }), nil
	case OperationRemoveLiquidity:
		if op.RemoveLiquidity == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.removeLiquidityOperation(*op.RemoveLiquidity) }), nil
	case OperationSetFeeTo:
		if op.SetFeeTo == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) {
			return h.governanceOperation(MessageSetFeeTo, op.SetFeeTo.Account)
		}), nil
	case OperationSetFeeToSetter:
		if op.SetFeeToSetter == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) {
			return h.governanceOperation(MessageSetFeeToSetter, op.SetFeeToSetter.Account)
		}), nil
	}
	return nil, engine.ErrMismatchedVariant
}

func (h *handlers) MessageHandler(msg Message) (engine.Handler[Message, Response], error) {
	switch msg.Kind {
	case MessageSwap:
		if msg.Swap == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return h.swapMessage(ctx, *msg.Swap) }), nil
	case MessageAddLiquidity:
		if msg.AddLiquidity == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return h.addLiquidityMessage(*msg.AddLiquidity) }), nil
	case MessageRemoveLiquidity:
		if msg.RemoveLiquidity == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) {
			return h.removeLiquidityMessage(ctx, *msg.RemoveLiquidity)
		}), nil
	case MessageInitializeLiquidity:
		if msg.InitializeLiquidity == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) {
			return h.initializeLiquidity(*msg.InitializeLiquidity)
		}), nil
	case MessageRequestFund:
		if msg.RequestFund == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.requestFund(ctx, *msg.RequestFund) }), nil
	case MessageFundSuccess:
		if msg.FundSuccess == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return h.fundSuccess(ctx, *msg.FundSuccess) }), nil
	case MessageFundFail:
		if msg.FundFail == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return h.fundFail(ctx, *msg.FundFail) }), nil
	case MessageTransferFromApplication:
		if msg.TransferFromApplication == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) {
			return nil, h.transferFromApplication(ctx, *msg.TransferFromApplication)
		}), nil
	case MessageSetFeeTo:
		if msg.SetFeeTo == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) {
			return nil, h.app.state.setFeeTo(msg.SetFeeTo.Operator, msg.SetFeeTo.Account)
		}), nil
	case MessageSetFeeToSetter:
		if msg.SetFeeToSetter == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) {
			return nil, h.app.state.setFeeToSetter(msg.SetFeeToSetter.Operator, msg.SetFeeToSetter.Account)
		}), nil
	}
	return nil, engine.ErrMismatchedVariant
}

// onHome wraps handlers that read or write pool state.
func (h *handlers) onHome(f func(ctx context.Context) (*outcome, error)) engine.Handler[Message, Response] {
	return handle(func(ctx context.Context) (*outcome, error) {
		if !h.app.isHome(h.rt) {
			return nil, engine.NewRuntimeError(ErrNotHomeChain)
		}
		return f(ctx)
	})
}

func (h *handlers) signer() (engine.Account, error) {
	acc, ok := h.rt.AuthenticatedAccount()
	if !ok {
		return engine.Account{}, engine.NewRuntimeError(engine.ErrMissingAuthenticatedAccount)
	}
	return acc, nil
}

func (h *handlers) forward(msg Message) *outcome {
	home := h.app.home()
	return engine.NewOutcome[Message, Response]().
		WithMessage(home, msg).
		WithResponse(Response{Forwarded: true, Destination: home})
}

// fundNative moves a native input from the signer to the pool account before the
// operation is forwarded.
func (h *handlers) fundNative(ctx context.Context, from engine.Account, amount engine.Amount) error {
	if err := h.rt.TransferNative(ctx, from.Owner, h.app.account(), amount); err != nil {
		return fmt.Errorf("fund native input: %w", err)
	}
	return nil
}

// swapInput returns the direction, input amount and output minimum of a swap.
func swapInput(op SwapOperation) (zeroForOne bool, amountIn engine.Amount, minOut *engine.Amount, err error) {
	if (op.Amount0In == nil) == (op.Amount1In == nil) {
		return false, engine.Amount{}, nil, fmt.Errorf("%w: exactly one swap input is required", engine.ErrInvalidAmount)
	}
	if op.Amount0In != nil {
		zeroForOne, amountIn, minOut = true, *op.Amount0In, op.Amount1OutMin
	} else {
		amountIn, minOut = *op.Amount1In, op.Amount0OutMin
	}
	if amountIn.IsZero() {
		return false, engine.Amount{}, nil, fmt.Errorf("%w: zero swap input", engine.ErrInvalidAmount)
	}
	return zeroForOne, amountIn, minOut, nil
}

func inputSide(zeroForOne bool) int {
	if zeroForOne {
		return 0
	}
	return 1
}

func (h *handlers) swapOperation(ctx context.Context, op SwapOperation) (*outcome, error) {
	origin, err := h.signer()
	if err != nil {
		return nil, err
	}
	zeroForOne, amountIn, _, err := swapInput(op)
	if err != nil {
		return nil, err
	}
	if h.app.params.token(inputSide(zeroForOne)) == nil {
		if err := h.fundNative(ctx, origin, amountIn); err != nil {
			return nil, err
		}
	}
	return h.forward(Message{Kind: MessageSwap, Swap: &SwapMessage{Origin: origin, SwapOperation: op}}), nil
}

func (h *handlers) addLiquidityOperation(ctx context.Context, op AddLiquidityOperation) (*outcome, error) {
	origin, err := h.signer()
	if err != nil {
		return nil, err
	}
	if op.Amount0In.IsZero() || op.Amount1In.IsZero() {
		return nil, fmt.Errorf("%w: both deposit amounts must be positive", engine.ErrInvalidAmount)
	}
	for side, amount := range [2]engine.Amount{op.Amount0In, op.Amount1In} {
		if h.app.params.token(side) == nil {
			if err := h.fundNative(ctx, origin, amount); err != nil {
				return nil, err
			}
		}
	}
	return h.forward(Message{Kind: MessageAddLiquidity, AddLiquidity: &AddLiquidityMessage{Origin: origin, AddLiquidityOperation: op}}), nil
}

func (h *handlers) removeLiquidityOperation(op RemoveLiquidityOperation) (*outcome, error) {
	origin, err := h.signer()
	if err != nil {
		return nil, err
	}
	if op.Liquidity.IsZero() {
		return nil, fmt.Errorf("%w: zero liquidity", engine.ErrInvalidAmount)
	}
	return h.forward(Message{Kind: MessageRemoveLiquidity, RemoveLiquidity: &RemoveLiquidityMessage{Origin: origin, RemoveLiquidityOperation: op}}), nil
}

// governanceOperation captures the signer as the operator; the home chain checks it.
func (h *handlers) governanceOperation(kind MessageKind, account engine.Account) (*outcome, error) {
	operator, err := h.signer()
	if err != nil {
		return nil, err
	}
	msg := Message{Kind: kind}
	payload := &SetAccountMessage{Operator: operator, Account: account}
	if kind == MessageSetFeeTo {
		msg.SetFeeTo = payload
	} else {
		msg.SetFeeToSetter = payload
	}
	return h.forward(msg), nil
}

func recipient(to *engine.Account, origin engine.Account) engine.Account {
	if to != nil {
		return *to
	}
	return origin
}

func (h *handlers) swapMessage(ctx context.Context, m SwapMessage) (*outcome, error) {
	zeroForOne, amountIn, minOut, err := swapInput(m.SwapOperation)
	if err != nil {
		return nil, engine.NewProcessError(err)
	}
	to := recipient(m.To, m.Origin)
	out := engine.NewOutcome[Message, Response]()
	intent := SwapIntent{ZeroForOne: zeroForOne, AmountOutMin: minOut}

	tok := h.app.params.token(inputSide(zeroForOne))
	if tok == nil {
		return out, h.executeSwap(ctx, out, m.Origin, to, amountIn, intent, nil)
	}
	if err := h.openFundRequest(FundRequest{
		Type:   FundTypeSwap,
		Token:  *tok,
		Amount: amountIn,
		From:   m.Origin,
		To:     to,
		Swap:   &intent,
	}, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *handlers) addLiquidityMessage(m AddLiquidityMessage) (*outcome, error) {
	if m.Amount0In.IsZero() || m.Amount1In.IsZero() {
		return nil, engine.NewProcessError(fmt.Errorf("%w: both deposit amounts must be positive", engine.ErrInvalidAmount))
	}
	intent := LiquidityIntent{
		Amount0Desired: m.Amount0In,
		Amount1Desired: m.Amount1In,
		Amount0Min:     m.Amount0Min,
		Amount1Min:     m.Amount1Min,
	}
	return h.fundDeposit(intent, m.Origin, recipient(m.To, m.Origin))
}

// fundDeposit starts the saga for the first token side of a deposit.
func (h *handlers) fundDeposit(intent LiquidityIntent, from, to engine.Account) (*outcome, error) {
	out := engine.NewOutcome[Message, Response]()
	side := 0
	if h.app.params.Token0 == nil {
		side = 1
	}
	if err := h.requestLiquidityLeg(side, intent, from, to, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// initializeLiquidity funds the creation amounts from the creator and mints the
// creator's shares once both sides arrive. It runs at most once per pool.
func (h *handlers) initializeLiquidity(m InitializeLiquidityMessage) (*outcome, error) {
	if origin, ok := h.rt.MessageOriginChainID(); !ok || origin != h.app.home() {
		return nil, engine.NewRuntimeError(engine.ErrInvalidMessageOrigin)
	}
	if signer, ok := h.rt.AuthenticatedAccount(); !ok || signer != m.Creator {
		return nil, engine.NewRuntimeError(engine.ErrPermissionDenied)
	}
	s := h.app.state
	if s.LiquidityInitialized {
		h.app.logger.Debug("Duplicate liquidity initialization ignored", "pool", h.app.env.ApplicationID.Short())
		return nil, nil
	}
	if m.Amount0.IsZero() || m.Amount1.IsZero() {
		return nil, engine.NewProcessError(fmt.Errorf("%w: initial liquidity needs both amounts", engine.ErrInvalidAmount))
	}
	for side, amount := range [2]engine.Amount{m.Amount0, m.Amount1} {
		if h.app.params.token(side) != nil {
			continue
		}
		// The native side was moved to the pool when it was created.
		held := h.rt.NativeBalance(engine.ApplicationOwner(h.app.env.ApplicationID))
		if held.Lt(amount) {
			return nil, engine.NewProcessError(fmt.Errorf("%w: pool holds %s native, initial liquidity needs %s", engine.ErrInsufficientFunds, held, amount))
		}
	}
	s.LiquidityInitialized = true
	h.app.logger.Info("Initializing liquidity", "creator", m.Creator.String(), "amount0", m.Amount0.String(), "amount1", m.Amount1.String())
	return h.fundDeposit(LiquidityIntent{Amount0Desired: m.Amount0, Amount1Desired: m.Amount1}, m.Creator, m.Creator)
}

func (h *handlers) requestLiquidityLeg(side int, intent LiquidityIntent, from, to engine.Account, prev *FundRequest, out *outcome) error {
	intent.Side = side
	amount := intent.Amount0Desired
	if side == 1 {
		amount = intent.Amount1Desired
	}
	return h.openFundRequest(FundRequest{
		Type:      FundTypeAddLiquidity,
		Token:     *h.app.params.token(side),
		Amount:    amount,
		From:      from,
		To:        to,
		Liquidity: &intent,
	}, prev, out)
}

// openFundRequest records a Pending request and asks the token's home chain for the funds.
func (h *handlers) openFundRequest(req FundRequest, prev *FundRequest, out *outcome) error {
	tokenChain, err := h.rt.CreatorChainID(req.Token)
	if err != nil {
		return engine.NewRuntimeError(err)
	}
	req.TokenChainID = tokenChain
	if prev != nil {
		id := prev.TransferID
		req.PrevRequest = &id
	}
	stored := h.app.state.newFundRequest(req, h.rt.SystemTime())
	if prev != nil {
		id := stored.TransferID
		prev.NextRequest = &id
	}
	out.WithMessage(tokenChain, Message{
		Kind: MessageRequestFund,
		RequestFund: &RequestFundMessage{
			Token:      stored.Token,
			TransferID: stored.TransferID,
			Amount:     stored.Amount,
		},
	})
	h.app.logger.Debug("Fund requested",
		"transfer_id", stored.TransferID,
		"type", stored.Type.String(),
		"token", stored.Token.Short(),
		"amount", stored.Amount.String(),
	)
	return nil
}

// requestFund on the token's home chain pulls the funds into the pool's ledger
// account and always answers the chain that asked. A transfer id is debited at
// most once per asking chain; a redelivered request gets the recorded answer.
func (h *handlers) requestFund(ctx context.Context, m RequestFundMessage) (*outcome, error) {
	replyTo, ok := h.rt.MessageOriginChainID()
	if !ok {
		return nil, engine.NewRuntimeError(engine.ErrInvalidMessageOrigin)
	}
	s := h.app.state
	result, seen := s.fundReply(replyTo, m.TransferID)
	if seen {
		h.app.logger.Debug("Duplicate fund request answered again", "transfer_id", m.TransferID, "success", result.Success)
	} else {
		result = FundReply{Success: true}
		if reason := h.callToken(ctx, m.Token, token.NewTransferToCaller(m.Amount)); reason != "" {
			result = FundReply{Error: reason}
		}
		s.recordFundReply(replyTo, m.TransferID, result)
	}
	reply := Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: m.TransferID}}
	if !result.Success {
		reply = Message{Kind: MessageFundFail, FundFail: &FundFailMessage{TransferID: m.TransferID, Error: result.Error}}
	}
	return engine.NewOutcome[Message, Response]().WithMessage(replyTo, reply), nil
}

// callToken runs a ledger operation and returns the refusal reason, or "" on success.
func (h *handlers) callToken(ctx context.Context, tok engine.ApplicationID, op token.Operation) string {
	payload, err := engine.Marshal(op)
	if err != nil {
		return err.Error()
	}
	raw, err := h.rt.CallApplication(ctx, tok, payload)
	if err != nil {
		return err.Error()
	}
	var resp token.Response
	if err := engine.Unmarshal(raw, &resp); err != nil {
		return fmt.Sprintf("%v: %v", engine.ErrInvalidApplicationResponse, err)
	}
	if !resp.Ok {
		return resp.Error
	}
	return ""
}

func (h *handlers) transferFromApplication(ctx context.Context, m TransferFromApplicationMessage) error {
	if reason := h.callToken(ctx, m.Token, token.NewTransferFromApplication(m.To, m.Amount)); reason != "" {
		h.app.logger.Error("Pool payout refused", "token", m.Token.Short(), "to", m.To.String(), "amount", m.Amount.String(), "reason", reason)
		return engine.NewProcessError(fmt.Errorf("payout refused: %s", reason))
	}
	return nil
}

// fundReply looks up the request a reply refers to and checks that it came from
// the chain that was asked.
func (h *handlers) fundReply(transferID uint64) (*FundRequest, error) {
	req, ok := h.app.state.FundRequests[transferID]
	if !ok {
		return nil, engine.NewProcessError(fmt.Errorf("%w: %d", ErrUnknownTransfer, transferID))
	}
	if origin, ok := h.rt.MessageOriginChainID(); !ok || origin != req.TokenChainID {
		return nil, engine.NewRuntimeError(engine.ErrInvalidMessageOrigin)
	}
	return req, nil
}

func (h *handlers) fundSuccess(ctx context.Context, m FundSuccessMessage) (*outcome, error) {
	if _, err := h.fundReply(m.TransferID); err != nil {
		return nil, err
	}
	req, resolved, err := h.app.state.resolveFund(m.TransferID, true, "", h.rt.SystemTime())
	if err != nil {
		return nil, err
	}
	if !resolved {
		h.app.logger.Debug("Duplicate fund reply ignored", "transfer_id", m.TransferID, "status", req.Status.String())
		return nil, nil
	}

	out := engine.NewOutcome[Message, Response]()
	switch req.Type {
	case FundTypeSwap:
		return out, h.executeSwap(ctx, out, req.From, req.To, req.Amount, *req.Swap, req)
	case FundTypeAddLiquidity:
		if req.Liquidity.Side == 0 && h.app.params.Token1 != nil {
			return out, h.requestLiquidityLeg(1, *req.Liquidity, req.From, req.To, req, out)
		}
		return out, h.executeAddLiquidity(ctx, out, req)
	}
	return nil, engine.NewProcessError(fmt.Errorf("unknown fund type %d", req.Type))
}

func (h *handlers) fundFail(ctx context.Context, m FundFailMessage) (*outcome, error) {
	if _, err := h.fundReply(m.TransferID); err != nil {
		return nil, err
	}
	req, resolved, err := h.app.state.resolveFund(m.TransferID, false, m.Error, h.rt.SystemTime())
	if err != nil {
		return nil, err
	}
	if !resolved {
		h.app.logger.Debug("Duplicate fund reply ignored", "transfer_id", m.TransferID, "status", req.Status.String())
		return nil, nil
	}
	h.app.logger.Warn("Fund request failed", "transfer_id", req.TransferID, "type", req.Type.String(), "error", m.Error)

	out := engine.NewOutcome[Message, Response]()
	if req.Type != FundTypeAddLiquidity {
		return out, nil
	}
	// Return whatever the other side already put in.
	other := 1 - req.Liquidity.Side
	switch {
	case h.app.params.token(other) == nil:
		if err := h.payout(ctx, out, other, req.From, desired(*req.Liquidity, other)); err != nil {
			return nil, err
		}
	case req.PrevRequest != nil:
		prev := h.app.state.FundRequests[*req.PrevRequest]
		if err := h.payout(ctx, out, other, prev.From, prev.Amount); err != nil {
			return nil, err
		}
		prev.Refunded = true
	}
	return out, nil
}

func desired(intent LiquidityIntent, side int) engine.Amount {
	if side == 0 {
		return intent.Amount0Desired
	}
	return intent.Amount1Desired
}

// executeSwap trades funded input. A trade that cannot execute refunds the input
// and leaves the reserves untouched.
func (h *handlers) executeSwap(ctx context.Context, out *outcome, from, to engine.Account, amountIn engine.Amount, intent SwapIntent, req *FundRequest) error {
	inSide := inputSide(intent.ZeroForOne)
	amountOut, err := h.app.state.swap(amountIn, intent.ZeroForOne, intent.AmountOutMin, h.rt.SystemTime())
	if err != nil {
		h.app.logger.Warn("Swap refunded", "from", from.String(), "amount_in", amountIn.String(), "err", err)
		if req != nil {
			req.Refunded = true
		}
		return h.payout(ctx, out, inSide, from, amountIn)
	}

	tx := routerabi.Transaction{From: from, CreatedAt: h.rt.SystemTime()}
	if intent.ZeroForOne {
		tx.Type = routerabi.SellToken0
		tx.Amount0In, tx.Amount1Out = amountIn, amountOut
	} else {
		tx.Type = routerabi.BuyToken0
		tx.Amount1In, tx.Amount0Out = amountIn, amountOut
	}
	tx = h.app.state.appendTransaction(tx)
	if err := h.payout(ctx, out, 1-inSide, to, amountOut); err != nil {
		return err
	}
	h.notifyRouter(ctx, tx)
	return nil
}

// executeAddLiquidity deposits once every side is funded, refunding what the pool
// ratio does not take. If the deposit is refused both sides are refunded in full.
func (h *handlers) executeAddLiquidity(ctx context.Context, out *outcome, last *FundRequest) error {
	intent := *last.Liquidity
	dep, err := h.app.state.addLiquidity(intent, last.To, h.rt.SystemTime())
	if err != nil {
		h.app.logger.Warn("Deposit refunded", "from", last.From.String(), "err", err)
		last.Refunded = true
		if last.PrevRequest != nil {
			h.app.state.FundRequests[*last.PrevRequest].Refunded = true
		}
		for side := 0; side < 2; side++ {
			if err := h.payout(ctx, out, side, last.From, desired(intent, side)); err != nil {
				return err
			}
		}
		return nil
	}

	used := [2]engine.Amount{dep.Amount0, dep.Amount1}
	for side := 0; side < 2; side++ {
		residual, err := desired(intent, side).Sub(used[side])
		if err != nil {
			return err
		}
		if err := h.payout(ctx, out, side, last.From, residual); err != nil {
			return err
		}
	}
	tx := h.app.state.appendTransaction(routerabi.Transaction{
		Type:      routerabi.AddLiquidity,
		From:      last.From,
		Amount0In: dep.Amount0,
		Amount1In: dep.Amount1,
		Liquidity: dep.Liquidity,
		CreatedAt: h.rt.SystemTime(),
	})
	h.notifyRouter(ctx, tx)
	return nil
}

func (h *handlers) removeLiquidityMessage(ctx context.Context, m RemoveLiquidityMessage) (*outcome, error) {
	amount0, amount1, err := h.app.state.removeLiquidity(m.Origin, m.Liquidity, m.Amount0OutMin, m.Amount1OutMin, h.rt.SystemTime())
	if err != nil {
		return nil, err
	}
	to := recipient(m.To, m.Origin)
	out := engine.NewOutcome[Message, Response]()
	if err := h.payout(ctx, out, 0, to, amount0); err != nil {
		return nil, err
	}
	if err := h.payout(ctx, out, 1, to, amount1); err != nil {
		return nil, err
	}
	tx := h.app.state.appendTransaction(routerabi.Transaction{
		Type:       routerabi.RemoveLiquidity,
		From:       m.Origin,
		Amount0Out: amount0,
		Amount1Out: amount1,
		Liquidity:  m.Liquidity,
		CreatedAt:  h.rt.SystemTime(),
	})
	h.notifyRouter(ctx, tx)
	return out, nil
}

// payout sends pool holdings of one side to an account. Native funds move
// directly; token funds are released by the pool instance on the token's home chain.
func (h *handlers) payout(ctx context.Context, out *outcome, side int, to engine.Account, amount engine.Amount) error {
	if amount.IsZero() {
		return nil
	}
	tok := h.app.params.token(side)
	if tok == nil {
		return h.rt.TransferNative(ctx, engine.ApplicationOwner(h.app.env.ApplicationID), to, amount)
	}
	tokenChain, err := h.rt.CreatorChainID(*tok)
	if err != nil {
		return engine.NewRuntimeError(err)
	}
	out.WithMessage(tokenChain, Message{
		Kind:                    MessageTransferFromApplication,
		TransferFromApplication: &TransferFromApplicationMessage{Token: *tok, To: to, Amount: amount},
	})
	return nil
}

// notifyRouter reports a trade to the router. A router failure never fails the trade.
func (h *handlers) notifyRouter(ctx context.Context, tx routerabi.Transaction) {
	s := h.app.state
	if s.Router == nil {
		return
	}
	update := routerabi.UpdatePoolOperation{
		Token0:      s.Pool.Token0,
		Token1:      s.Pool.Token1,
		Transaction: tx,
		Reserve0:    s.Pool.Reserve0,
		Reserve1:    s.Pool.Reserve1,
	}
	if price0, price1, err := s.price(); err == nil {
		update.Price0, update.Price1 = price0, price1
	}
	payload, err := engine.Marshal(routerabi.NewUpdatePool(update))
	if err == nil {
		_, err = h.rt.CallApplication(ctx, *s.Router, payload)
	}
	if err != nil {
		h.app.logger.Warn("Router notification failed", "router", s.Router.Short(), "transaction_id", tx.ID, "err", err)
	}
}

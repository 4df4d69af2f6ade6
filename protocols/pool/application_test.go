package pool

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/engine/enginetest"
	"github.com/defistate/microswap/protocols/pool/calculator"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolHome  = engine.NewChainID("pool-home")
	tokenHome = engine.NewChainID("token-home")
	userChain = engine.NewChainID("user-chain")
	token0ID  = engine.NewApplicationID(tokenHome, token.ModuleName, 0)
	token1ID  = engine.NewApplicationID(tokenHome, token.ModuleName, 1)
	poolID    = engine.NewApplicationID(poolHome, ModuleName, 0)
	routerID  = engine.NewApplicationID(poolHome, "router", 0)
	alice     = engine.Account{ChainID: userChain, Owner: engine.NewOwner("alice")}
	mallory   = engine.Account{ChainID: userChain, Owner: engine.NewOwner("mallory")}
	poolOnT   = engine.Account{ChainID: tokenHome, Owner: engine.ApplicationOwner(poolID)}
)

func testLogger() engine.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func tokens(n uint64) engine.Amount { return engine.AmountFromTokens(n) }

func amountPtr(a engine.Amount) *engine.Amount { return &a }

func tokenPair() Parameters {
	t0, t1 := token0ID, token1ID
	return Parameters{Token0: &t0, Token1: &t1, VirtualInitialLiquidity: true}
}

func nativePair() Parameters {
	t0 := token0ID
	return Parameters{Token0: &t0, VirtualInitialLiquidity: true}
}

func newTestPool(t *testing.T, chain engine.ChainID, params Parameters) (*Application, *enginetest.Runtime) {
	t.Helper()
	raw, err := engine.Marshal(params)
	require.NoError(t, err)
	app, err := New(engine.ModuleEnv{
		ApplicationID:  poolID,
		CreatorChainID: poolHome,
		ChainID:        chain,
		Parameters:     raw,
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	rt := enginetest.NewRuntime(chain, poolID)
	rt.Creators[poolID] = poolHome
	rt.Creators[token0ID] = tokenHome
	rt.Creators[token1ID] = tokenHome
	return app.(*Application), rt
}

func instantiatePool(t *testing.T, app *Application, rt *enginetest.Runtime, arg InstantiationArgument) {
	t.Helper()
	raw, err := engine.Marshal(arg)
	require.NoError(t, err)
	rt.Account = &alice
	require.NoError(t, app.Instantiate(context.Background(), rt, raw))
	rt.Account = nil
}

// newHomePool returns a token/token pool with 1000/1000 virtual reserves.
func newHomePool(t *testing.T) (*Application, *enginetest.Runtime) {
	app, rt := newTestPool(t, poolHome, tokenPair())
	instantiatePool(t, app, rt, InstantiationArgument{Amount0: tokens(1000), Amount1: tokens(1000)})
	return app, rt
}

func deliver(t *testing.T, app *Application, rt *enginetest.Runtime, from engine.ChainID, msg Message) error {
	t.Helper()
	raw, err := engine.Marshal(msg)
	require.NoError(t, err)
	rt.Origin = &from
	return app.ExecuteMessage(context.Background(), rt, raw)
}

func sent(t *testing.T, rt *enginetest.Runtime) []Message {
	t.Helper()
	out := make([]Message, 0, len(rt.Sent))
	for _, s := range rt.Sent {
		var msg Message
		require.NoError(t, engine.Unmarshal(s.Payload, &msg))
		out = append(out, msg)
	}
	return out
}

// attachLedger serves tokenID from a real token ledger behind rt's application calls.
func attachLedger(t *testing.T, rt *enginetest.Runtime, tokenID engine.ApplicationID, balances map[engine.Account]engine.Amount) engine.Application {
	t.Helper()
	params, err := engine.Marshal(token.Parameters{Name: "Test", Symbol: "TST", Decimals: 18})
	require.NoError(t, err)
	ledger, err := token.New(engine.ModuleEnv{
		ApplicationID:  tokenID,
		CreatorChainID: tokenHome,
		ChainID:        tokenHome,
		Parameters:     params,
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	ledgerRt := enginetest.NewRuntime(tokenHome, tokenID)
	ledgerRt.Creators[tokenID] = tokenHome
	arg, err := engine.Marshal(token.InstantiationArgument{InitialBalances: balances})
	require.NoError(t, err)
	require.NoError(t, ledger.Instantiate(context.Background(), ledgerRt, arg))

	rt.Calls[tokenID] = func(ctx context.Context, caller engine.ApplicationID, operation []byte) ([]byte, error) {
		ledgerRt.Account = rt.Account
		ledgerRt.Caller = &caller
		return ledger.ExecuteOperation(ctx, ledgerRt, operation)
	}
	return ledger
}

func balanceOf(t *testing.T, ledger engine.Application, acc engine.Account) string {
	t.Helper()
	q, err := engine.Marshal(token.Query{Kind: token.QueryBalance, Account: &acc})
	require.NoError(t, err)
	raw, err := ledger.HandleQuery(context.Background(), q)
	require.NoError(t, err)
	var resp token.QueryResponse
	require.NoError(t, engine.Unmarshal(raw, &resp))
	return resp.Balance.String()
}

func swapMessage(amount0In engine.Amount, minOut *engine.Amount) Message {
	return Message{Kind: MessageSwap, Swap: &SwapMessage{
		Origin:        alice,
		SwapOperation: SwapOperation{Amount0In: &amount0In, Amount1OutMin: minOut},
	}}
}

func TestSwapThroughFundingSaga(t *testing.T) {
	home, homeRt := newHomePool(t)
	remote, remoteRt := newTestPool(t, tokenHome, tokenPair())
	ledger0 := attachLedger(t, remoteRt, token0ID, map[engine.Account]engine.Amount{alice: tokens(100)})
	ledger1 := attachLedger(t, remoteRt, token1ID, map[engine.Account]engine.Amount{poolOnT: tokens(1000)})

	// 1. The home chain records the request and asks the token chain for the input.
	require.NoError(t, deliver(t, home, homeRt, userChain, swapMessage(tokens(10), nil)))
	msgs := sent(t, homeRt)
	require.Len(t, msgs, 1)
	assert.Equal(t, tokenHome, homeRt.Sent[0].Destination)
	require.NotNil(t, msgs[0].RequestFund)
	assert.Equal(t, FirstTransferID, msgs[0].RequestFund.TransferID)
	assert.Equal(t, FundPending, home.state.FundRequests[FirstTransferID].Status)
	assert.Equal(t, "1000", home.state.Pool.Reserve0.String(), "reserves must not move before funding")

	// 2. The token chain pulls the funds and replies to the asking chain.
	remoteRt.Account = &alice
	require.NoError(t, deliver(t, remote, remoteRt, poolHome, msgs[0]))
	replies := sent(t, remoteRt)
	require.Len(t, replies, 1)
	assert.Equal(t, poolHome, remoteRt.Sent[0].Destination)
	require.NotNil(t, replies[0].FundSuccess)
	assert.Equal(t, "90", balanceOf(t, ledger0, alice))
	assert.Equal(t, "10", balanceOf(t, ledger0, poolOnT))

	// 3. On success the swap executes and the output is paid out on the token chain.
	homeRt.Reset()
	require.NoError(t, deliver(t, home, homeRt, tokenHome, replies[0]))
	want, err := calculator.GetAmountOut(tokens(10), true, calculator.Reserves{Reserve0: tokens(1000), Reserve1: tokens(1000), FeeBps: 30})
	require.NoError(t, err)

	req := home.state.FundRequests[FirstTransferID]
	assert.Equal(t, FundSuccess, req.Status)
	assert.False(t, req.Refunded)
	assert.Equal(t, "1010", home.state.Pool.Reserve0.String())
	wantReserve1, _ := tokens(1000).Sub(want)
	assert.True(t, wantReserve1.Eq(home.state.Pool.Reserve1))
	require.Len(t, home.state.Transactions, 1)
	assert.Equal(t, routerabi.SellToken0, home.state.Transactions[0].Type)
	assert.Equal(t, FirstTransactionID, home.state.Transactions[0].ID)

	payouts := sent(t, homeRt)
	require.Len(t, payouts, 1)
	require.NotNil(t, payouts[0].TransferFromApplication)
	assert.Equal(t, token1ID, payouts[0].TransferFromApplication.Token)
	assert.True(t, want.Eq(payouts[0].TransferFromApplication.Amount))

	remoteRt.Account = nil
	require.NoError(t, deliver(t, remote, remoteRt, poolHome, payouts[0]))
	assert.Equal(t, want.String(), balanceOf(t, ledger1, alice))

	t.Run("a duplicate FundSuccess changes nothing", func(t *testing.T) {
		before, err := home.Save()
		require.NoError(t, err)
		homeRt.Reset()
		require.NoError(t, deliver(t, home, homeRt, tokenHome, replies[0]))
		after, err := home.Save()
		require.NoError(t, err)
		assert.JSONEq(t, string(before), string(after))
		assert.Empty(t, homeRt.Sent)
	})
}

func TestFundFailLeavesReservesUnchanged(t *testing.T) {
	home, homeRt := newHomePool(t)
	remote, remoteRt := newTestPool(t, tokenHome, tokenPair())
	attachLedger(t, remoteRt, token0ID, map[engine.Account]engine.Amount{alice: tokens(10)})
	home.state.NextTransferID = 7

	require.NoError(t, deliver(t, home, homeRt, userChain, swapMessage(tokens(50), nil)))
	requests := sent(t, homeRt)
	require.Len(t, requests, 1)
	require.Equal(t, uint64(7), requests[0].RequestFund.TransferID)

	remoteRt.Account = &alice
	require.NoError(t, deliver(t, remote, remoteRt, poolHome, requests[0]))
	replies := sent(t, remoteRt)
	require.Len(t, replies, 1)
	require.NotNil(t, replies[0].FundFail)
	assert.Equal(t, token.ReasonInsufficientBalance, replies[0].FundFail.Error)

	homeRt.Reset()
	require.NoError(t, deliver(t, home, homeRt, tokenHome, replies[0]))
	req := home.state.FundRequests[7]
	assert.Equal(t, FundFail, req.Status)
	assert.Equal(t, "insufficient balance", req.Error)
	assert.Equal(t, "1000", home.state.Pool.Reserve0.String())
	assert.Equal(t, "1000", home.state.Pool.Reserve1.String())
	assert.Empty(t, homeRt.Sent, "nothing was funded so nothing is compensated")
	assert.Empty(t, home.state.Transactions)

	t.Run("a late FundSuccess cannot revive a failed request", func(t *testing.T) {
		err := deliver(t, home, homeRt, tokenHome, Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: 7}})
		require.NoError(t, err)
		assert.Equal(t, FundFail, home.state.FundRequests[7].Status)
		assert.Equal(t, "1000", home.state.Pool.Reserve0.String())
	})
}

func TestFundReplyValidation(t *testing.T) {
	home, homeRt := newHomePool(t)
	require.NoError(t, deliver(t, home, homeRt, userChain, swapMessage(tokens(1), nil)))

	t.Run("unknown transfer id", func(t *testing.T) {
		err := deliver(t, home, homeRt, tokenHome, Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: 1}})
		var processErr *engine.ProcessError
		require.ErrorAs(t, err, &processErr)
		assert.ErrorIs(t, err, ErrUnknownTransfer)
	})

	t.Run("reply from the wrong chain", func(t *testing.T) {
		err := deliver(t, home, homeRt, userChain, Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: FirstTransferID}})
		assert.ErrorIs(t, err, engine.ErrInvalidMessageOrigin)
		assert.Equal(t, FundPending, home.state.FundRequests[FirstTransferID].Status)
	})

	t.Run("pool state is only touched at home", func(t *testing.T) {
		remote, remoteRt := newTestPool(t, tokenHome, tokenPair())
		err := deliver(t, remote, remoteRt, userChain, swapMessage(tokens(1), nil))
		assert.ErrorIs(t, err, ErrNotHomeChain)
	})
}

func TestSlippageAfterFundingRefunds(t *testing.T) {
	home, homeRt := newHomePool(t)
	require.NoError(t, deliver(t, home, homeRt, userChain, swapMessage(tokens(10), amountPtr(tokens(10)))))
	homeRt.Reset()

	require.NoError(t, deliver(t, home, homeRt, tokenHome, Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: FirstTransferID}}))
	req := home.state.FundRequests[FirstTransferID]
	assert.Equal(t, FundSuccess, req.Status)
	assert.True(t, req.Refunded)
	assert.Equal(t, "1000", home.state.Pool.Reserve0.String())
	assert.Equal(t, "1000", home.state.Pool.Reserve1.String())

	msgs := sent(t, homeRt)
	require.Len(t, msgs, 1)
	refund := msgs[0].TransferFromApplication
	require.NotNil(t, refund)
	assert.Equal(t, token0ID, refund.Token)
	assert.Equal(t, alice, refund.To)
	assert.Equal(t, "10", refund.Amount.String())
}

func TestNativeSwap(t *testing.T) {
	// Operation on the user chain: the native input moves before forwarding.
	user, userRt := newTestPool(t, userChain, nativePair())
	userRt.Account = &alice
	userRt.Balances[alice.Owner] = tokens(50)
	raw, err := engine.Marshal(NewSwap(SwapOperation{Amount1In: amountPtr(tokens(10))}))
	require.NoError(t, err)
	out, err := user.ExecuteOperation(context.Background(), userRt, raw)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, engine.Unmarshal(out, &resp))
	assert.True(t, resp.Forwarded)
	assert.Equal(t, poolHome, resp.Destination)
	require.Len(t, userRt.Transfers, 1)
	assert.Equal(t, user.account(), userRt.Transfers[0].To)
	assert.Equal(t, "40", userRt.NativeBalance(alice.Owner).String())
	forwarded := sent(t, userRt)
	require.Len(t, forwarded, 1)
	assert.Equal(t, alice, forwarded[0].Swap.Origin)

	// The home chain swaps at once; the output token is paid out by message.
	home, homeRt := newTestPool(t, poolHome, nativePair())
	instantiatePool(t, home, homeRt, InstantiationArgument{Amount0: tokens(1000), Amount1: tokens(1000)})
	require.NoError(t, deliver(t, home, homeRt, userChain, forwarded[0]))
	assert.Empty(t, home.state.FundRequests)
	assert.Equal(t, "1010", home.state.Pool.Reserve1.String())
	payouts := sent(t, homeRt)
	require.Len(t, payouts, 1)
	assert.Equal(t, token0ID, payouts[0].TransferFromApplication.Token)
	assert.Equal(t, routerabi.BuyToken0, home.state.Transactions[0].Type)
}

func TestSwapOperationValidation(t *testing.T) {
	app, rt := newTestPool(t, userChain, tokenPair())
	rt.Account = &alice
	cases := []struct {
		name string
		op   SwapOperation
	}{
		{"no input", SwapOperation{}},
		{"two inputs", SwapOperation{Amount0In: amountPtr(tokens(1)), Amount1In: amountPtr(tokens(1))}},
		{"zero input", SwapOperation{Amount0In: amountPtr(engine.Amount{})}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := engine.Marshal(NewSwap(tc.op))
			require.NoError(t, err)
			_, err = app.ExecuteOperation(context.Background(), rt, raw)
			assert.ErrorIs(t, err, engine.ErrInvalidAmount)
			assert.Empty(t, rt.Sent)
		})
	}
}

func TestAddLiquiditySaga(t *testing.T) {
	addMsg := Message{Kind: MessageAddLiquidity, AddLiquidity: &AddLiquidityMessage{
		Origin:                alice,
		AddLiquidityOperation: AddLiquidityOperation{Amount0In: tokens(100), Amount1In: tokens(150)},
	}}
	success := func(id uint64) Message {
		return Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: id}}
	}

	t.Run("both legs funded mints shares and refunds the residual", func(t *testing.T) {
		home, rt := newHomePool(t)
		require.NoError(t, deliver(t, home, rt, userChain, addMsg))
		require.Len(t, sent(t, rt), 1, "only the first leg is requested up front")

		rt.Reset()
		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID)))
		legs := sent(t, rt)
		require.Len(t, legs, 1)
		require.NotNil(t, legs[0].RequestFund)
		assert.Equal(t, token1ID, legs[0].RequestFund.Token)
		second := home.state.FundRequests[FirstTransferID+1]
		require.NotNil(t, second.PrevRequest)
		assert.Equal(t, FirstTransferID, *second.PrevRequest)

		rt.Reset()
		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID+1)))
		assert.Equal(t, "1100", home.state.Pool.Reserve0.String())
		assert.Equal(t, "1100", home.state.Pool.Reserve1.String())
		assert.False(t, home.state.Shares[alice].IsZero())
		refunds := sent(t, rt)
		require.Len(t, refunds, 1)
		assert.Equal(t, token1ID, refunds[0].TransferFromApplication.Token)
		assert.Equal(t, "50", refunds[0].TransferFromApplication.Amount.String())
		assert.Equal(t, routerabi.AddLiquidity, home.state.Transactions[0].Type)
	})

	t.Run("a failed second leg refunds the first", func(t *testing.T) {
		home, rt := newHomePool(t)
		require.NoError(t, deliver(t, home, rt, userChain, addMsg))
		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID)))
		rt.Reset()

		fail := Message{Kind: MessageFundFail, FundFail: &FundFailMessage{TransferID: FirstTransferID + 1, Error: "insufficient balance"}}
		require.NoError(t, deliver(t, home, rt, tokenHome, fail))
		assert.Equal(t, FundFail, home.state.FundRequests[FirstTransferID+1].Status)
		assert.True(t, home.state.FundRequests[FirstTransferID].Refunded)
		assert.True(t, home.state.Shares[alice].IsZero())
		assert.Equal(t, "1000", home.state.Pool.TotalSupply.String(), "only the locked virtual shares")

		refunds := sent(t, rt)
		require.Len(t, refunds, 1)
		assert.Equal(t, token0ID, refunds[0].TransferFromApplication.Token)
		assert.Equal(t, "100", refunds[0].TransferFromApplication.Amount.String())
	})
}

func TestRemoveLiquidity(t *testing.T) {
	params := tokenPair()
	params.VirtualInitialLiquidity = false
	home, rt := newTestPool(t, poolHome, params)
	instantiatePool(t, home, rt, InstantiationArgument{})
	owner := alice
	dep, err := home.state.addLiquidity(LiquidityIntent{Amount0Desired: tokens(1000), Amount1Desired: tokens(1000)}, owner, rt.Now)
	require.NoError(t, err)
	require.Equal(t, "1000", dep.Liquidity.String())

	t.Run("burning more than recorded is rejected", func(t *testing.T) {
		msg := Message{Kind: MessageRemoveLiquidity, RemoveLiquidity: &RemoveLiquidityMessage{
			Origin:                   owner,
			RemoveLiquidityOperation: RemoveLiquidityOperation{Liquidity: tokens(1001)},
		}}
		err := deliver(t, home, rt, userChain, msg)
		assert.ErrorIs(t, err, ErrInsufficientShares)
		assert.Empty(t, rt.Sent)
	})

	t.Run("burning pays out both sides", func(t *testing.T) {
		msg := Message{Kind: MessageRemoveLiquidity, RemoveLiquidity: &RemoveLiquidityMessage{
			Origin:                   owner,
			RemoveLiquidityOperation: RemoveLiquidityOperation{Liquidity: tokens(500)},
		}}
		require.NoError(t, deliver(t, home, rt, userChain, msg))
		assert.Equal(t, "500", home.state.Shares[owner].String())
		payouts := sent(t, rt)
		require.Len(t, payouts, 2)
		assert.Equal(t, "500", payouts[0].TransferFromApplication.Amount.String())
		assert.Equal(t, "500", payouts[1].TransferFromApplication.Amount.String())
		assert.Equal(t, routerabi.RemoveLiquidity, home.state.Transactions[0].Type)
	})
}

func TestFeeSetterGovernance(t *testing.T) {
	home, rt := newHomePool(t)
	require.Equal(t, alice, home.state.Pool.FeeToSetter, "the creator governs the pool")

	t.Run("the operation captures the signer as operator", func(t *testing.T) {
		user, userRt := newTestPool(t, userChain, tokenPair())
		userRt.Account = &mallory
		raw, err := engine.Marshal(NewSetFeeToSetter(mallory))
		require.NoError(t, err)
		_, err = user.ExecuteOperation(context.Background(), userRt, raw)
		require.NoError(t, err)
		msgs := sent(t, userRt)
		require.Len(t, msgs, 1)
		assert.Equal(t, mallory, msgs[0].SetFeeToSetter.Operator)
	})

	t.Run("an unauthorized change is rejected with no message", func(t *testing.T) {
		msg := Message{Kind: MessageSetFeeToSetter, SetFeeToSetter: &SetAccountMessage{Operator: mallory, Account: mallory}}
		err := deliver(t, home, rt, userChain, msg)
		assert.ErrorIs(t, err, engine.ErrNotAllowed)
		assert.Empty(t, rt.Sent)
		assert.Equal(t, alice, home.state.Pool.FeeToSetter)
	})

	t.Run("the fee setter may hand over", func(t *testing.T) {
		require.NoError(t, deliver(t, home, rt, userChain, Message{Kind: MessageSetFeeTo, SetFeeTo: &SetAccountMessage{Operator: alice, Account: mallory}}))
		assert.Equal(t, mallory, home.state.Pool.FeeTo)
		require.NoError(t, deliver(t, home, rt, userChain, Message{Kind: MessageSetFeeToSetter, SetFeeToSetter: &SetAccountMessage{Operator: alice, Account: mallory}}))
		assert.Equal(t, mallory, home.state.Pool.FeeToSetter)
		assert.Empty(t, rt.Sent)
	})
}

func TestRouterNotification(t *testing.T) {
	app, rt := newTestPool(t, poolHome, nativePair())
	router := routerID
	instantiatePool(t, app, rt, InstantiationArgument{Amount0: tokens(1000), Amount1: tokens(1000), Router: &router})

	var got []routerabi.Operation
	rt.Calls[routerID] = func(ctx context.Context, caller engine.ApplicationID, operation []byte) ([]byte, error) {
		assert.Equal(t, poolID, caller)
		var op routerabi.Operation
		require.NoError(t, engine.Unmarshal(operation, &op))
		got = append(got, op)
		return engine.Marshal(routerabi.Response{})
	}
	msg := Message{Kind: MessageSwap, Swap: &SwapMessage{Origin: alice, SwapOperation: SwapOperation{Amount1In: amountPtr(tokens(10))}}}
	require.NoError(t, deliver(t, app, rt, userChain, msg))
	require.Len(t, got, 1)
	require.NotNil(t, got[0].UpdatePool)
	assert.Equal(t, "1010", got[0].UpdatePool.Reserve1.String())
	assert.Equal(t, routerabi.BuyToken0, got[0].UpdatePool.Transaction.Type)
	assert.Nil(t, got[0].UpdatePool.Token1)

	t.Run("a router failure does not fail the trade", func(t *testing.T) {
		delete(rt.Calls, routerID)
		require.NoError(t, deliver(t, app, rt, userChain, msg))
		assert.Len(t, app.state.Transactions, 2)
	})
}

func TestInstantiate(t *testing.T) {
	t.Run("initial liquidity needs both amounts", func(t *testing.T) {
		for name, virtual := range map[string]bool{"virtual": true, "funded": false} {
			params := tokenPair()
			params.VirtualInitialLiquidity = virtual
			app, rt := newTestPool(t, poolHome, params)
			rt.Account = &alice
			raw, err := engine.Marshal(InstantiationArgument{Amount0: tokens(1000)})
			require.NoError(t, err)
			assert.ErrorIs(t, app.Instantiate(context.Background(), rt, raw), engine.ErrInvalidAmount, name)
			assert.True(t, app.state.Pool.Reserve0.IsZero(), name)
		}
	})

	t.Run("virtual reserves are backed by locked shares", func(t *testing.T) {
		app, _ := newHomePool(t)
		assert.Equal(t, "1000", app.state.Pool.TotalSupply.String())
		assert.Equal(t, "1000", app.state.Shares[app.account()].String())
		assert.True(t, app.state.Shares[alice].IsZero(), "the creator holds none of the virtual supply")
	})

	t.Run("funded amounts queue a liquidity initialization", func(t *testing.T) {
		params := tokenPair()
		params.VirtualInitialLiquidity = false
		app, rt := newTestPool(t, poolHome, params)
		instantiatePool(t, app, rt, InstantiationArgument{Amount0: tokens(100), Amount1: tokens(50)})
		assert.True(t, app.state.Pool.Reserve0.IsZero())
		assert.True(t, app.state.Pool.TotalSupply.IsZero())

		msgs := sent(t, rt)
		require.Len(t, msgs, 1)
		assert.Equal(t, poolHome, rt.Sent[0].Destination)
		require.Equal(t, MessageInitializeLiquidity, msgs[0].Kind)
		assert.Equal(t, InitializeLiquidityMessage{Creator: alice, Amount0: tokens(100), Amount1: tokens(50)}, *msgs[0].InitializeLiquidity)
	})

	t.Run("funded amounts need a signer", func(t *testing.T) {
		params := tokenPair()
		params.VirtualInitialLiquidity = false
		app, rt := newTestPool(t, poolHome, params)
		raw, err := engine.Marshal(InstantiationArgument{Amount0: tokens(1), Amount1: tokens(1)})
		require.NoError(t, err)
		assert.ErrorIs(t, app.Instantiate(context.Background(), rt, raw), engine.ErrMissingAuthenticatedAccount)
	})

	t.Run("only on the home chain", func(t *testing.T) {
		app, rt := newTestPool(t, userChain, tokenPair())
		assert.ErrorIs(t, app.Instantiate(context.Background(), rt, nil), ErrNotHomeChain)
	})

	t.Run("rejects two native sides", func(t *testing.T) {
		raw, err := engine.Marshal(Parameters{})
		require.NoError(t, err)
		_, err = New(engine.ModuleEnv{ApplicationID: poolID, CreatorChainID: poolHome, ChainID: poolHome, Parameters: raw, Logger: testLogger()})
		assert.Error(t, err)
	})
}

func TestQueries(t *testing.T) {
	home, rt := newHomePool(t)
	require.NoError(t, deliver(t, home, rt, userChain, swapMessage(tokens(1), nil)))
	rt.Now += 120_000_000
	require.NoError(t, deliver(t, home, rt, userChain, swapMessage(tokens(2), nil)))

	query := func(q Query) QueryResponse {
		raw, err := engine.Marshal(q)
		require.NoError(t, err)
		out, err := home.HandleQuery(context.Background(), raw)
		require.NoError(t, err)
		var resp QueryResponse
		require.NoError(t, engine.Unmarshal(out, &resp))
		return resp
	}

	pending := FundPending
	all := query(Query{Kind: QueryFundRequests, Status: &pending})
	assert.Len(t, all.FundRequests, 2)

	old := query(Query{Kind: QueryFundRequests, Status: &pending, OlderThanSeconds: 60, Now: rt.Now})
	require.Len(t, old.FundRequests, 1)
	assert.Equal(t, FirstTransferID, old.FundRequests[0].TransferID)

	one := query(Query{Kind: QueryFundRequest, TransferID: FirstTransferID + 1})
	require.NotNil(t, one.FundRequest)
	assert.Equal(t, "2", one.FundRequest.Amount.String())

	price := query(Query{Kind: QueryPrice})
	require.NotNil(t, price.Price)
	assert.Equal(t, "1", price.Price.Price0.String())

	reserves := query(Query{Kind: QueryReserves})
	assert.Equal(t, "1000", reserves.Reserves.Reserve0.String())
}

func TestVirtualLiquidityRoundTrip(t *testing.T) {
	home, rt := newHomePool(t)
	success := func(id uint64) Message {
		return Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: id}}
	}
	add := Message{Kind: MessageAddLiquidity, AddLiquidity: &AddLiquidityMessage{
		Origin:                alice,
		AddLiquidityOperation: AddLiquidityOperation{Amount0In: tokens(10), Amount1In: tokens(10)},
	}}
	require.NoError(t, deliver(t, home, rt, userChain, add))
	require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID)))
	require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID+1)))
	require.Equal(t, "10", home.state.Shares[alice].String())

	rt.Reset()
	remove := Message{Kind: MessageRemoveLiquidity, RemoveLiquidity: &RemoveLiquidityMessage{
		Origin:                   alice,
		RemoveLiquidityOperation: RemoveLiquidityOperation{Liquidity: tokens(10)},
	}}
	require.NoError(t, deliver(t, home, rt, userChain, remove))
	payouts := sent(t, rt)
	require.Len(t, payouts, 2)
	for _, p := range payouts {
		assert.False(t, p.TransferFromApplication.Amount.Gt(tokens(10)), "paid %s for a deposit of 10", p.TransferFromApplication.Amount)
	}
	assert.Equal(t, "1000", home.state.Pool.Reserve0.String())
	assert.Equal(t, "1000", home.state.Pool.Reserve1.String())

	t.Run("the locked shares cannot be burned by a user", func(t *testing.T) {
		steal := Message{Kind: MessageRemoveLiquidity, RemoveLiquidity: &RemoveLiquidityMessage{
			Origin:                   alice,
			RemoveLiquidityOperation: RemoveLiquidityOperation{Liquidity: tokens(1)},
		}}
		assert.ErrorIs(t, deliver(t, home, rt, userChain, steal), ErrInsufficientShares)
	})
}

func TestDustSwapIsRefunded(t *testing.T) {
	home, rt := newHomePool(t)
	dust := engine.AmountFromAttos(1)
	require.NoError(t, deliver(t, home, rt, userChain, swapMessage(dust, nil)))
	rt.Reset()

	require.NoError(t, deliver(t, home, rt, tokenHome, Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: FirstTransferID}}))
	assert.True(t, home.state.FundRequests[FirstTransferID].Refunded)
	assert.Equal(t, "1000", home.state.Pool.Reserve0.String())
	assert.Equal(t, "1000", home.state.Pool.Reserve1.String())
	assert.Empty(t, home.state.Transactions)

	refunds := sent(t, rt)
	require.Len(t, refunds, 1)
	assert.Equal(t, token0ID, refunds[0].TransferFromApplication.Token)
	assert.True(t, dust.Eq(refunds[0].TransferFromApplication.Amount))
}

func TestRequestFundIsIdempotent(t *testing.T) {
	remote, remoteRt := newTestPool(t, tokenHome, tokenPair())
	ledger0 := attachLedger(t, remoteRt, token0ID, map[engine.Account]engine.Amount{alice: tokens(100)})
	request := Message{Kind: MessageRequestFund, RequestFund: &RequestFundMessage{Token: token0ID, TransferID: FirstTransferID, Amount: tokens(10)}}

	remoteRt.Account = &alice
	require.NoError(t, deliver(t, remote, remoteRt, poolHome, request))
	require.NoError(t, deliver(t, remote, remoteRt, poolHome, request))
	assert.Equal(t, "90", balanceOf(t, ledger0, alice), "a redelivered request debits once")
	assert.Equal(t, "10", balanceOf(t, ledger0, poolOnT))

	replies := sent(t, remoteRt)
	require.Len(t, replies, 2, "every delivery is answered")
	assert.Equal(t, replies[0], replies[1])
	require.NotNil(t, replies[0].FundSuccess)

	t.Run("the recorded answer survives a reload", func(t *testing.T) {
		saved, err := remote.Save()
		require.NoError(t, err)
		reloaded, rt := newTestPool(t, tokenHome, tokenPair())
		require.NoError(t, reloaded.Load(saved))
		rt.Calls = remoteRt.Calls
		rt.Account = &alice
		require.NoError(t, deliver(t, reloaded, rt, poolHome, request))
		assert.Equal(t, "90", balanceOf(t, ledger0, alice))
	})

	t.Run("a refusal is replayed too", func(t *testing.T) {
		big := Message{Kind: MessageRequestFund, RequestFund: &RequestFundMessage{Token: token0ID, TransferID: FirstTransferID + 1, Amount: tokens(500)}}
		remoteRt.Reset()
		require.NoError(t, deliver(t, remote, remoteRt, poolHome, big))
		before := balanceOf(t, ledger0, alice)
		require.NoError(t, deliver(t, remote, remoteRt, poolHome, big))
		replies := sent(t, remoteRt)
		require.Len(t, replies, 2)
		require.NotNil(t, replies[1].FundFail)
		assert.Equal(t, token.ReasonInsufficientBalance, replies[1].FundFail.Error)
		assert.Equal(t, before, balanceOf(t, ledger0, alice))
	})

	t.Run("the same id from another pool home is a new request", func(t *testing.T) {
		remoteRt.Reset()
		require.NoError(t, deliver(t, remote, remoteRt, userChain, request))
		assert.Equal(t, "80", balanceOf(t, ledger0, alice))
	})
}

func TestInitializeLiquidity(t *testing.T) {
	funded := func(t *testing.T, params Parameters) (*Application, *enginetest.Runtime, Message) {
		t.Helper()
		params.VirtualInitialLiquidity = false
		app, rt := newTestPool(t, poolHome, params)
		instantiatePool(t, app, rt, InstantiationArgument{Amount0: tokens(100), Amount1: tokens(100)})
		msgs := sent(t, rt)
		require.Len(t, msgs, 1)
		rt.Reset()
		rt.Account = &alice
		return app, rt, msgs[0]
	}
	success := func(id uint64) Message {
		return Message{Kind: MessageFundSuccess, FundSuccess: &FundSuccessMessage{TransferID: id}}
	}

	t.Run("the creator funds both sides and receives the shares", func(t *testing.T) {
		home, rt, init := funded(t, tokenPair())
		require.NoError(t, deliver(t, home, rt, poolHome, init))
		assert.True(t, home.state.LiquidityInitialized)
		requests := sent(t, rt)
		require.Len(t, requests, 1)
		assert.Equal(t, token0ID, requests[0].RequestFund.Token)
		assert.Equal(t, alice, home.state.FundRequests[FirstTransferID].From)

		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID)))
		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID+1)))
		assert.Equal(t, "100", home.state.Pool.Reserve0.String())
		assert.Equal(t, "100", home.state.Pool.Reserve1.String())
		assert.Equal(t, "100", home.state.Shares[alice].String())
		assert.True(t, home.state.Pool.TotalSupply.Eq(home.state.Shares[alice]))

		t.Run("a second initialization is ignored", func(t *testing.T) {
			rt.Reset()
			require.NoError(t, deliver(t, home, rt, poolHome, init))
			assert.Empty(t, rt.Sent)
			assert.Equal(t, "100", home.state.Pool.Reserve0.String())
		})
	})

	t.Run("only the pool itself may ask", func(t *testing.T) {
		home, rt, init := funded(t, tokenPair())
		assert.ErrorIs(t, deliver(t, home, rt, userChain, init), engine.ErrInvalidMessageOrigin)
		rt.Account = &mallory
		assert.ErrorIs(t, deliver(t, home, rt, poolHome, init), engine.ErrPermissionDenied)
		assert.False(t, home.state.LiquidityInitialized)
	})

	t.Run("the native side must already be held", func(t *testing.T) {
		home, rt, init := funded(t, nativePair())
		err := deliver(t, home, rt, poolHome, init)
		assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
		assert.False(t, home.state.LiquidityInitialized)

		rt.Balances[engine.ApplicationOwner(poolID)] = tokens(100)
		require.NoError(t, deliver(t, home, rt, poolHome, init))
		require.NoError(t, deliver(t, home, rt, tokenHome, success(FirstTransferID)))
		assert.Equal(t, "100", home.state.Shares[alice].String())
		assert.Equal(t, "100", home.state.Pool.Reserve1.String())
	})
}

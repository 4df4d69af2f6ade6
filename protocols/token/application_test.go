package token

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	homeChain  = engine.NewChainID("token-home")
	otherChain = engine.NewChainID("user-chain")
	tokenApp   = engine.NewApplicationID(homeChain, ModuleName, 0)
	poolApp    = engine.NewApplicationID(homeChain, "pool", 0)
	alice      = engine.Account{ChainID: otherChain, Owner: engine.NewOwner("alice")}
	bob        = engine.Account{ChainID: otherChain, Owner: engine.NewOwner("bob")}
)

func newTestToken(t *testing.T, chain engine.ChainID) (*Application, *enginetest.Runtime) {
	t.Helper()
	params, err := engine.Marshal(Parameters{Name: "Meme", Symbol: "MEME", Decimals: 18})
	require.NoError(t, err)
	app, err := New(engine.ModuleEnv{
		ApplicationID:  tokenApp,
		CreatorChainID: homeChain,
		ChainID:        chain,
		Parameters:     params,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	rt := enginetest.NewRuntime(chain, tokenApp)
	rt.Creators[tokenApp] = homeChain
	return app.(*Application), rt
}

func instantiate(t *testing.T, app *Application, rt *enginetest.Runtime, balances map[engine.Account]engine.Amount) {
	t.Helper()
	arg, err := engine.Marshal(InstantiationArgument{InitialBalances: balances})
	require.NoError(t, err)
	require.NoError(t, app.Instantiate(context.Background(), rt, arg))
}

func execute(t *testing.T, app *Application, rt *enginetest.Runtime, op Operation) (Response, error) {
	t.Helper()
	raw, err := engine.Marshal(op)
	require.NoError(t, err)
	out, err := app.ExecuteOperation(context.Background(), rt, raw)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	require.NoError(t, engine.Unmarshal(out, &resp))
	return resp, nil
}

func TestTransferToCaller(t *testing.T) {
	app, rt := newTestToken(t, homeChain)
	instantiate(t, app, rt, map[engine.Account]engine.Amount{alice: engine.AmountFromTokens(100)})
	rt.Account = &alice
	rt.Caller = &poolApp

	resp, err := execute(t, app, rt, NewTransferToCaller(engine.AmountFromTokens(40)))
	require.NoError(t, err)
	assert.True(t, resp.Ok)

	poolAccount := engine.Account{ChainID: homeChain, Owner: engine.ApplicationOwner(poolApp)}
	assert.Equal(t, "60", app.state.balance(alice).String())
	assert.Equal(t, "40", app.state.balance(poolAccount).String())

	t.Run("insufficient balance fails without mutation", func(t *testing.T) {
		resp, err := execute(t, app, rt, NewTransferToCaller(engine.AmountFromTokens(61)))
		require.NoError(t, err)
		assert.False(t, resp.Ok)
		assert.Equal(t, ReasonInsufficientBalance, resp.Error)
		assert.Equal(t, "60", app.state.balance(alice).String())
		assert.Equal(t, "40", app.state.balance(poolAccount).String())
	})

	t.Run("requires a calling application", func(t *testing.T) {
		rt.Caller = nil
		defer func() { rt.Caller = &poolApp }()
		_, err := execute(t, app, rt, NewTransferToCaller(engine.AmountFromTokens(1)))
		var runtimeErr *engine.RuntimeError
		assert.ErrorAs(t, err, &runtimeErr)
	})

	t.Run("pays out from the caller account", func(t *testing.T) {
		resp, err := execute(t, app, rt, NewTransferFromApplication(bob, engine.AmountFromTokens(15)))
		require.NoError(t, err)
		assert.True(t, resp.Ok)
		assert.Equal(t, "25", app.state.balance(poolAccount).String())
		assert.Equal(t, "15", app.state.balance(bob).String())
		assert.Equal(t, "100", app.state.TotalSupply.String(), "moves never change supply")
	})
}

func TestTransferOffHomeChainForwards(t *testing.T) {
	app, rt := newTestToken(t, otherChain)
	rt.Account = &alice

	resp, err := execute(t, app, rt, NewTransfer(bob, engine.AmountFromTokens(1)))
	require.NoError(t, err)
	assert.True(t, resp.Ok)
	require.Len(t, rt.Sent, 1)
	assert.Equal(t, homeChain, rt.Sent[0].Destination)

	var msg Message
	require.NoError(t, engine.Unmarshal(rt.Sent[0].Payload, &msg))
	require.NotNil(t, msg.Transfer)
	assert.Equal(t, alice, msg.Transfer.From)

	_, err = execute(t, app, rt, NewTransferToCaller(engine.AmountFromTokens(1)))
	assert.ErrorIs(t, err, ErrNotHomeChain)
}

func TestTransferMessageRequiresSigner(t *testing.T) {
	app, rt := newTestToken(t, homeChain)
	instantiate(t, app, rt, map[engine.Account]engine.Amount{alice: engine.AmountFromTokens(5)})

	raw, err := engine.Marshal(Message{Kind: MessageTransfer, Transfer: &TransferMessage{From: alice, To: bob, Amount: engine.AmountFromTokens(1)}})
	require.NoError(t, err)

	rt.Account = &bob
	err = app.ExecuteMessage(context.Background(), rt, raw)
	assert.ErrorIs(t, err, engine.ErrPermissionDenied)

	rt.Account = &alice
	require.NoError(t, app.ExecuteMessage(context.Background(), rt, raw))
	assert.Equal(t, "4", app.state.balance(alice).String())
}

func TestMismatchedVariant(t *testing.T) {
	app, rt := newTestToken(t, homeChain)
	_, err := execute(t, app, rt, Operation{Kind: OperationTransfer})
	assert.ErrorIs(t, err, engine.ErrMismatchedVariant)
}

func TestSaveLoad(t *testing.T) {
	app, rt := newTestToken(t, homeChain)
	instantiate(t, app, rt, map[engine.Account]engine.Amount{alice: engine.AmountFromTokens(3)})

	data, err := app.Save()
	require.NoError(t, err)

	restored, _ := newTestToken(t, homeChain)
	require.NoError(t, restored.Load(data))
	assert.Equal(t, "3", restored.state.balance(alice).String())

	q, err := engine.Marshal(Query{Kind: QueryBalance, Account: &alice})
	require.NoError(t, err)
	raw, err := restored.HandleQuery(context.Background(), q)
	require.NoError(t, err)
	var resp QueryResponse
	require.NoError(t, engine.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Balance)
	assert.Equal(t, "3", resp.Balance.String())
}

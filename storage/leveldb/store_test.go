package leveldb

import (
	"context"
	stdjson "encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	chainA = engine.NewChainID("a")
	chainB = engine.NewChainID("b")
)

func TestStoreRecords(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer s.Close()

	t.Run("missing chain", func(t *testing.T) {
		_, ok, err := s.LoadChain(ctx, chainA)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("chain round trip", func(t *testing.T) {
		owner := engine.NewOwner("alice")
		app := engine.NewApplicationID(chainA, "token", 0)
		rec := microchain.ChainRecord{
			ChainID:      chainA,
			Height:       7,
			Nonce:        1,
			Balances:     map[engine.Owner]engine.Amount{owner: engine.AmountFromTokens(3)},
			Applications: map[engine.ApplicationID]stdjson.RawMessage{app: stdjson.RawMessage(`{"totalSupply":"1"}`)},
			Inbox:        []microchain.Envelope{{Kind: microchain.EnvelopeCredit, Source: chainB, Destination: chainA, Owner: owner, Amount: engine.AmountFromAttos(5)}},
		}
		require.NoError(t, s.SaveChain(ctx, rec))
		require.NoError(t, s.SaveChain(ctx, microchain.ChainRecord{ChainID: chainB}))

		got, ok, err := s.LoadChain(ctx, chainA)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(7), got.Height)
		assert.True(t, got.Balances[owner].Eq(engine.AmountFromTokens(3)))
		assert.JSONEq(t, `{"totalSupply":"1"}`, string(got.Applications[app]))
		require.Len(t, got.Inbox, 1)
		assert.True(t, got.Inbox[0].Amount.Eq(engine.AmountFromAttos(5)))

		ids, err := s.ChainIDs(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []engine.ChainID{chainA, chainB}, ids)
	})

	t.Run("blocks are iterated in height order per chain", func(t *testing.T) {
		for h := uint64(1); h <= 300; h++ {
			require.NoError(t, s.SaveBlock(ctx, chainA, engine.BlockSummary{Height: h}))
		}
		require.NoError(t, s.SaveBlock(ctx, chainB, engine.BlockSummary{Height: 1}))

		blocks, err := s.Blocks(ctx, chainA, 255, 3)
		require.NoError(t, err)
		require.Len(t, blocks, 3)
		assert.Equal(t, []uint64{255, 256, 257}, []uint64{blocks[0].Height, blocks[1].Height, blocks[2].Height})

		all, err := s.Blocks(ctx, chainA, 0, 0)
		require.NoError(t, err)
		assert.Len(t, all, 300)
	})

	t.Run("applications", func(t *testing.T) {
		d := microchain.ApplicationDescriptor{ID: engine.NewApplicationID(chainA, "token", 0), Module: "token", CreatorChainID: chainA}
		require.NoError(t, s.SaveApplication(ctx, d))
		descs, err := s.Applications(ctx)
		require.NoError(t, err)
		require.Len(t, descs, 1)
		assert.Equal(t, d.ID, descs[0].ID)
		assert.Equal(t, chainA, descs[0].CreatorChainID)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	assert.EqualError(t, err, "config: path is required")
}

func startNetwork(t *testing.T, store microchain.Store, genesis bool) (*microchain.Network, context.Context, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	net, err := microchain.NewNetwork(microchain.Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registerer: prometheus.NewRegistry(),
		Store:      store,
	})
	require.NoError(t, err)
	require.NoError(t, net.RegisterModule(token.ModuleName, token.New))
	if genesis {
		require.NoError(t, net.AddChain(chainA, nil))
		require.NoError(t, net.AddChain(chainB, nil))
	}
	require.NoError(t, net.Start(ctx))
	return net, ctx, func() {
		cancel()
		net.Wait()
	}
}

func TestNetworkRestartsFromStore(t *testing.T) {
	store, err := OpenMemory()
	require.NoError(t, err)
	defer store.Close()

	alice := engine.Account{ChainID: chainA, Owner: engine.NewOwner("alice")}
	bob := engine.Account{ChainID: chainB, Owner: engine.NewOwner("bob")}
	balance := func(net *microchain.Network, ctx context.Context, app engine.ApplicationID, acc engine.Account) engine.Amount {
		q, err := engine.Marshal(token.Query{Kind: token.QueryBalance, Account: &acc})
		require.NoError(t, err)
		raw, err := net.Query(ctx, chainA, app, q)
		require.NoError(t, err)
		var resp token.QueryResponse
		require.NoError(t, engine.Unmarshal(raw, &resp))
		return *resp.Balance
	}

	net, ctx, stop := startNetwork(t, store, true)
	params, _ := engine.Marshal(token.Parameters{Symbol: "MEME"})
	arg, _ := engine.Marshal(token.InstantiationArgument{InitialBalances: map[engine.Account]engine.Amount{alice: engine.AmountFromTokens(10)}})
	app, err := net.CreateApplication(ctx, chainA, nil, token.ModuleName, params, arg)
	require.NoError(t, err)
	op, _ := engine.Marshal(token.NewTransfer(bob, engine.AmountFromTokens(4)))
	_, err = net.Execute(ctx, chainA, app, alice, op)
	require.NoError(t, err)
	waitCtx, cancelWait := context.WithTimeout(ctx, 5*time.Second)
	require.NoError(t, net.WaitIdle(waitCtx))
	cancelWait()
	before, ok := net.Latest(chainA)
	require.True(t, ok)
	stop()

	net, ctx, stop = startNetwork(t, store, false)
	defer stop()
	assert.Len(t, net.Chains(), 2)
	desc, ok := net.Application(app)
	require.True(t, ok)
	assert.Equal(t, token.ModuleName, desc.Module)
	assert.True(t, balance(net, ctx, app, alice).Eq(engine.AmountFromTokens(6)))
	assert.True(t, balance(net, ctx, app, bob).Eq(engine.AmountFromTokens(4)))

	blocks, err := store.Blocks(ctx, chainA, 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, blocks)
	assert.Equal(t, before.Block.Height, blocks[len(blocks)-1].Height)
	assert.Equal(t, before.Block.Hash, blocks[len(blocks)-1].Hash)

	// Height continues from the restored record.
	_, err = net.Execute(ctx, chainA, app, alice, op)
	require.NoError(t, err)
	waitCtx, cancelWait = context.WithTimeout(ctx, 5*time.Second)
	defer cancelWait()
	require.NoError(t, net.WaitIdle(waitCtx))
	after, ok := net.Latest(chainA)
	require.True(t, ok)
	assert.Equal(t, before.Block.Height+1, after.Block.Height)
}

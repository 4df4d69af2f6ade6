package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/defistate/microswap/differ"
	"github.com/defistate/microswap/engine"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testChain = engine.NewChainID("stream")
	testApp   = engine.NewApplicationID(testChain, "mock", 1)
	schema    = engine.ApplicationSchema("mock/map@v1")
)

// --- Mock RPC server ---

type mockStreamer struct {
	events chan *SubscriptionEvent
	t      *testing.T
}

func setupMockStreamer(ctx context.Context, t *testing.T, port int, events []*SubscriptionEvent) {
	eventChan := make(chan *SubscriptionEvent, len(events))
	for _, e := range events {
		eventChan <- e
	}
	close(eventChan)

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(RpcNamespace, &mockStreamer{events: eventChan, t: t}))

	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: server.WebsocketHandler([]string{"*"})}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("mock server: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		server.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
}

func (api *mockStreamer) SubscribeChainState(ctx context.Context, chain engine.ChainID) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}
	if chain != testChain {
		return nil, fmt.Errorf("unknown chain %s", chain)
	}

	rpcSub := notifier.CreateSubscription()
	go func() {
		for event := range api.events {
			select {
			case <-rpcSub.Err():
				return
			default:
				if err := notifier.Notify(rpcSub.ID, event); err != nil {
					api.t.Logf("notify: %v", err)
					return
				}
			}
		}
	}()
	return rpcSub, nil
}

// --- Helpers ---

var mockDecoder = func(schema engine.ApplicationSchema, data json.RawMessage) (any, error) {
	var m map[string]any
	if len(data) == 0 {
		return m, nil
	}
	err := json.Unmarshal(data, &m)
	return m, err
}

var noopStatePatcher = func(prev *engine.State, diff *differ.StateDiff) (*engine.State, error) {
	return &engine.State{
		ChainID:      prev.ChainID,
		Block:        diff.ToBlock,
		Applications: prev.Applications,
	}, nil
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	data, err := engine.Marshal(v)
	require.NoError(t, err)
	return data
}

func fullEvent(t *testing.T, height uint64, reserve int) *SubscriptionEvent {
	return &SubscriptionEvent{Type: EventFull, Payload: mustMarshal(t, engine.State{
		ChainID: testChain,
		Block:   engine.BlockSummary{Height: height, ReceivedAt: time.Now().UnixNano()},
		Applications: map[engine.ApplicationID]engine.ApplicationState{
			testApp: {
				Meta:   engine.ApplicationMeta{Name: "pool"},
				Schema: schema,
				Data:   map[string]any{"reserve": reserve},
			},
		},
	})}
}

func diffEvent(t *testing.T, from, to uint64, reserve int) *SubscriptionEvent {
	return &SubscriptionEvent{Type: EventDiff, Payload: mustMarshal(t, differ.StateDiff{
		ChainID:   testChain,
		FromBlock: from,
		ToBlock:   engine.BlockSummary{Height: to, ReceivedAt: time.Now().UnixNano()},
		Applications: map[engine.ApplicationID]differ.ApplicationDiff{
			testApp: {Schema: schema, Data: map[string]any{"reserve": reserve}},
		},
	})}
}

func newTestClient(ctx context.Context, t *testing.T, port int, patcher StatePatcherFunc) *Client {
	t.Helper()
	c, err := NewClient(ctx, Config{
		URL:              fmt.Sprintf("ws://localhost:%d", port),
		ChainID:          testChain,
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		BufferSize:       10,
		StatePatcher:     patcher,
		StateDecoder:     mockDecoder,
		StateDiffDecoder: mockDecoder,
	})
	require.NoError(t, err)
	return c
}

func nextState(t *testing.T, ch <-chan *engine.State, timeout time.Duration) *engine.State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(timeout):
		t.Fatal("timed out waiting for state")
		return nil
	}
}

// --- Client tests ---

func TestClient_FullThenDiff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	setupMockStreamer(ctx, t, 9987, []*SubscriptionEvent{fullEvent(t, 100, 1000), diffEvent(t, 100, 101, 1234)})

	patched := false
	client := newTestClient(ctx, t, 9987, func(prev *engine.State, diff *differ.StateDiff) (*engine.State, error) {
		patched = true
		assert.Equal(t, uint64(100), prev.Block.Height)
		assert.Equal(t, uint64(101), diff.ToBlock.Height)
		appDiff, ok := diff.Applications[testApp]
		require.True(t, ok)
		assert.Equal(t, float64(1234), appDiff.Data.(map[string]any)["reserve"])
		return noopStatePatcher(prev, diff)
	})

	first := nextState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(100), first.Block.Height)
	assert.Equal(t, testChain, first.ChainID)
	assert.Equal(t, float64(1000), first.Applications[testApp].Data.(map[string]any)["reserve"])

	second := nextState(t, client.State(), 2*time.Second)
	assert.Equal(t, uint64(101), second.Block.Height)
	assert.True(t, patched)
}

func TestClient_Reconnection(t *testing.T) {
	const port = 9990
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	client := newTestClient(clientCtx, t, port, noopStatePatcher)

	server1Ctx, server1Cancel := context.WithCancel(clientCtx)
	setupMockStreamer(server1Ctx, t, port, []*SubscriptionEvent{fullEvent(t, 1, 1)})
	assert.Equal(t, uint64(1), nextState(t, client.State(), 3*time.Second).Block.Height)

	server1Cancel()
	time.Sleep(100 * time.Millisecond)

	server2Ctx, server2Cancel := context.WithCancel(clientCtx)
	defer server2Cancel()
	setupMockStreamer(server2Ctx, t, port, []*SubscriptionEvent{fullEvent(t, 2, 2)})
	assert.Equal(t, uint64(2), nextState(t, client.State(), 5*time.Second).Block.Height)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewClient(context.Background(), Config{URL: "ws://localhost:1", BufferSize: 1})
	require.ErrorContains(t, err, "ChainID")
}

// --- StreamProcessor tests ---

func newProcessor() *StreamProcessor {
	return NewStreamProcessor(slog.New(slog.NewTextHandler(io.Discard, nil)), 10, noopStatePatcher, mockDecoder, mockDecoder)
}

func process(t *testing.T, sp *StreamProcessor, event *SubscriptionEvent) error {
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return sp.ProcessMessage(raw)
}

func TestStreamProcessor_FullAndDiffFlow(t *testing.T) {
	sp := newProcessor()

	require.NoError(t, process(t, sp, fullEvent(t, 100, 1)))
	assert.Equal(t, uint64(100), nextState(t, sp.State(), time.Second).Block.Height)

	require.NoError(t, process(t, sp, diffEvent(t, 100, 101, 2)))
	assert.Equal(t, uint64(101), nextState(t, sp.State(), time.Second).Block.Height)
}

func TestStreamProcessor_ValidationErrors(t *testing.T) {
	sp := newProcessor()

	err := process(t, sp, diffEvent(t, 100, 101, 2))
	require.ErrorContains(t, err, "received diff before full state")

	require.Error(t, sp.ProcessMessage([]byte(`{not-json}`)))
	require.Error(t, process(t, sp, &SubscriptionEvent{Type: "partial"}))
	require.Error(t, process(t, sp, &SubscriptionEvent{Type: EventFull, Payload: json.RawMessage(`{"block":{"height":"x"}}`)}))
}

func TestStreamProcessor_OutOfOrderDiff(t *testing.T) {
	noState := func(t *testing.T, sp *StreamProcessor) {
		t.Helper()
		select {
		case <-sp.State():
			t.Fatal("out-of-order diff must not emit a state")
		default:
		}
	}

	t.Run("stale diff is dropped", func(t *testing.T) {
		sp := newProcessor()
		require.NoError(t, process(t, sp, fullEvent(t, 100, 1)))
		<-sp.State()

		require.NoError(t, process(t, sp, diffEvent(t, 99, 100, 1)))
		noState(t, sp)
		require.NoError(t, process(t, sp, diffEvent(t, 100, 101, 2)), "the stream continues")
		assert.Equal(t, uint64(101), nextState(t, sp.State(), time.Second).Block.Height)
	})

	t.Run("gap forces a resync", func(t *testing.T) {
		sp := newProcessor()
		require.NoError(t, process(t, sp, fullEvent(t, 100, 1)))
		<-sp.State()

		err := process(t, sp, diffEvent(t, 105, 106, 1))
		require.ErrorIs(t, err, ErrOutOfSync)
		noState(t, sp)

		err = process(t, sp, diffEvent(t, 106, 107, 1))
		require.ErrorContains(t, err, "received diff before full state")
		require.NoError(t, process(t, sp, fullEvent(t, 107, 1)))
		assert.Equal(t, uint64(107), nextState(t, sp.State(), time.Second).Block.Height)
	})
}

func TestStreamProcessor_RejectsOtherChain(t *testing.T) {
	sp := newProcessor()
	sp.chain = engine.NewChainID("other")
	err := process(t, sp, fullEvent(t, 1, 1))
	require.ErrorContains(t, err, "subscribed to")

	sp.chain = testChain
	require.NoError(t, process(t, sp, fullEvent(t, 1, 1)))
}

func TestStreamProcessor_DeliveryHonorsContext(t *testing.T) {
	sp := NewStreamProcessor(slog.New(slog.NewTextHandler(io.Discard, nil)), 1, noopStatePatcher, mockDecoder, mockDecoder)
	require.NoError(t, process(t, sp, fullEvent(t, 1, 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	raw, err := json.Marshal(fullEvent(t, 2, 1))
	require.NoError(t, err)
	assert.ErrorIs(t, sp.process(ctx, raw), context.Canceled, "the channel is full and ctx is done")
}

func TestStreamProcessor_ErroredApplicationSkipsDecode(t *testing.T) {
	sp := NewStreamProcessor(slog.New(slog.NewTextHandler(io.Discard, nil)), 1, noopStatePatcher,
		func(engine.ApplicationSchema, json.RawMessage) (any, error) {
			return nil, fmt.Errorf("must not decode")
		},
		mockDecoder)

	event := &SubscriptionEvent{Type: EventFull, Payload: mustMarshal(t, engine.State{
		ChainID: testChain,
		Applications: map[engine.ApplicationID]engine.ApplicationState{
			testApp: {Schema: schema, Error: "view panicked"},
		},
	})}
	require.NoError(t, process(t, sp, event))
	state := nextState(t, sp.State(), time.Second)
	assert.Equal(t, "view panicked", state.Applications[testApp].Error)
}

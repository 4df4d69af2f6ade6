package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/microswap/differ"
	"github.com/defistate/microswap/engine"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the streamer is registered.
	RpcNamespace                  = "swap"
	StateStreamSubscriptionMethod = "subscribeChainState"

	EventFull = "full"
	EventDiff = "diff"
)

// ErrOutOfSync is returned when a diff does not continue the last known
// block. The client resubscribes to receive a fresh full state.
var ErrOutOfSync = errors.New("state stream out of sync")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StatePatcherFunc defines the function signature for a method that safely applies
// a diff to a previous state.
type StatePatcherFunc func(prevState *engine.State, diff *differ.StateDiff) (newState *engine.State, err error)

type DecoderFunc func(schema engine.ApplicationSchema, data json.RawMessage) (any, error)

// Config holds the configuration for the client.
type Config struct {
	URL              string
	ChainID          engine.ChainID
	Logger           Logger
	BufferSize       uint
	StatePatcher     StatePatcherFunc
	StateDecoder     DecoderFunc
	StateDiffDecoder DecoderFunc
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.ChainID.IsZero() {
		return errors.New("config: ChainID is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.StatePatcher == nil {
		return errors.New("config: StatePatcher is required")
	}
	if c.StateDecoder == nil {
		return errors.New("config: StateDecoder is required")
	}
	if c.StateDiffDecoder == nil {
		return errors.New("config: StateDiffDecoder is required")
	}
	return nil
}

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor handles the business logic of parsing events, maintaining
// the latest state, applying diffs, and broadcasting updates.
// It is decoupled from the networking layer.
type StreamProcessor struct {
	// chain, when set, is the only chain accepted on the stream.
	chain            engine.ChainID
	lastState        *engine.State
	statePatcher     StatePatcherFunc
	stateDecoder     DecoderFunc
	stateDiffDecoder DecoderFunc
	stateCh          chan *engine.State
	logger           Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(
	logger Logger,
	bufferSize uint,
	statePatcher StatePatcherFunc,
	stateDecoder DecoderFunc,
	stateDiffDecoder DecoderFunc,
) *StreamProcessor {
	return &StreamProcessor{
		logger:           logger,
		stateCh:          make(chan *engine.State, bufferSize),
		statePatcher:     statePatcher,
		stateDecoder:     stateDecoder,
		stateDiffDecoder: stateDiffDecoder,
	}
}

// State returns a read-only channel for receiving new states.
func (sp *StreamProcessor) State() <-chan *engine.State {
	return sp.stateCh
}

// ProcessMessage accepts a raw JSON message (from WS, File, or JS), processes it,
// and updates the internal state. It blocks until the state channel has room.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	return sp.process(context.Background(), rawData)
}

func (sp *StreamProcessor) process(ctx context.Context, rawData json.RawMessage) error {
	processingStart := time.Now()
	var event SubscriptionEvent

	if err := engine.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case EventFull:
		return sp.handleFullState(ctx, event, processingStart)
	case EventDiff:
		return sp.handleDiff(ctx, event, processingStart)
	default:
		return fmt.Errorf("unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleFullState(ctx context.Context, event SubscriptionEvent, start time.Time) error {
	var cState clientState
	if err := engine.Unmarshal(event.Payload, &cState); err != nil {
		return fmt.Errorf("failed to unmarshal full state payload: %w", err)
	}
	if err := sp.checkChain(cState.ChainID); err != nil {
		return err
	}

	state := engine.State{
		ChainID:      cState.ChainID,
		Timestamp:    cState.Timestamp,
		Block:        cState.Block,
		Applications: make(map[engine.ApplicationID]engine.ApplicationState, len(cState.Applications)),
	}

	for id, app := range cState.Applications {
		var typedData any
		if app.Error == "" {
			var err error
			typedData, err = sp.stateDecoder(app.Schema, app.Data)
			if err != nil {
				return fmt.Errorf("failed to decode state for application %s: %w", id.Short(), err)
			}
		}

		state.Applications[id] = engine.ApplicationState{
			Meta:   app.Meta,
			Schema: app.Schema,
			Data:   typedData,
			Error:  app.Error,
		}
	}

	processingDur := time.Since(start)
	sp.logMetrics(&state, processingDur, event.SentAt, "full")

	sp.storeState(&state)
	return sp.deliver(ctx, &state)
}

func (sp *StreamProcessor) handleDiff(ctx context.Context, event SubscriptionEvent, start time.Time) error {
	var cDiff clientStateDiff
	if err := engine.Unmarshal(event.Payload, &cDiff); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}
	if err := sp.checkChain(cDiff.ChainID); err != nil {
		return err
	}

	if sp.lastState == nil {
		return fmt.Errorf("received diff before full state; from_block: %d, to_block: %d", cDiff.FromBlock, cDiff.ToBlock.Height)
	}

	lastHeight := sp.lastState.Block.Height
	switch {
	case cDiff.ToBlock.Height <= lastHeight:
		sp.logger.Debug("Dropping stale diff", "last_known_block", lastHeight, "diff_to_block", cDiff.ToBlock.Height)
		return nil
	case cDiff.FromBlock != lastHeight:
		sp.logger.Warn(
			"Received diff that skips blocks; resynchronizing.",
			"last_known_block", lastHeight,
			"diff_from_block", cDiff.FromBlock,
			"diff_to_block", cDiff.ToBlock.Height,
		)
		sp.lastState = nil
		return fmt.Errorf("%w: have block %d, diff starts at %d", ErrOutOfSync, lastHeight, cDiff.FromBlock)
	}

	diff := differ.StateDiff{
		ChainID:      cDiff.ChainID,
		FromBlock:    cDiff.FromBlock,
		ToBlock:      cDiff.ToBlock,
		Timestamp:    cDiff.Timestamp,
		Applications: make(map[engine.ApplicationID]differ.ApplicationDiff, len(cDiff.Applications)),
	}

	for id, appDiff := range cDiff.Applications {
		typedData, err := sp.stateDiffDecoder(appDiff.Schema, appDiff.Data)
		if err != nil {
			return fmt.Errorf("failed to decode diff data for application %s: %w", id.Short(), err)
		}

		diff.Applications[id] = differ.ApplicationDiff{
			Meta:   appDiff.Meta,
			Schema: appDiff.Schema,
			Data:   typedData,
			Error:  appDiff.Error,
		}
	}

	newState, err := sp.statePatcher(sp.lastState, &diff)
	if err != nil {
		return fmt.Errorf("failed to patch state: %w", err)
	}

	newState.Timestamp = diff.Timestamp

	processingDur := time.Since(start)
	sp.logMetrics(newState, processingDur, event.SentAt, "diff")

	sp.storeState(newState)
	return sp.deliver(ctx, newState)
}

func (sp *StreamProcessor) checkChain(chain engine.ChainID) error {
	if !sp.chain.IsZero() && chain != sp.chain {
		return fmt.Errorf("stream sent chain %s, subscribed to %s", chain.Short(), sp.chain.Short())
	}
	return nil
}

func (sp *StreamProcessor) storeState(state *engine.State) {
	sp.lastState = state
}

func (sp *StreamProcessor) deliver(ctx context.Context, state *engine.State) error {
	select {
	case sp.stateCh <- state:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sp *StreamProcessor) logMetrics(state *engine.State, processingDur time.Duration, sentAt int64, stateType string) {
	if state == nil {
		return
	}

	clientFinishTime := time.Now()
	blockTimestamp := state.Block.Timestamp.Time()
	clientStartTime := clientFinishTime.Add(-processingDur)
	serverFinishTime := time.Unix(0, sentAt)

	transportTime := clientStartTime.Sub(serverFinishTime)
	totalLatency := clientFinishTime.Sub(blockTimestamp)
	serverProcessingMs := serverFinishTime.Sub(time.Unix(0, state.Block.ReceivedAt)).Milliseconds()

	errorCount := 0
	for _, app := range state.Applications {
		if app.Error != "" {
			errorCount++
		}
	}

	sp.logger.Debug("State Processed",
		"chain", state.ChainID.Short(),
		"height", state.Block.Height,
		"type", stateType,
		"applications", len(state.Applications),
		"errors", errorCount,
		"latency_total_ms", totalLatency.Milliseconds(),
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
		"latency_server_ms", serverProcessingMs,
	)
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	processor := NewStreamProcessor(
		cfg.Logger,
		cfg.BufferSize,
		cfg.StatePatcher,
		cfg.StateDecoder,
		cfg.StateDiffDecoder,
	)
	processor.chain = cfg.ChainID

	client := &Client{
		processor: processor,
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL, cfg.ChainID)
	return client, nil
}

// State delegates to the processor's state channel.
func (c *Client) State() <-chan *engine.State {
	return c.processor.State()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string, chain engine.ChainID) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient, chain)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			c.logger.Info("Context canceled, shutting down.")
			return
		case errors.Is(err, ErrOutOfSync):
			c.logger.Warn("Resubscribing for a full state", "error", err)
		default:
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client, chain engine.ChainID) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, StateStreamSubscriptionMethod, chain)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			err := c.processor.process(ctx, rawData)
			switch {
			case err == nil:
			case errors.Is(err, ErrOutOfSync), ctx.Err() != nil:
				return err
			default:
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

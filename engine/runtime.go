package engine

import (
	"context"
	"encoding/json"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Runtime is the chain context handed to an application for one execution.
// All capabilities act on the executing chain only; nothing blocks on a remote chain.
type Runtime interface {
	ChainID() ChainID
	ApplicationID() ApplicationID
	// CreatorChainID returns the chain that created app; that chain is the app's home.
	CreatorChainID(app ApplicationID) (ChainID, error)
	// AuthenticatedAccount is the signer of the operation, carried along message chains.
	AuthenticatedAccount() (Account, bool)
	// AuthenticatedCaller is set when the execution is a call from another application.
	AuthenticatedCaller() (ApplicationID, bool)
	// MessageOriginChainID is set when executing an incoming message.
	MessageOriginChainID() (ChainID, bool)
	SystemTime() Timestamp

	// CallApplication synchronously executes an operation of another application on this chain.
	CallApplication(ctx context.Context, app ApplicationID, operation []byte) ([]byte, error)
	// SendMessage queues a message for the same application on destination.
	SendMessage(ctx context.Context, destination ChainID, message []byte) error
	// TransferNative moves native tokens held by from on this chain to an account on any chain.
	TransferNative(ctx context.Context, from Owner, to Account, amount Amount) error
	NativeBalance(owner Owner) Amount
	// CreateApplication instantiates module on this chain and returns its id.
	CreateApplication(ctx context.Context, module string, parameters, argument []byte) (ApplicationID, error)
}

// Application is the contract every protocol application implements for the host.
type Application interface {
	Instantiate(ctx context.Context, rt Runtime, argument []byte) error
	ExecuteOperation(ctx context.Context, rt Runtime, operation []byte) ([]byte, error)
	ExecuteMessage(ctx context.Context, rt Runtime, message []byte) error
	// HandleQuery answers a read-only request. It must not mutate state.
	HandleQuery(ctx context.Context, query []byte) ([]byte, error)
	// View returns the streaming snapshot of the application on this chain.
	View() ApplicationState
	Save() ([]byte, error)
	Load(data []byte) error
}

// ModuleEnv carries what the host knows about an application instance.
type ModuleEnv struct {
	ApplicationID  ApplicationID
	CreatorChainID ChainID
	ChainID        ChainID
	Parameters     json.RawMessage
	Logger         Logger
	Metrics        *Metrics
}

// Module constructs an application instance on one chain.
type Module func(env ModuleEnv) (Application, error)

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Variant is a tagged union value. Tag names the active case.
type Variant interface {
	Tag() string
}

// Handler runs one unit of business logic for one operation or message.
type Handler[M, R any] interface {
	Handle(ctx context.Context) (*Outcome[M, R], error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[M, R any] func(ctx context.Context) (*Outcome[M, R], error)

func (f HandlerFunc[M, R]) Handle(ctx context.Context) (*Outcome[M, R], error) { return f(ctx) }

// HandlerFactory selects the handler for a variant.
type HandlerFactory[O, M Variant, R any] interface {
	OperationHandler(op O) (Handler[M, R], error)
	MessageHandler(msg M) (Handler[M, R], error)
}

// SendFunc delivers one outbound message.
type SendFunc[M any] func(ctx context.Context, destination ChainID, message M) error

// Dispatcher routes exactly one operation or message to its handler and drains
// the resulting outcome.
type Dispatcher[O, M Variant, R any] struct {
	application string
	factory     HandlerFactory[O, M, R]
	metrics     *Metrics
	logger      Logger
}

func NewDispatcher[O, M Variant, R any](
	application string,
	factory HandlerFactory[O, M, R],
	metrics *Metrics,
	logger Logger,
) *Dispatcher[O, M, R] {
	return &Dispatcher[O, M, R]{
		application: application,
		factory:     factory,
		metrics:     metrics,
		logger:      logger,
	}
}

// Dispatch runs the handler for op or msg. Exactly one of them must be non-nil.
// Outcome messages are handed to send in order only after the handler succeeded.
// A nil outcome produces the zero response and no messages.
func (d *Dispatcher[O, M, R]) Dispatch(ctx context.Context, op *O, msg *M, send SendFunc[M]) (R, error) {
	var zero R
	if (op == nil) == (msg == nil) {
		return zero, ErrInvalidOperationAndMessage
	}

	var (
		handler Handler[M, R]
		kind    string
		err     error
	)
	if op != nil {
		kind = "operation/" + (*op).Tag()
		handler, err = d.factory.OperationHandler(*op)
	} else {
		kind = "message/" + (*msg).Tag()
		handler, err = d.factory.MessageHandler(*msg)
	}
	if err != nil {
		d.metrics.observeHandled(d.application, kind, err)
		return zero, err
	}

	start := time.Now()
	outcome, err := handler.Handle(ctx)
	d.metrics.observeDuration(d.application, kind, time.Since(start))
	d.metrics.observeHandled(d.application, kind, err)
	if err != nil {
		d.logger.Debug("Handler failed", "application", d.application, "kind", kind, "err", err)
		return zero, err
	}
	if outcome == nil {
		return zero, nil
	}

	for _, m := range outcome.Messages {
		if err := send(ctx, m.Destination, m.Message); err != nil {
			return zero, fmt.Errorf("send %s to %s: %w", m.Message.Tag(), m.Destination.Short(), err)
		}
		d.metrics.observeSent(d.application)
	}
	if outcome.Response == nil {
		return zero, nil
	}
	return *outcome.Response, nil
}

// resultLabel maps an error to a low-cardinality metric label.
func resultLabel(err error) string {
	var (
		runtimeErr *RuntimeError
		processErr *ProcessError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidOperationAndMessage), errors.Is(err, ErrMismatchedVariant):
		return "invalid_input"
	case errors.Is(err, ErrNotAllowed), errors.Is(err, ErrPermissionDenied):
		return "not_allowed"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrNotImplemented), errors.Is(err, ErrNotEnabled):
		return "not_supported"
	case errors.As(err, &runtimeErr):
		return "runtime"
	case errors.As(err, &processErr):
		return "process"
	default:
		return "error"
	}
}

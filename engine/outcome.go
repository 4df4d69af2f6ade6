package engine

// OutboundMessage is a message addressed to a destination chain.
type OutboundMessage[M any] struct {
	Destination ChainID
	Message     M
}

// Outcome is the result of one handler invocation: messages to send once the
// handler succeeds and an optional response for the caller.
type Outcome[M, R any] struct {
	Messages []OutboundMessage[M]
	Response *R
}

func NewOutcome[M, R any]() *Outcome[M, R] {
	return &Outcome[M, R]{}
}

func (o *Outcome[M, R]) WithMessage(destination ChainID, message M) *Outcome[M, R] {
	o.Messages = append(o.Messages, OutboundMessage[M]{Destination: destination, Message: message})
	return o
}

func (o *Outcome[M, R]) WithResponse(response R) *Outcome[M, R] {
	o.Response = &response
	return o
}

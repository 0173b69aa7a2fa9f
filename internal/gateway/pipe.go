package gateway

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by pipe operations after Close.
var ErrClosed = errors.New("gateway: connection closed")

// Pipe is an in-memory duplex connection between a host and a handler.
// The host drives one side (HostSend/HostReceive), the handler runs over
// the other (Receive/Send). Both directions are unbuffered so every
// delivery is a rendezvous: a send completes only once the peer has
// accepted the event.
type Pipe struct {
	toApp  chan Event
	toHost chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPipe returns a connected pipe. Close it when the connection is
// finished to release any blocked senders or receivers.
func NewPipe() *Pipe {
	return &Pipe{
		toApp:  make(chan Event),
		toHost: make(chan Event),
		closed: make(chan struct{}),
	}
}

// Close tears the connection down. Safe to call more than once.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Receive is the handler-side ReceiveFunc.
func (p *Pipe) Receive(ctx context.Context) (Event, error) {
	return recvFrom(ctx, p.toApp, p.closed)
}

// Send is the handler-side SendFunc.
func (p *Pipe) Send(ctx context.Context, ev Event) error {
	return sendTo(ctx, p.toHost, p.closed, ev)
}

// HostSend delivers an event to the handler side.
func (p *Pipe) HostSend(ctx context.Context, ev Event) error {
	return sendTo(ctx, p.toApp, p.closed, ev)
}

// HostReceive blocks for the handler's next outbound event.
func (p *Pipe) HostReceive(ctx context.Context) (Event, error) {
	return recvFrom(ctx, p.toHost, p.closed)
}

func recvFrom(ctx context.Context, ch <-chan Event, closed <-chan struct{}) (Event, error) {
	select {
	case <-closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev := <-ch:
		return ev, nil
	}
}

func sendTo(ctx context.Context, ch chan<- Event, closed <-chan struct{}, ev Event) error {
	select {
	case <-closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case ch <- ev:
		return nil
	}
}

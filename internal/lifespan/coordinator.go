// Package lifespan mediates the two-phase startup/shutdown handshake
// between a host process manager and an application.
//
// The app side is [Coordinator]: a per-connection receive loop that
// reacts to startup and shutdown events, optionally running user
// callbacks, and answers each inbound event with exactly one
// completion or failure event. The host side is [Host]: it drives a
// handler's lifespan connection over an in-memory pipe and exposes the
// result as a readiness probe.
package lifespan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/xerrors"
)

// Coordinator runs the application side of the lifespan exchange.
// One instance serves one connection; Run refuses reuse.
type Coordinator struct {
	onBegin gateway.Handler
	onEnd   gateway.Handler

	ackShutdown     bool
	callbackTimeout time.Duration
	onTransition    func(State)
	observeCallback func(phase string, seconds float64)
	log             log.Logger

	state   atomic.Int32
	started atomic.Bool
}

func New(opts ...Option) *Coordinator {
	c := &Coordinator{log: log.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the coordinator's current position in the exchange.
func (c *Coordinator) State() State { return State(c.state.Load()) }

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
	if c.onTransition != nil {
		c.onTransition(s)
	}
}

// Ready is a readiness probe: nil once startup has completed and the
// coordinator is still live, an error before startup and after any
// exit.
func (c *Coordinator) Ready() error {
	switch c.State() {
	case StateAwaitingShutdown:
		return nil
	case StateFailed:
		return xerrors.New("lifespan failed")
	case StateDone:
		return xerrors.New("lifespan finished")
	default:
		return xerrors.New("lifespan startup not complete")
	}
}

// Handler adapts the coordinator to the gateway.Handler shape.
func (c *Coordinator) Handler() gateway.Handler { return c.Run }

// Run serves the lifespan connection until the host signals shutdown, a
// callback fails, or an unrecognized event forces an exit. Every
// received event is answered with exactly one outbound event, with one
// exception: when no OnEnd callback is configured (and WithShutdownAck
// is not set) the shutdown branch exits without acknowledging, matching
// the behavior existing hosts were built against.
//
// A callback error is fatal to the loop: it is logged, reported to the
// host as the matching *.failed event, and returned.
func (c *Coordinator) Run(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
	if !c.started.CompareAndSwap(false, true) {
		return xerrors.New("lifespan coordinator already ran")
	}

	for {
		ev, err := receive(ctx)
		if err != nil {
			// The host side went away; nothing left to coordinate.
			c.setState(StateDone)
			return err
		}

		switch ev.(type) {
		case gateway.Startup:
			if c.onBegin != nil {
				c.log.Info(ctx, "lifespan startup")
				if err := c.invoke(ctx, "startup", c.onBegin, scope, receive, send); err != nil {
					c.log.Error(ctx, err, "lifespan startup failed")
					c.setState(StateFailed)
					if serr := send(ctx, gateway.StartupFailed{Message: err.Error()}); serr != nil {
						return serr
					}
					return err
				}
			}
			if err := send(ctx, gateway.StartupComplete{}); err != nil {
				return err
			}
			c.setState(StateAwaitingShutdown)

		case gateway.Shutdown:
			if c.onEnd != nil {
				c.log.Info(ctx, "lifespan shutdown")
				if err := c.invoke(ctx, "shutdown", c.onEnd, scope, receive, send); err != nil {
					c.log.Error(ctx, err, "lifespan shutdown failed")
					c.setState(StateFailed)
					if serr := send(ctx, gateway.ShutdownFailed{Message: err.Error()}); serr != nil {
						return serr
					}
					return err
				}
				if err := send(ctx, gateway.ShutdownComplete{}); err != nil {
					return err
				}
			} else if c.ackShutdown {
				if err := send(ctx, gateway.ShutdownComplete{}); err != nil {
					return err
				}
			}
			c.setState(StateDone)
			return nil

		default:
			err := xerrors.Newf("unsupported lifespan event %q", ev.Kind())
			c.log.Error(ctx, err, "lifespan event rejected")
			// Best-effort acknowledgment so a confused host is not left
			// waiting, then a forced non-error exit.
			_ = send(ctx, gateway.StartupComplete{})
			c.setState(StateDone)
			return nil
		}
	}
}

// invoke runs a callback with the configured deadline, converting a
// panic into an error so it fails the phase instead of the process.
func (c *Coordinator) invoke(ctx context.Context, phase string, h gateway.Handler, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) (err error) {
	if c.callbackTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callbackTimeout)
		defer cancel()
	}
	if c.observeCallback != nil {
		start := time.Now()
		defer func() { c.observeCallback(phase, time.Since(start).Seconds()) }()
	}
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Newf("lifespan callback panic: %v", r)
		}
	}()
	return h(ctx, scope, receive, send)
}

package lifespan

import (
	"time"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
)

type Option func(*Coordinator)

// WithOnBegin sets the callback invoked when the host signals startup.
// The startup acknowledgment is only sent after it returns nil.
func WithOnBegin(h gateway.Handler) Option {
	return func(c *Coordinator) { c.onBegin = h }
}

// WithOnEnd sets the callback invoked when the host signals shutdown.
func WithOnEnd(h gateway.Handler) Option {
	return func(c *Coordinator) { c.onEnd = h }
}

// WithShutdownAck makes the shutdown acknowledgment unconditional.
// Without it the coordinator keeps the legacy behavior: when no OnEnd
// callback is configured the loop exits without sending
// shutdown.complete, and hosts must tolerate the silent exit.
func WithShutdownAck() Option {
	return func(c *Coordinator) { c.ackShutdown = true }
}

// WithCallbackTimeout bounds each callback invocation with a deadline.
// The callback must honor its context for the bound to hold. Zero means
// no deadline.
func WithCallbackTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.callbackTimeout = d }
}

// WithLogger sets the coordinator's logger. Defaults to log.Nop().
func WithLogger(L log.Logger) Option {
	return func(c *Coordinator) { c.log = L }
}

// WithOnTransition sets a callback invoked on every state change, used
// for incrementing prometheus counters.
func WithOnTransition(fn func(State)) Option {
	return func(c *Coordinator) { c.onTransition = fn }
}

// WithCallbackObserver reports each callback invocation's phase
// ("startup" or "shutdown") and wall-clock duration in seconds, used to
// feed histograms.
func WithCallbackObserver(fn func(phase string, seconds float64)) Option {
	return func(c *Coordinator) { c.observeCallback = fn }
}

package lifespan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/xerrors"
)

// Host drives the host side of an application's lifespan connection.
// Start runs the handler in its own goroutine and performs the startup
// exchange; Stop performs the shutdown exchange and waits for the
// handler to exit. Stop tolerates handlers that exit without sending
// shutdown.complete.
type Host struct {
	app gateway.Handler
	log log.Logger

	pipe   *gateway.Pipe
	exited chan struct{}
	appErr error // written once before exited closes

	ready atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
}

type HostOption func(*Host)

// WithHostLogger sets the host's logger. Defaults to log.Nop().
func WithHostLogger(L log.Logger) HostOption {
	return func(h *Host) { h.log = L }
}

func NewHost(app gateway.Handler, opts ...HostOption) *Host {
	h := &Host{
		app:    app,
		log:    log.Nop(),
		pipe:   gateway.NewPipe(),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Ready is a readiness probe: nil between a completed startup and the
// beginning of shutdown.
func (h *Host) Ready() error {
	if h.ready.Load() {
		return nil
	}
	return xerrors.New("lifespan not ready")
}

// Start launches the handler and blocks until it acknowledges startup,
// reports a startup failure, exits, or ctx is done. Callers should pass
// a ctx with a deadline; a handler that hangs in its startup callback
// blocks Start until then.
func (h *Host) Start(ctx context.Context) error {
	err := xerrors.New("lifespan host already started")
	h.startOnce.Do(func() { err = h.start(ctx) })
	return err
}

func (h *Host) start(ctx context.Context) error {
	// The handler outlives Start's deadline; it runs until Stop.
	appCtx := context.WithoutCancel(ctx)
	go func() {
		h.appErr = h.app(appCtx, gateway.LifespanScope(), h.pipe.Receive, h.pipe.Send)
		h.pipe.Close()
		close(h.exited)
	}()

	if err := h.pipe.HostSend(ctx, gateway.Startup{}); err != nil {
		return h.startupError(ctx, err)
	}

	ev, err := h.pipe.HostReceive(ctx)
	if err != nil {
		return h.startupError(ctx, err)
	}

	switch ev := ev.(type) {
	case gateway.StartupComplete:
		h.ready.Store(true)
		h.log.Info(ctx, "lifespan startup complete")
		return nil
	case gateway.StartupFailed:
		return xerrors.Newf("lifespan startup failed: %s", ev.Message)
	default:
		return xerrors.Newf("unexpected lifespan reply %q during startup", ev.Kind())
	}
}

func (h *Host) startupError(ctx context.Context, err error) error {
	if errors.Is(err, gateway.ErrClosed) {
		// Handler exited before completing the exchange.
		if h.appErr != nil {
			return xerrors.Wrap(h.appErr, "lifespan ended before startup completed")
		}
		return xerrors.New("lifespan ended before startup completed")
	}
	return xerrors.Wrap(err, "lifespan startup")
}

// Stop signals shutdown and blocks until the handler acknowledges and
// exits, exits silently, or ctx is done. Safe to call after a failed
// Start.
func (h *Host) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() { err = h.stop(ctx) })
	return err
}

func (h *Host) stop(ctx context.Context) error {
	h.ready.Store(false)

	if err := h.pipe.HostSend(ctx, gateway.Shutdown{}); err != nil {
		if errors.Is(err, gateway.ErrClosed) {
			return h.waitExit(ctx)
		}
		return xerrors.Wrap(err, "lifespan shutdown")
	}

	for {
		ev, err := h.pipe.HostReceive(ctx)
		if err != nil {
			if errors.Is(err, gateway.ErrClosed) {
				// Silent exit: legal when the app has no shutdown callback.
				return h.waitExit(ctx)
			}
			return xerrors.Wrap(err, "lifespan shutdown")
		}
		switch ev := ev.(type) {
		case gateway.ShutdownComplete:
			h.log.Info(ctx, "lifespan shutdown complete")
			return h.waitExit(ctx)
		case gateway.ShutdownFailed:
			_ = h.waitExit(ctx)
			return xerrors.Newf("lifespan shutdown failed: %s", ev.Message)
		default:
			// Stray event during drain; keep waiting for the ack.
			h.log.Warn(ctx, "ignoring lifespan event during shutdown", "kind", ev.Kind())
		}
	}
}

func (h *Host) waitExit(ctx context.Context) error {
	select {
	case <-h.exited:
		return h.appErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

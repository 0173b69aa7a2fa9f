package lifespan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
)

// runScript feeds the coordinator a fixed sequence of inbound events and
// captures everything it sends. Once the script is exhausted, receive
// reports the connection as closed.
func runScript(t *testing.T, c *Coordinator, inbound ...gateway.Event) (sent []gateway.Event, runErr error) {
	t.Helper()

	i := 0
	receive := func(ctx context.Context) (gateway.Event, error) {
		if i >= len(inbound) {
			return nil, gateway.ErrClosed
		}
		ev := inbound[i]
		i++
		return ev, nil
	}
	send := func(ctx context.Context, ev gateway.Event) error {
		sent = append(sent, ev)
		return nil
	}

	runErr = c.Run(context.Background(), gateway.LifespanScope(), receive, send)
	return sent, runErr
}

func TestRun_StartupNoCallback_AcksAndContinues(t *testing.T) {
	c := New()

	sent, err := runScript(t, c, gateway.Startup{})

	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	if _, ok := sent[0].(gateway.StartupComplete); !ok {
		t.Fatalf("sent[0] type = %T, want StartupComplete", sent[0])
	}
	// The loop went back to receive; the scripted close is what ended it.
	if !errors.Is(err, gateway.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed from continued loop", err)
	}
}

func TestRun_StartupCallbackRunsBeforeAck(t *testing.T) {
	var order []string
	begin := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		order = append(order, "callback")
		return nil
	}
	c := New(WithOnBegin(begin))

	i := 0
	receive := func(ctx context.Context) (gateway.Event, error) {
		if i > 0 {
			return nil, gateway.ErrClosed
		}
		i++
		return gateway.Startup{}, nil
	}
	send := func(ctx context.Context, ev gateway.Event) error {
		order = append(order, ev.Kind())
		return nil
	}

	_ = c.Run(context.Background(), gateway.LifespanScope(), receive, send)

	want := []string{"callback", gateway.KindLifespanStartupComplete}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestRun_StartupCallbackError(t *testing.T) {
	begin := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		return errors.New("boom")
	}
	c := New(WithOnBegin(begin))

	sent, err := runScript(t, c, gateway.Startup{}, gateway.Shutdown{})

	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1 (no replies after failure)", len(sent))
	}
	failed, ok := sent[0].(gateway.StartupFailed)
	if !ok {
		t.Fatalf("sent[0] type = %T, want StartupFailed", sent[0])
	}
	if failed.Message != "boom" {
		t.Fatalf("message = %q, want %q", failed.Message, "boom")
	}
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Run err = %v, want the callback error", err)
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want StateFailed", c.State())
	}
}

func TestRun_ShutdownWithCallback_AcksInOrder(t *testing.T) {
	var order []string
	end := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		order = append(order, "callback")
		return nil
	}
	c := New(WithOnEnd(end))

	i := 0
	receive := func(ctx context.Context) (gateway.Event, error) {
		if i > 0 {
			t.Fatal("receive called after shutdown branch")
		}
		i++
		return gateway.Shutdown{}, nil
	}
	send := func(ctx context.Context, ev gateway.Event) error {
		order = append(order, ev.Kind())
		return nil
	}

	if err := c.Run(context.Background(), gateway.LifespanScope(), receive, send); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"callback", gateway.KindLifespanShutdownComplete}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("order = %v, want %v", order, want)
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want StateDone", c.State())
	}
}

// Regression test for the documented asymmetry: without a shutdown
// callback the loop exits without acknowledging.
func TestRun_ShutdownWithoutCallback_SilentExit(t *testing.T) {
	c := New()

	sent, err := runScript(t, c, gateway.Shutdown{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("sent %d events, want 0", len(sent))
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want StateDone", c.State())
	}
}

func TestRun_ShutdownAckOption_AcksWithoutCallback(t *testing.T) {
	c := New(WithShutdownAck())

	sent, err := runScript(t, c, gateway.Shutdown{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	if _, ok := sent[0].(gateway.ShutdownComplete); !ok {
		t.Fatalf("sent[0] type = %T, want ShutdownComplete", sent[0])
	}
}

func TestRun_ShutdownCallbackError(t *testing.T) {
	end := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		return errors.New("drain failed")
	}
	c := New(WithOnEnd(end))

	sent, err := runScript(t, c, gateway.Startup{}, gateway.Shutdown{})

	if len(sent) != 2 {
		t.Fatalf("sent %d events, want 2", len(sent))
	}
	failed, ok := sent[1].(gateway.ShutdownFailed)
	if !ok {
		t.Fatalf("sent[1] type = %T, want ShutdownFailed", sent[1])
	}
	if failed.Message != "drain failed" {
		t.Fatalf("message = %q", failed.Message)
	}
	if err == nil {
		t.Fatal("Run err = nil, want callback error")
	}
	if c.State() != StateFailed {
		t.Fatalf("state = %v, want StateFailed", c.State())
	}
}

func TestRun_FullExchange(t *testing.T) {
	var begun, ended bool
	c := New(
		WithOnBegin(func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
			begun = true
			return nil
		}),
		WithOnEnd(func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
			ended = true
			return nil
		}),
	)

	sent, err := runScript(t, c, gateway.Startup{}, gateway.Shutdown{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !begun || !ended {
		t.Fatalf("begun = %v, ended = %v, want both", begun, ended)
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d events, want 2", len(sent))
	}
	if _, ok := sent[0].(gateway.StartupComplete); !ok {
		t.Fatalf("sent[0] type = %T", sent[0])
	}
	if _, ok := sent[1].(gateway.ShutdownComplete); !ok {
		t.Fatalf("sent[1] type = %T", sent[1])
	}
}

func TestRun_UnrecognizedEvent_BestEffortAckAndExit(t *testing.T) {
	c := New()

	// An event outside the inbound lifespan set.
	sent, err := runScript(t, c, gateway.ResponseBody{Body: []byte("?")})
	if err != nil {
		t.Fatalf("Run err = %v, want nil (forced non-error exit)", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	if _, ok := sent[0].(gateway.StartupComplete); !ok {
		t.Fatalf("sent[0] type = %T, want best-effort StartupComplete", sent[0])
	}
	if c.State() != StateDone {
		t.Fatalf("state = %v, want StateDone", c.State())
	}
}

func TestRun_RefusesReuse(t *testing.T) {
	c := New()

	if _, err := runScript(t, c, gateway.Shutdown{}); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := runScript(t, c, gateway.Shutdown{}); err == nil {
		t.Fatal("second Run succeeded, want error")
	}
}

func TestRun_CallbackTimeout(t *testing.T) {
	begin := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c := New(WithOnBegin(begin), WithCallbackTimeout(10*time.Millisecond))

	sent, err := runScript(t, c, gateway.Startup{})
	if err == nil {
		t.Fatal("Run err = nil, want deadline error")
	}
	if len(sent) != 1 {
		t.Fatalf("sent %d events, want 1", len(sent))
	}
	if _, ok := sent[0].(gateway.StartupFailed); !ok {
		t.Fatalf("sent[0] type = %T, want StartupFailed", sent[0])
	}
}

func TestRun_CallbackPanicBecomesFailure(t *testing.T) {
	begin := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		panic("unexpected")
	}
	c := New(WithOnBegin(begin))

	sent, err := runScript(t, c, gateway.Startup{})
	if err == nil {
		t.Fatal("Run err = nil, want panic error")
	}
	failed, ok := sent[0].(gateway.StartupFailed)
	if !ok {
		t.Fatalf("sent[0] type = %T, want StartupFailed", sent[0])
	}
	if !strings.Contains(failed.Message, "unexpected") {
		t.Fatalf("message = %q, want panic value included", failed.Message)
	}
}

func TestReady_FollowsState(t *testing.T) {
	c := New()
	if err := c.Ready(); err == nil {
		t.Fatal("Ready before startup = nil, want error")
	}

	// Drive through startup only.
	sent, err := runScript(t, c, gateway.Startup{})
	if !errors.Is(err, gateway.ErrClosed) {
		t.Fatalf("Run: %v", err)
	}
	_ = sent
	// After the scripted close the coordinator is done, so readiness has
	// been withdrawn again.
	if err := c.Ready(); err == nil {
		t.Fatal("Ready after exit = nil, want error")
	}
}

func TestReady_WhileAwaitingShutdown(t *testing.T) {
	c := New()

	started := make(chan struct{})
	blocked := make(chan struct{})
	i := 0
	receive := func(ctx context.Context) (gateway.Event, error) {
		if i == 0 {
			i++
			return gateway.Startup{}, nil
		}
		close(started)
		<-blocked
		return gateway.Shutdown{}, nil
	}
	send := func(ctx context.Context, ev gateway.Event) error { return nil }

	done := make(chan struct{})
	go func() {
		_ = c.Run(context.Background(), gateway.LifespanScope(), receive, send)
		close(done)
	}()

	<-started
	if err := c.Ready(); err != nil {
		t.Fatalf("Ready between startup and shutdown: %v", err)
	}
	close(blocked)
	<-done
	if err := c.Ready(); err == nil {
		t.Fatal("Ready after shutdown = nil, want error")
	}
}

func TestRun_CallbackObserverReportsPhases(t *testing.T) {
	var phases []string
	nop := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		return nil
	}
	c := New(
		WithOnBegin(nop),
		WithOnEnd(nop),
		WithCallbackObserver(func(phase string, seconds float64) {
			if seconds < 0 {
				t.Errorf("negative duration %f for %s", seconds, phase)
			}
			phases = append(phases, phase)
		}),
	)

	if _, err := runScript(t, c, gateway.Startup{}, gateway.Shutdown{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(phases) != 2 || phases[0] != "startup" || phases[1] != "shutdown" {
		t.Fatalf("phases = %v, want [startup shutdown]", phases)
	}
}

func TestRun_OnTransitionObservesStates(t *testing.T) {
	var states []State
	c := New(WithOnTransition(func(s State) { states = append(states, s) }))

	if _, err := runScript(t, c, gateway.Startup{}, gateway.Shutdown{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []State{StateAwaitingShutdown, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

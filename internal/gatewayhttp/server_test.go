package gatewayhttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/probe"
)

func testHandler(t *testing.T, opts *Options) http.Handler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return NewHandler(opts)
}

// Routing

func TestNewHandler_HealthRoute(t *testing.T) {
	h := testHandler(t, &Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"status": "ok"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNewHandler_UnknownPathIs404(t *testing.T) {
	h := testHandler(t, &Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != `{"error": "Not Found"}` {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestNewHandler_MethodNotAllowedGoesToApp(t *testing.T) {
	h := testHandler(t, &Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/health", http.NoBody))

	// the catch-all app responds, not chi's default 405
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestNewHandler_CustomApp(t *testing.T) {
	app := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		if err := send(ctx, gateway.ResponseStart{
			Status:  http.StatusAccepted,
			Headers: []gateway.Header{{Name: "content-type", Value: "text/plain"}},
		}); err != nil {
			return err
		}
		return send(ctx, gateway.ResponseBody{Body: []byte(scope.Method + " " + scope.Path)})
	}

	h := testHandler(t, &Options{App: app})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/anything", http.NoBody))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec.Body.String() != "PUT /anything" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

// Probes

func TestNewHandler_ReadinessProbe(t *testing.T) {
	h := testHandler(t, &Options{
		Readiness: probe.Fixed(false, "not yet"),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestNewHandler_HealthProbe(t *testing.T) {
	h := testHandler(t, &Options{
		Health: probe.Fixed(true, ""),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/-/healthy", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// Middleware chain

func TestNewHandler_SecurityHeadersPresent(t *testing.T) {
	h := testHandler(t, &Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers missing")
	}
}

func TestNewHandler_RequestIDAssigned(t *testing.T) {
	h := testHandler(t, &Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("X-Request-Id not set")
	}
}

func TestNewHandler_RecoverMiddleware(t *testing.T) {
	var panicked bool
	h := testHandler(t, &Options{
		UseRecoverMW: true,
		OnPanic:      func() { panicked = true },
		App: func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
			panic("handler panic")
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", http.NoBody))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !panicked {
		t.Fatal("OnPanic not called")
	}
}

func TestNewHandler_MetricsMWApplied(t *testing.T) {
	var seen bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = true
			next.ServeHTTP(w, r)
		})
	}

	h := testHandler(t, &Options{MetricsMW: mw})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if !seen {
		t.Fatal("metrics middleware not in chain")
	}
}

func TestNewHandler_RateLimitMWApplied(t *testing.T) {
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}

	h := testHandler(t, &Options{RateLimitMW: mw})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestNewHandler_MaxBodyEnforced(t *testing.T) {
	app := func(ctx context.Context, scope gateway.Scope, receive gateway.ReceiveFunc, send gateway.SendFunc) error {
		for {
			ev, err := receive(ctx)
			if err != nil {
				return err
			}
			if !ev.(gateway.RequestBody).More {
				break
			}
		}
		return send(ctx, gateway.ResponseStart{Status: 200})
	}

	h := testHandler(t, &Options{App: app, MaxBodyBytes: 8})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("way more than eight bytes")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 after body limit error", rec.Code)
	}
}

// Start lifecycle

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestStart_ServesAndStops(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != `{"status": "ok"}` {
		t.Fatalf("body = %q", body)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port)); err == nil {
		t.Fatal("server still accepting connections after stop")
	}
}

func TestStart_StopIdempotent(t *testing.T) {
	port := freePort(t)
	ctx := context.Background()

	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

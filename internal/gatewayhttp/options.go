package gatewayhttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       probe.Probe
	Readiness    probe.Probe

	// App handles every request no explicit route matches. Defaults to
	// the standard not-found responder.
	App gateway.Handler

	// MaxBodyBytes caps inbound request bodies. Zero selects the default.
	MaxBodyBytes int64
}

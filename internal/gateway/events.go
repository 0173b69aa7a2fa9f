package gateway

// Wire tags for every event the protocol defines. These are fixed by the
// host contract and must not change.
const (
	KindLifespanStartup          = "lifespan.startup"
	KindLifespanStartupComplete  = "lifespan.startup.complete"
	KindLifespanStartupFailed    = "lifespan.startup.failed"
	KindLifespanShutdown         = "lifespan.shutdown"
	KindLifespanShutdownComplete = "lifespan.shutdown.complete"
	KindLifespanShutdownFailed   = "lifespan.shutdown.failed"
	KindHTTPRequest              = "http.request"
	KindHTTPResponseStart        = "http.response.start"
	KindHTTPResponseBody         = "http.response.body"
)

// Event is one tagged message on a connection, in either direction.
// The set of implementations in this package is closed; hosts and
// handlers dispatch with a type switch and treat anything outside the
// known set for their direction as unrecognized.
type Event interface {
	// Kind returns the event's wire tag, e.g. "lifespan.startup".
	Kind() string
}

// Startup is sent by the host once, before any requests are routed to
// the application.
type Startup struct{}

func (Startup) Kind() string { return KindLifespanStartup }

// Shutdown is sent by the host once, after the last request completes.
type Shutdown struct{}

func (Shutdown) Kind() string { return KindLifespanShutdown }

// StartupComplete acknowledges a successful startup phase.
type StartupComplete struct{}

func (StartupComplete) Kind() string { return KindLifespanStartupComplete }

// StartupFailed reports a failed startup phase. Message carries the
// stringified cause.
type StartupFailed struct {
	Message string
}

func (StartupFailed) Kind() string { return KindLifespanStartupFailed }

// ShutdownComplete acknowledges a successful shutdown phase.
type ShutdownComplete struct{}

func (ShutdownComplete) Kind() string { return KindLifespanShutdownComplete }

// ShutdownFailed reports a failed shutdown phase.
type ShutdownFailed struct {
	Message string
}

func (ShutdownFailed) Kind() string { return KindLifespanShutdownFailed }

// Header is one request or response header pair. Names are lowercase on
// the wire.
type Header struct {
	Name  string
	Value string
}

// RequestBody carries a chunk of the HTTP request body. More is true
// when at least one further chunk follows.
type RequestBody struct {
	Body []byte
	More bool
}

func (RequestBody) Kind() string { return KindHTTPRequest }

// ResponseStart carries the status line and headers of an HTTP-shaped
// response. A handler sends exactly one ResponseStart before any
// ResponseBody.
type ResponseStart struct {
	Status  int
	Headers []Header
}

func (ResponseStart) Kind() string { return KindHTTPResponseStart }

// ResponseBody carries a chunk of the HTTP response body. More is true
// when at least one further chunk follows.
type ResponseBody struct {
	Body []byte
	More bool
}

func (ResponseBody) Kind() string { return KindHTTPResponseBody }

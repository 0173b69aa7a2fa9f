package gateway

import "context"

// ScopeType distinguishes the connection classes the host opens.
type ScopeType string

const (
	// ScopeLifespan is the single startup/shutdown connection the host
	// opens for the life of the process.
	ScopeLifespan ScopeType = "lifespan"
	// ScopeHTTP is a per-request connection.
	ScopeHTTP ScopeType = "http"
)

// Scope is the read-only context describing one logical connection.
// The host owns it; handlers must not mutate it.
type Scope struct {
	Type ScopeType

	// HTTP connections only; zero values for lifespan scopes.
	Method     string
	Path       string
	RawQuery   string
	Headers    []Header
	ClientAddr string
}

// LifespanScope returns the scope for the process lifespan connection.
func LifespanScope() Scope {
	return Scope{Type: ScopeLifespan}
}

// ReceiveFunc blocks until the next inbound event is available, the
// peer side closes, or ctx is done.
type ReceiveFunc func(ctx context.Context) (Event, error)

// SendFunc delivers one outbound event, blocking until the peer accepts
// it or ctx is done.
type SendFunc func(ctx context.Context, ev Event) error

// Handler serves one connection. It returns when the connection's
// protocol exchange is finished; a non-nil error means the exchange
// ended abnormally.
type Handler func(ctx context.Context, scope Scope, receive ReceiveFunc, send SendFunc) error

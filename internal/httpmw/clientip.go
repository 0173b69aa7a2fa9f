package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// WithClientIP stores the resolved client IP in the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the resolved client IP, or "" if none.
func ClientIPFromContext(ctx context.Context) string {
	if v := ctx.Value(clientIPKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the
	// client and this server. 0 = no proxies (X-Forwarded-For ignored),
	// 1 = single load balancer (rightmost XFF entry), and so on. When
	// there are fewer XFF entries than expected proxies the header is
	// treated as hostile and ignored.
	TrustedHops int
}

// ClientIPWithOptions returns middleware that resolves the real client
// IP and stores it in the context for the rate limiter and access log.
// Forwarded headers are only honored when the direct peer is a private
// address and TrustedHops > 0; otherwise they are stripped so nothing
// downstream trusts them by accident.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientAddr(r, opts.TrustedHops)
			next.ServeHTTP(w, r.WithContext(WithClientIP(r.Context(), ip)))
		})
	}
}

func resolveClientAddr(r *http.Request, trustedHops int) string {
	if r.RemoteAddr == "" {
		return "0.0.0.0"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return "0.0.0.0"
	}

	if !peer.IsPrivate() && !peer.IsLoopback() || trustedHops <= 0 {
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return host
	}

	xf := r.Header.Get("X-Forwarded-For")
	if xf == "" {
		return host
	}
	parts := strings.Split(xf, ",")
	idx := len(parts) - trustedHops
	if idx < 0 {
		// fewer entries than expected proxies: fail closed
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return host
	}
	fwd := net.ParseIP(strings.TrimSpace(parts[idx]))
	if fwd == nil {
		return host
	}
	return fwd.String()
}

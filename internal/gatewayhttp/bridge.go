package gatewayhttp

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/gateway"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/xerrors"
)

// bodyChunkSize bounds how much of a request body one receive call
// hands to the application.
const bodyChunkSize = 64 * 1024

// Bridge adapts a gateway.Handler to net/http. The request becomes an
// http scope, the body is delivered through receive in chunks, and the
// handler's response.start / response.body events drive the
// ResponseWriter.
func Bridge(app gateway.Handler, L log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		scope := scopeFromRequest(r)

		rd := &bodyReader{body: r.Body}
		wr := &responseWriter{w: w}

		err := app(ctx, scope, rd.receive, wr.send)
		if err != nil {
			log.FromContext(ctx).Error(ctx, err, "gateway handler failed",
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
		}
		if !wr.started {
			// handler never produced a response
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	})
}

func scopeFromRequest(r *http.Request) gateway.Scope {
	headers := make([]gateway.Header, 0, len(r.Header))
	for name, values := range r.Header {
		lower := strings.ToLower(name)
		for _, v := range values {
			headers = append(headers, gateway.Header{Name: lower, Value: v})
		}
	}

	client := httpmw.ClientIPFromContext(r.Context())
	if client == "" {
		client = r.RemoteAddr
	}

	return gateway.Scope{
		Type:       gateway.ScopeHTTP,
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Headers:    headers,
		ClientAddr: client,
	}
}

// bodyReader yields the request body as http.request events. Once the
// body is exhausted further receives report the connection as closed.
type bodyReader struct {
	body io.Reader
	done bool
}

func (b *bodyReader) receive(ctx context.Context) (gateway.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.done {
		return nil, gateway.ErrClosed
	}

	buf := make([]byte, bodyChunkSize)
	n, err := io.ReadFull(b.body, buf)
	switch err {
	case nil:
		return gateway.RequestBody{Body: buf[:n], More: true}, nil
	case io.ErrUnexpectedEOF, io.EOF:
		b.done = true
		return gateway.RequestBody{Body: buf[:n], More: false}, nil
	default:
		b.done = true
		return nil, xerrors.Wrap(err, "read request body")
	}
}

// responseWriter applies response events to the underlying
// http.ResponseWriter, enforcing the start-before-body ordering.
type responseWriter struct {
	w        http.ResponseWriter
	started  bool
	finished bool
}

func (rw *responseWriter) send(ctx context.Context, ev gateway.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rw.finished {
		return gateway.ErrClosed
	}

	switch e := ev.(type) {
	case gateway.ResponseStart:
		if rw.started {
			return xerrors.Newf("response already started, got unexpected %s", ev.Kind())
		}
		rw.started = true
		hdr := rw.w.Header()
		for _, h := range e.Headers {
			hdr.Add(h.Name, h.Value)
		}
		status := e.Status
		if status == 0 {
			status = http.StatusOK
		}
		rw.w.WriteHeader(status)
		return nil

	case gateway.ResponseBody:
		if !rw.started {
			return xerrors.Newf("got %s before %s", ev.Kind(), gateway.KindHTTPResponseStart)
		}
		if len(e.Body) > 0 {
			if _, err := rw.w.Write(e.Body); err != nil {
				rw.finished = true
				return xerrors.Wrap(err, "write response body")
			}
		}
		if e.More {
			// incremental responses should reach the client promptly
			if f, ok := rw.w.(http.Flusher); ok {
				f.Flush()
			}
		} else {
			rw.finished = true
		}
		return nil

	default:
		return xerrors.Newf("unexpected event %s on http connection", ev.Kind())
	}
}

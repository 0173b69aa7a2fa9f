package httpmw

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-gateway/internal/log"
	"github.com/keithlinneman/linnemanlabs-gateway/internal/xerrors"
)

// Recover converts handler panics into 500 responses so one bad request
// cannot take the listener down. onPanic, if set, is called after each
// recovery (prometheus counter).
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// re-panic on aborts so the server can close the conn
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("%v", rec)
				} else {
					err = xerrors.EnsureTrace(err)
				}

				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				).Error(r.Context(), err, "httpserver panic recovered")

				if onPanic != nil {
					onPanic()
				}

				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// RegisterPprof attaches the runtime profiling endpoints to the admin mux.
// Only wired when pprof is explicitly enabled; the admin port is already
// restricted to non-public peers.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"net/http"
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

// runtimeProfiles are the runtime profiles served under /pprof/ by name.
var runtimeProfiles = []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"}

func (s *Server) registerProfileHandlers(mux *httprouter.Router) {
	base := s.cfg.Prefix + "/pprof/"

	for _, name := range runtimeProfiles {
		mux.Handler(http.MethodGet, base+name, pprof.Handler(name))
	}

	for name, handler := range map[string]http.HandlerFunc{
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	} {
		mux.HandlerFunc(http.MethodGet, base+name, handler)
	}

	s.log.Infof("SERVE: Profiling enabled at %s", base)
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/Seednode/cantina/internal/protocol"
)

const timeout time.Duration = 10 * time.Second

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.Scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func (s *Server) serveVersion(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("cantina v" + s.cfg.Release + " (protocol " + protocol.Version + ")\n"))
		if err != nil {
			report(errs, err)

			return
		}

		s.log.Debugf("SERVE: Version page (%s) to %s in %s",
			humanize.Bytes(uint64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func (s *Server) serveHealthCheck(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			report(errs, err)

			return
		}
	}
}

func (s *Server) serveRobots(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := "User-agent: *\nDisallow: /\n"

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(s.cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			report(errs, err)

			return
		}
	}
}

func (s *Server) router(errs chan<- error) *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.log.Errorf("SERVE: Recovered from panic serving %s to %s: %v", r.URL.Path, realIP(r), i)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, "An error has occurred. Please try again.\n")
	}

	prefix := s.cfg.Prefix

	mux.GET(prefix+"/ws", s.serveWS())

	mux.GET(prefix+"/healthz", s.serveHealthCheck(errs))

	mux.GET(prefix+"/robots.txt", s.serveRobots(errs))

	mux.GET(prefix+"/version", s.serveVersion(errs))

	s.registerAuth(mux, errs)

	if s.cfg.Profile {
		s.registerProfileHandlers(mux)
	}

	return mux
}

// Handler returns the server's routes without the broadcast loop or the
// login listener. Errors writing responses are logged until the server's
// context is done.
func (s *Server) Handler() http.Handler {
	errs := make(chan error, 64)

	go s.drainErrors(s.ctx, errs)

	return s.router(errs)
}

// report hands err to the drain, dropping it if the drain has stopped.
func report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
	}
}

func (s *Server) drainErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			s.log.Debugf("SERVE: %v", err)
		}
	}
}

// Run serves HTTP and WebSocket clients and runs the broadcast loop and the
// login listener until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	s.log.Infof("START: cantina v%s (protocol %s)", s.cfg.Release, protocol.Version)

	g, ctx := errgroup.WithContext(ctx)
	s.ctx = ctx

	errs := make(chan error, 64)

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port)),
		Handler:           s.router(errs),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	g.Go(func() error {
		s.drainErrors(ctx, errs)

		return nil
	})

	g.Go(func() error {
		return s.broadcastLoop(ctx)
	})

	g.Go(func() error {
		return s.linkageLoop(ctx)
	})

	g.Go(func() error {
		var err error

		s.log.Infof("SERVE: Listening on %s://%s%s/", s.cfg.Scheme(), srv.Addr, s.cfg.Prefix)

		if s.cfg.TLSKey != "" && s.cfg.TLSCert != "" {
			err = srv.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	s.log.Infof("SERVE: Stopped after %s", time.Since(s.started).Round(time.Second))

	return err
}

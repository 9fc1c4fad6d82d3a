/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"embed"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
)

//go:embed assets/*
var assets embed.FS

func (s *Server) registerAuth(mux *httprouter.Router, errs chan<- error) {
	prefix := s.cfg.Prefix

	mux.GET(prefix+"/auth/itchio_callback", s.serveAsset("assets/callback.html", "text/html; charset=utf-8", errs))

	mux.GET(prefix+"/auth/callback.js", s.serveAsset("assets/callback.js", "text/javascript; charset=utf-8", errs))

	mux.POST(prefix+"/auth/receive_token", s.receiveToken(errs))
}

func (s *Server) serveAsset(name, contentType string, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data, err := assets.ReadFile(name)
		if err != nil {
			report(errs, err)

			http.NotFound(w, r)

			return
		}

		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(s.cfg, w)

		_, err = w.Write(data)
		if err != nil {
			report(errs, err)

			return
		}
	}
}

// receiveToken finishes a browser login: the callback page posts the access
// token and state it was given by the provider.
func (s *Server) receiveToken(errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(s.cfg, w)

		r.Body = http.MaxBytesReader(w, r.Body, 16*1024)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "Malformed request.", http.StatusBadRequest)

			return
		}

		installation, err := s.oauth.VerifyState(r.PostForm.Get("state"))
		if err != nil {
			s.log.Infof("LOGIN: Rejected callback from %s: %v", realIP(r), err)

			http.Error(w, "Login link is invalid or expired.", http.StatusBadRequest)

			return
		}

		log := s.log.WithField("installation", installation)

		profile, err := s.oauth.FetchProfile(r.Context(), r.PostForm.Get("access_token"))
		if err != nil {
			log.Warnf("LOGIN: %v", err)

			http.Error(w, "Unable to reach itch.io.", http.StatusBadGateway)

			return
		}

		_, err = s.store.LinkInstallation(r.Context(), installation, profile.ID, profile.Username, r.PostForm.Get("access_token"))
		if err != nil {
			log.Errorf("LOGIN: %v", err)

			http.Error(w, "Unable to save login.", http.StatusInternalServerError)

			return
		}

		if err := s.notifier.Publish(r.Context(), installation); err != nil {
			log.Errorf("LOGIN: Publishing login: %v", err)
		}

		_, err = w.Write([]byte("Ok\n"))
		if err != nil {
			report(errs, err)

			return
		}

		log.Infof("LOGIN: Linked to itch.io user %s for %s in %s",
			profile.Username,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package server is the authoritative side of cantina: it accepts client
// sockets, tracks who is connected, keeps clocks in sync and pushes the
// shared world to everyone.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Seednode/cantina/internal/notify"
	"github.com/Seednode/cantina/internal/oauth"
	"github.com/Seednode/cantina/internal/registry"
	"github.com/Seednode/cantina/internal/store"
)

var ErrVersionMismatch = errors.New("incompatible protocol version")

// Server owns everything a running server shares between connections. It is
// built once by the entry point and handed to every task that needs it.
type Server struct {
	cfg      *Config
	log      logrus.FieldLogger
	store    *store.Store
	registry *registry.Registry
	notifier notify.Notifier
	oauth    *oauth.Provider
	upgrader websocket.Upgrader
	started  time.Time

	// world serializes position writes between the broadcast tick and
	// client updates.
	world sync.Mutex

	ctx context.Context
}

func New(cfg *Config, log logrus.FieldLogger, st *store.Store, notifier notify.Notifier) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		store:    st,
		registry: registry.New(),
		notifier: notifier,
		oauth:    oauth.New(cfg.OAuthClientID, cfg.CallbackURL(), []byte(cfg.StateSecret)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		started: time.Now(),
		ctx:     context.Background(),
	}
}

// Registry exposes the connection registry, mainly for tests and diagnostics.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// OAuth exposes the login link provider.
func (s *Server) OAuth() *oauth.Provider {
	return s.oauth
}

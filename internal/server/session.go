/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	"github.com/Seednode/cantina/internal/clock"
	"github.com/Seednode/cantina/internal/protocol"
	"github.com/Seednode/cantina/internal/registry"
	"github.com/Seednode/cantina/internal/store"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// session is one client connection. The read loop owns the lease and the
// installation; the write loop owns the socket's write side.
type session struct {
	srv    *Server
	conn   *websocket.Conn
	remote string
	log    logrus.FieldLogger

	// send is never closed. The registry may still hold it after the session
	// ends, and offering to a queue nobody drains is harmless.
	send chan protocol.Response

	clock clock.Tracker

	lease        *registry.Lease
	installation uuid.UUID

	written atomic.Int64
}

func (s *Server) serveWS() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debugf("SOCKET: Upgrade failed for %s: %v", realIP(r), err)

			return
		}

		sess := &session{
			srv:    s,
			conn:   conn,
			remote: realIP(r),
			send:   make(chan protocol.Response, sendBuffer),
		}
		sess.log = s.log.WithField("remote", sess.remote)

		sess.run(s.ctx)
	}
}

func (c *session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startTime := time.Now()

	c.log.Debug("SOCKET: Connected")

	defer func() {
		if c.lease != nil {
			c.lease.Release()
		}

		_ = c.conn.Close()

		c.log.Debugf("SOCKET: Disconnected after %s (%s sent)",
			time.Since(startTime).Round(time.Millisecond),
			humanize.Bytes(uint64(c.written.Load())),
		)
	}()

	go c.writePump(ctx, c.log)
	go c.pingLoop(ctx)

	c.readPump(ctx)
}

func (c *session) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugf("SOCKET: Read failed: %v", err)
			}

			return
		}

		if kind != websocket.BinaryMessage {
			continue
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			c.log.Warnf("SOCKET: Dropping message: %v", err)

			continue
		}

		err = c.handleRequest(ctx, req)
		switch {
		case err == nil:
		case errors.Is(err, protocol.ErrMalformed):
			c.log.Warnf("SOCKET: Dropping message: %v", err)
		case ctx.Err() != nil:
			return
		default:
			c.log.Infof("SOCKET: %v", err)

			if err := c.respond(ctx, protocol.NewError(err.Error())); err != nil {
				return
			}
		}
	}
}

func (c *session) writePump(ctx context.Context, log logrus.FieldLogger) {
	defer c.conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))

			return
		case msg := <-c.send:
			data, err := protocol.EncodeResponse(msg)
			if err != nil {
				log.Errorf("SOCKET: Encoding %T: %v", msg, err)

				continue
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Debugf("SOCKET: Write failed: %v", err)

				return
			}

			c.written.Add(int64(len(data)))
		}
	}
}

func (c *session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.srv.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			delta, roundtrip := c.clock.Averages()

			ping := protocol.Ping{
				Timestamp:                protocol.Now(),
				AverageServerClientDelta: delta,
				AverageRoundtrip:         roundtrip,
			}

			if err := c.respond(ctx, ping); err != nil {
				return
			}
		}
	}
}

// respond queues msg for this connection only, waiting for room if needed.
func (c *session) respond(ctx context.Context, msg protocol.Response) error {
	select {
	case c.send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *session) handleRequest(ctx context.Context, req protocol.Request) error {
	switch req := req.(type) {
	case protocol.Authenticate:
		return c.authenticate(ctx, req)
	case protocol.AuthenticationURL:
		return c.authenticationURL(ctx)
	case protocol.Update:
		return c.update(ctx, req)
	case protocol.Pong:
		c.clock.Observe(req.OriginalTimestamp, req.Timestamp, protocol.Now())

		return nil
	default:
		return fmt.Errorf("%w: unexpected request %T", protocol.ErrMalformed, req)
	}
}

// authenticate registers the connection under its installation id. A client
// speaking another protocol version is answered with an error and left
// connected but unregistered.
func (c *session) authenticate(ctx context.Context, req protocol.Authenticate) error {
	if req.Version != protocol.Version {
		return fmt.Errorf("%w: server speaks %s, client speaks %s",
			ErrVersionMismatch, protocol.Version, req.Version)
	}

	id := uuid.New()
	if req.InstallationID != nil && *req.InstallationID != uuid.Nil {
		id = *req.InstallationID
	}

	if c.lease != nil {
		c.lease.Release()
		c.lease = nil
	}

	if _, err := c.srv.store.LookupInstallation(ctx, id); err != nil {
		c.log.Errorf("LOGIN: %v", err)

		return errors.New("unable to load installation")
	}

	c.installation = id
	c.log = c.srv.log.WithFields(logrus.Fields{
		"remote":       c.remote,
		"installation": id,
	})

	if err := c.respond(ctx, protocol.AdoptInstallationID{InstallationID: id}); err != nil {
		return err
	}

	c.lease = c.srv.registry.Connect(id, c.send)

	profile, err := c.srv.store.InstallationProfile(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotLinked):
		c.log.Debug("LOGIN: Connected without an account")

		return nil
	case err != nil:
		c.log.Errorf("LOGIN: %v", err)

		return errors.New("unable to load profile")
	}

	c.srv.registry.AssociateAccount(id, profile.ID)

	c.log.Infof("LOGIN: Authenticated as %s", profile.Username)

	return c.respond(ctx, protocol.Authenticated{Profile: *profile})
}

func (c *session) authenticationURL(ctx context.Context) error {
	if c.lease == nil {
		c.log.Debug("LOGIN: Ignoring login link request before authenticate")

		return nil
	}

	link, err := c.srv.oauth.AuthorizationURL(c.installation)
	if err != nil {
		c.log.Errorf("LOGIN: %v", err)

		return errors.New("unable to create login link")
	}

	return c.respond(ctx, protocol.AuthenticateAtURL{URL: link})
}

func (c *session) update(ctx context.Context, req protocol.Update) error {
	if c.lease == nil {
		return nil
	}

	account, ok := c.srv.registry.AccountOf(c.installation)
	if !ok {
		return nil
	}

	if !finite(req.XOffset) || (req.Inputs != nil && !finite(req.Inputs.HorizontalMovement)) {
		return fmt.Errorf("%w: non-finite update", protocol.ErrMalformed)
	}

	c.srv.world.Lock()
	defer c.srv.world.Unlock()

	if err := c.srv.store.ApplyUpdate(ctx, account, req.Inputs, req.XOffset, protocol.Now()); err != nil {
		c.log.Errorf("TICK: %v", err)

		return errors.New("unable to save position")
	}

	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

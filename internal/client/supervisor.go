/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Seednode/cantina/internal/protocol"
)

const writeWait = 10 * time.Second

// Supervisor keeps exactly one connection to the server open for as long as
// it runs, reconnecting whenever the current one fails.
type Supervisor struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	network *Network
	log     logrus.FieldLogger
}

func NewSupervisor(serverURL string, reconnectDelay time.Duration, network *Network, log logrus.FieldLogger) *Supervisor {
	return &Supervisor{
		URL:            strings.TrimSuffix(serverURL, "/") + "/ws",
		ReconnectDelay: reconnectDelay,
		Dialer:         websocket.DefaultDialer,
		network:        network,
		log:            log,
	}
}

// Run connects and reconnects until ctx is done. Failures only ever show up
// in the network's login state.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		conn, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			s.log.Debugf("CLIENT: Connecting to %s: %v", s.URL, err)
			s.network.setLoginState(Error{})
		} else {
			s.log.Debugf("CLIENT: Connected to %s", s.URL)
			s.network.setLoginState(LoggedOut{})

			if err := s.serve(ctx, conn); err != nil && ctx.Err() == nil {
				s.log.Infof("CLIENT: Connection lost: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.ReconnectDelay):
		}
	}
}

// serve runs one connection: the handshake, then a reader goroutine and a
// writer loop. Whichever fails first ends both.
func (s *Supervisor) serve(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer conn.Close()

	err := s.write(conn, protocol.Authenticate{
		Version:        protocol.Version,
		InstallationID: s.network.config.InstallationID(),
	})
	if err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		defer cancel()

		readErr <- s.read(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()

			return <-readErr
		case req := <-s.network.outgoing:
			if err := s.write(conn, req); err != nil {
				_ = conn.Close()
				<-readErr

				return err
			}
		}
	}
}

func (s *Supervisor) write(conn *websocket.Conn, req protocol.Request) error {
	data, err := protocol.EncodeRequest(req)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", req, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Supervisor) read(conn *websocket.Conn) error {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if kind != websocket.BinaryMessage {
			continue
		}

		resp, err := protocol.DecodeResponse(data)
		if err != nil {
			s.log.Warnf("CLIENT: Dropping message: %v", err)

			continue
		}

		s.network.handleResponse(resp)
	}
}

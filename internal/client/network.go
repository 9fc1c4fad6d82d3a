/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package client is the game side of cantina: it keeps a connection to the
// server alive and turns what the server says into state the frame loop can
// read without ever waiting on the network.
package client

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Seednode/cantina/internal/protocol"
)

const outgoingBuffer = 1024

// Network is shared between the frame loop and the connection supervisor.
// The supervisor writes it; everyone else reads copies.
type Network struct {
	log    logrus.FieldLogger
	config *UserConfig

	outgoing chan protocol.Request

	// onLoginLink is called from the connection's reader with every login
	// link the server hands out.
	onLoginLink func(string)

	mu             sync.RWMutex
	state          LoginState
	roundtrip      float64
	delta          float64
	worldTimestamp float64
	profiles       []protocol.UserProfile
	haveWorld      bool
}

func NewNetwork(log logrus.FieldLogger, config *UserConfig, onLoginLink func(string)) *Network {
	if onLoginLink == nil {
		onLoginLink = func(string) {}
	}

	return &Network{
		log:         log,
		config:      config,
		outgoing:    make(chan protocol.Request, outgoingBuffer),
		onLoginLink: onLoginLink,
		state:       LoggedOut{},
	}
}

// LoginState returns the current login state.
func (n *Network) LoginState() LoginState {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.state
}

func (n *Network) setLoginState(state LoginState) {
	n.mu.Lock()
	n.state = state
	n.mu.Unlock()
}

// Ping returns the server's latest round-trip estimate in seconds.
func (n *Network) Ping() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return n.roundtrip
}

// Status is the status line for the current state.
func (n *Network) Status() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return Status(n.state, n.roundtrip)
}

// Request queues req for the server. It never blocks; if the queue is full
// the request is dropped.
func (n *Network) Request(req protocol.Request) {
	select {
	case n.outgoing <- req:
	default:
		n.log.Warnf("CLIENT: Outgoing queue full, dropping %T", req)
	}
}

// LastWorldUpdate hands over the newest snapshot not yet taken, with its
// timestamp already moved onto this client's clock. Older snapshots are
// overwritten, not queued.
func (n *Network) LastWorldUpdate() (timestamp float64, profiles []protocol.UserProfile, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.haveWorld {
		return 0, nil, false
	}

	timestamp, profiles = n.worldTimestamp, n.profiles
	n.profiles, n.haveWorld = nil, false

	return timestamp, profiles, true
}

func (n *Network) handleResponse(resp protocol.Response) {
	switch resp := resp.(type) {
	case protocol.AdoptInstallationID:
		n.log.Debugf("CLIENT: Adopting installation %s", resp.InstallationID)

		if err := n.config.SetInstallationID(resp.InstallationID); err != nil {
			n.log.Errorf("CLIENT: %v", err)
		}

		n.setLoginState(Connected{})
	case protocol.Authenticated:
		n.log.Infof("CLIENT: Authenticated as %s", resp.Profile.Username)

		n.setLoginState(Authenticated{Profile: resp.Profile})
	case protocol.Error:
		n.setLoginState(Error{Message: resp.Message})
	case protocol.WorldUpdate:
		n.mu.Lock()
		n.worldTimestamp = resp.Timestamp - n.delta
		n.profiles = resp.Profiles
		n.haveWorld = true
		n.mu.Unlock()
	case protocol.AuthenticateAtURL:
		n.onLoginLink(resp.URL)
	case protocol.Ping:
		n.mu.Lock()
		n.delta = resp.AverageServerClientDelta
		n.roundtrip = resp.AverageRoundtrip
		n.mu.Unlock()

		n.Request(protocol.Pong{
			OriginalTimestamp: resp.Timestamp,
			Timestamp:         protocol.Now(),
		})
	}
}

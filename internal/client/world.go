/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"cmp"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/Seednode/cantina/internal/protocol"
)

// World is the frame loop's picture of the diner: where this player is and
// where everyone else is believed to be.
type World struct {
	network *Network
	limiter *rate.Limiter

	XOffset float64
	players map[protocol.AccountID]protocol.UserProfile
}

// NewWorld sends this player's position at most updateRate times a second.
func NewWorld(network *Network, updateRate float64) *World {
	return &World{
		network: network,
		limiter: rate.NewLimiter(rate.Limit(updateRate), 1),
		players: make(map[protocol.AccountID]protocol.UserProfile),
	}
}

// Step runs one frame. input is the horizontal movement in [-1, 1] and
// elapsed is the time since the previous frame.
func (w *World) Step(now time.Time, elapsed time.Duration, input float64) {
	input = min(max(input, -1), 1)
	seconds := elapsed.Seconds()
	timestamp := protocol.Timestamp(now)

	if seconds > 0 {
		w.XOffset = max(w.XOffset+input*protocol.WalkSpeed*seconds, 0)
	}

	if w.limiter.AllowN(now, 1) {
		w.network.Request(protocol.Update{
			Inputs:    &protocol.Inputs{HorizontalMovement: input},
			XOffset:   w.XOffset,
			Timestamp: timestamp,
		})
	}

	worldTimestamp, profiles, ok := w.network.LastWorldUpdate()
	if !ok {
		for id, p := range w.players {
			w.players[id] = extrapolate(p, seconds)
		}

		return
	}

	clear(w.players)
	for _, p := range profiles {
		w.players[p.ID] = extrapolate(p, timestamp-worldTimestamp)
	}
}

// Players returns everyone in the world, ordered by account.
func (w *World) Players() []protocol.UserProfile {
	players := make([]protocol.UserProfile, 0, len(w.players))
	for _, p := range w.players {
		players = append(players, p)
	}

	slices.SortFunc(players, func(a, b protocol.UserProfile) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return players
}

func extrapolate(p protocol.UserProfile, seconds float64) protocol.UserProfile {
	if seconds > 0 {
		p.XOffset = max(p.XOffset+seconds*protocol.WalkSpeed*p.HorizontalInput, 0)
	}

	return p
}

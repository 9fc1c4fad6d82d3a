/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package clock estimates round-trip time and the offset between the
// server's clock and a client's clock from ping/pong exchanges.
package clock

import (
	"math"
	"sync"
)

const (
	// Smoothing is the weight given to each new sample.
	Smoothing = 0.2

	// MaxRoundtrip bounds a single round-trip sample, in seconds.
	MaxRoundtrip = 30.0
)

// Average is an exponential moving average. The zero value is empty and is
// seeded by the first sample it receives.
type Average struct {
	value   float64
	samples int
}

// Add folds sample into the average. Non-finite samples are ignored.
func (a *Average) Add(sample float64) {
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return
	}

	if a.samples == 0 {
		a.value = sample
	} else {
		a.value += Smoothing * (sample - a.value)
	}
	a.samples++
}

func (a *Average) Value() float64 {
	return a.value
}

func (a *Average) Samples() int {
	return a.samples
}

// Tracker holds the rolling estimates for one connection. It is safe for
// concurrent use by the goroutine that sends pings and the one that reads
// pongs.
type Tracker struct {
	mu        sync.Mutex
	roundtrip Average
	delta     Average
}

// Observe records one completed exchange. pingSent is the server timestamp
// carried by the ping, pongSent is the client's timestamp carried by the
// reply, and received is the server time the reply arrived. The client is
// assumed to have stamped its reply halfway through the round trip.
func (t *Tracker) Observe(pingSent, pongSent, received float64) {
	rtt := min(max(received-pingSent, 0), MaxRoundtrip)
	delta := pingSent + rtt/2 - pongSent

	t.mu.Lock()
	defer t.mu.Unlock()

	t.roundtrip.Add(rtt)
	t.delta.Add(delta)
}

// Averages returns the current server-minus-client delta and round-trip
// estimates, in seconds.
func (t *Tracker) Averages() (delta, roundtrip float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.delta.Value(), t.roundtrip.Value()
}

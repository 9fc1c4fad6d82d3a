/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package clock

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAverageSeedsFromFirstSample(t *testing.T) {
	var a Average
	a.Add(0.25)

	assert.Equal(t, 0.25, a.Value())
	assert.Equal(t, 1, a.Samples())
}

func TestAverageConvergesToMean(t *testing.T) {
	const (
		mean   = 0.080
		jitter = 0.030
	)

	rng := rand.New(rand.NewSource(1))
	var a Average
	for i := 0; i < 500; i++ {
		a.Add(mean + (rng.Float64()*2-1)*jitter)
	}

	// A weighted mean of bounded samples never leaves the sample range.
	assert.InDelta(t, mean, a.Value(), jitter)
}

func TestAverageForgetsOutliers(t *testing.T) {
	var a Average
	a.Add(5)
	for i := 0; i < 100; i++ {
		a.Add(0.05)
	}

	assert.InDelta(t, 0.05, a.Value(), 1e-6)
}

func TestAverageIgnoresNonFiniteSamples(t *testing.T) {
	var a Average
	a.Add(1)
	a.Add(math.NaN())
	a.Add(math.Inf(1))
	a.Add(math.Inf(-1))

	assert.Equal(t, 1.0, a.Value())
	assert.Equal(t, 1, a.Samples())
}

func TestTrackerRoundtripStaysBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var tr Tracker

	for i := 0; i < 1000; i++ {
		sent := float64(i)
		// Wildly variable replies, including ones that appear to arrive
		// before they were sent and ones that take minutes.
		received := sent + (rng.Float64()*200 - 20)
		tr.Observe(sent, sent+1, received)

		_, rtt := tr.Averages()
		require.GreaterOrEqual(t, rtt, 0.0)
		require.LessOrEqual(t, rtt, MaxRoundtrip)
	}
}

func TestTrackerEstimatesClockDelta(t *testing.T) {
	const (
		offset = 3.5 // server clock runs ahead of the client's
		rtt    = 0.1
	)

	var tr Tracker
	for i := 0; i < 50; i++ {
		serverSent := 1000 + float64(i)
		clientStamp := serverSent + rtt/2 - offset
		tr.Observe(serverSent, clientStamp, serverSent+rtt)
	}

	delta, roundtrip := tr.Averages()
	assert.InDelta(t, offset, delta, 1e-9)
	assert.InDelta(t, rtt, roundtrip, 1e-9)
}

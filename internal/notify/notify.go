/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package notify carries "installation logged in" events from whatever
// completed the login to the server that holds the installation's socket.
package notify

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Channel is the name logins are published on.
const Channel = "installation_login"

// Notifier publishes and delivers login events. Subscribe returns a channel
// that is closed when ctx is done or the underlying transport fails.
type Notifier interface {
	Publish(ctx context.Context, installation uuid.UUID) error
	Subscribe(ctx context.Context) (<-chan string, error)
}

// Memory delivers events to subscribers in the same process.
type Memory struct {
	mu          sync.Mutex
	subscribers map[chan string]struct{}
}

func NewMemory() *Memory {
	return &Memory{subscribers: make(map[chan string]struct{})}
}

// Publish hands the event to every current subscriber. A subscriber whose
// buffer is full misses the event.
func (m *Memory) Publish(_ context.Context, installation uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for ch := range m.subscribers {
		select {
		case ch <- installation.String():
		default:
		}
	}

	return nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, 64)

	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()

		m.mu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

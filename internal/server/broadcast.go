/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"context"
	"time"

	"github.com/Seednode/cantina/internal/protocol"
)

func (s *Server) broadcastLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("TICK: %v", err)
			}
		}
	}
}

// tick advances every connected account by its input since it last moved,
// saves the result and sends the whole world to every connection.
func (s *Server) tick(ctx context.Context) error {
	if s.registry.Len() == 0 {
		return nil
	}

	s.world.Lock()
	defer s.world.Unlock()

	profiles, err := s.store.Profiles(ctx, s.registry.Accounts())
	if err != nil {
		return err
	}

	now := protocol.Now()
	for i := range profiles {
		profiles[i].Advance(now)
	}

	if err := s.store.SavePositions(ctx, profiles); err != nil {
		return err
	}

	s.registry.Broadcast(protocol.WorldUpdate{
		Timestamp: now,
		Profiles:  profiles,
	})

	return nil
}

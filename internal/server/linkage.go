/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Seednode/cantina/internal/protocol"
	"github.com/Seednode/cantina/internal/store"
)

const resubscribeDelay = time.Second

// linkageLoop listens for installations that finished logging in through the
// browser and tells them who they are. The subscription is renewed if the
// notifier drops it.
func (s *Server) linkageLoop(ctx context.Context) error {
	for {
		logins, err := s.notifier.Subscribe(ctx)
		if err != nil {
			s.log.Errorf("LOGIN: %v", err)
		} else {
			s.consumeLogins(ctx, logins)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(resubscribeDelay):
		}
	}
}

func (s *Server) consumeLogins(ctx context.Context, logins <-chan string) {
	for payload := range logins {
		s.handleLogin(ctx, payload)
	}
}

func (s *Server) handleLogin(ctx context.Context, payload string) {
	id, err := uuid.Parse(payload)
	if err != nil {
		s.log.Warnf("LOGIN: Ignoring malformed installation id %q", payload)

		return
	}

	profile, err := s.store.InstallationProfile(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotLinked) {
			s.log.Errorf("LOGIN: %v", err)
		}

		return
	}

	if !s.registry.AssociateAccount(id, profile.ID) {
		s.log.Debugf("LOGIN: %s logged in while disconnected", id)

		return
	}

	s.registry.SendToInstallation(id, protocol.Authenticated{Profile: *profile})

	s.log.WithField("installation", id).Infof("LOGIN: Linked to %s", profile.Username)
}

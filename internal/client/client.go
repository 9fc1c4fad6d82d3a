/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Seednode/cantina/internal/protocol"
)

type Config struct {
	ServerURL      string
	ConfigFile     string
	ReconnectDelay time.Duration
	UpdateRate     float64
	FrameRate      int
	Input          float64
	Login          bool
	OpenBrowser    bool
	Verbose        bool
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server url (must be ws:// or wss://): %s", c.ServerURL)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("invalid reconnect delay (must be positive): %s", c.ReconnectDelay)
	}
	if c.UpdateRate <= 0 {
		return fmt.Errorf("invalid update rate (must be positive): %v", c.UpdateRate)
	}
	if c.FrameRate < 1 {
		return fmt.Errorf("invalid frame rate (must be at least 1): %d", c.FrameRate)
	}
	if c.Input < -1 || c.Input > 1 {
		return fmt.Errorf("invalid input (must be between -1 and 1 inclusive): %v", c.Input)
	}
	if c.ConfigFile == "" {
		return errors.New("--config-file must not be empty")
	}

	return nil
}

// Run plays headless: it holds the connection open, walks with a constant
// input and logs whenever the status line or the set of players changes.
func Run(ctx context.Context, cfg *Config, log logrus.FieldLogger) error {
	userConfig, err := LoadUserConfig(cfg.ConfigFile)
	if err != nil {
		return err
	}

	network := NewNetwork(log, userConfig, loginLinkPresenter(log, os.Stdout, cfg.OpenBrowser))
	supervisor := NewSupervisor(cfg.ServerURL, cfg.ReconnectDelay, network, log)
	world := NewWorld(network, cfg.UpdateRate)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return supervisor.Run(ctx)
	})

	g.Go(func() error {
		return frameLoop(ctx, cfg, log, network, world)
	})

	return g.Wait()
}

func frameLoop(ctx context.Context, cfg *Config, log logrus.FieldLogger, network *Network, world *World) error {
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FrameRate))
	defer ticker.Stop()

	var (
		last       = time.Now()
		lastState  LoginState
		lastStatus string
		lastCount  = -1
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			world.Step(now, now.Sub(last), cfg.Input)
			last = now

			state := network.LoginState()
			if cfg.Login && isConnected(state) && !isConnected(lastState) {
				network.Request(protocol.AuthenticationURL{})
			}
			if state != lastState {
				if status := network.Status(); status != lastStatus {
					log.Infof("CLIENT: %s", status)
					lastStatus = status
				}
			}
			lastState = state

			if count := len(world.Players()); count != lastCount {
				log.Debugf("CLIENT: %d players in the diner, standing at %.1f", count, world.XOffset)
				lastCount = count
			}
		}
	}
}

func isConnected(state LoginState) bool {
	_, ok := state.(Connected)

	return ok
}

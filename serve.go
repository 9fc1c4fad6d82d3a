/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/Seednode/cantina/internal/notify"
	"github.com/Seednode/cantina/internal/server"
	"github.com/Seednode/cantina/internal/store"
)

func runServer(ctx context.Context, cfg *server.Config, log *logrus.Logger) error {
	if cfg.StateSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		cfg.StateSecret = hex.EncodeToString(secret)

		log.Warn("START: No --state-secret given, login links will not survive a restart")
	}

	st, err := store.Open(cfg.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier notify.Notifier = notify.NewMemory()
	if cfg.RedisURL != "" {
		redis, err := notify.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redis.Close()

		notifier = redis
	}

	return server.New(cfg, log, st, notifier).Run(ctx)
}

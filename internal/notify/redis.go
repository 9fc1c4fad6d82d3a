/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis publishes events on a redis pub/sub channel so that any server
// process can complete a login started on another.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the redis server at url, e.g. redis://localhost:6379/0.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) Publish(ctx context.Context, installation uuid.UUID) error {
	return r.client.Publish(ctx, Channel, installation.String()).Err()
}

func (r *Redis) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := r.client.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", Channel, err)
	}

	ch := make(chan string)
	go func() {
		defer close(ch)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case ch <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

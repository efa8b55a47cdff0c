// Package notifier fans drowsiness alerts out to other services.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/config"
	"github.com/carneyfh54/BEHAVIOR-BASED-DRIVER-DROWSINESS-DETECTION-USING-TEMPORAL-ANALYSIS-AND-UNSUPERVISED-LEARNING/internal/models"
)

// recentAlerts is the length of the capped alert list kept next to the
// pub/sub channel.
const recentAlerts = 100

type Notifier interface {
	Notify(ctx context.Context, alert models.DrowsinessAlert) error
	Close() error
}

// New returns a Redis notifier when an address is configured and a no-op
// one otherwise.
func New(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (Notifier, error) {
	if cfg.Addr == "" {
		return Nop{}, nil
	}
	return NewRedisNotifier(ctx, cfg, logger)
}

// Nop drops every alert.
type Nop struct{}

func (Nop) Notify(context.Context, models.DrowsinessAlert) error { return nil }
func (Nop) Close() error                                         { return nil }

// RedisNotifier publishes alerts as JSON on a pub/sub channel and keeps
// the latest ones in a list named "<channel>:recent".
type RedisNotifier struct {
	logger  *zap.Logger
	client  *redis.Client
	channel string
}

func NewRedisNotifier(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*RedisNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "drowsiness:alerts"
	}
	return &RedisNotifier{
		logger:  logger.Named("notifier.redis"),
		client:  client,
		channel: channel,
	}, nil
}

func (r *RedisNotifier) Notify(ctx context.Context, alert models.DrowsinessAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.channel, data)
	pipe.LPush(ctx, r.recentKey(), data)
	pipe.LTrim(ctx, r.recentKey(), 0, recentAlerts-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	r.logger.Debug("alert published",
		zap.String("client_id", alert.ClientID),
		zap.Int("frame", alert.FrameNumber),
		zap.String("level", alert.DrowsinessLevel))
	return nil
}

// Recent returns up to n stored alerts, newest first.
func (r *RedisNotifier) Recent(ctx context.Context, n int) ([]models.DrowsinessAlert, error) {
	if n <= 0 || n > recentAlerts {
		n = recentAlerts
	}
	raw, err := r.client.LRange(ctx, r.recentKey(), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent alerts: %w", err)
	}
	alerts := make([]models.DrowsinessAlert, 0, len(raw))
	for _, item := range raw {
		var a models.DrowsinessAlert
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			r.logger.Warn("skipping malformed alert", zap.Error(err))
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Subscribe streams alerts until ctx is done.
func (r *RedisNotifier) Subscribe(ctx context.Context) (<-chan models.DrowsinessAlert, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	out := make(chan models.DrowsinessAlert, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var a models.DrowsinessAlert
				if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
					r.logger.Warn("skipping malformed alert", zap.Error(err))
					continue
				}
				select {
				case out <- a:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}

func (r *RedisNotifier) recentKey() string {
	return r.channel + ":recent"
}

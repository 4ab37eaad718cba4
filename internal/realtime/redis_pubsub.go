package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "session:"
	revisionSuffix = ":revision"
	eventTTL       = 5 * time.Second
	revisionTTL    = 24 * time.Hour
)

// RedisPubSub implements Bridge and RevisionSource on Redis.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for session events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

func sessionChannel(sessionID uuid.UUID) string {
	return channelPrefix + sessionID.String()
}

// PublishSessionEvent publishes an envelope to the session's Redis channel.
func (r *RedisPubSub) PublishSessionEvent(ctx context.Context, sessionID uuid.UUID, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventTTL)
	defer cancel()
	return r.client.Publish(ctx, sessionChannel(sessionID), body).Err()
}

// SubscribeSession subscribes to a session's Redis channel and calls handler for each envelope.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeSession(sessionID uuid.UUID, handler func(env Envelope)) (cancel func(), err error) {
	channel := sessionChannel(sessionID)
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					r.logger.Warn("invalid session envelope", zap.String("channel", channel), zap.Error(err))
					continue
				}
				handler(env)
			}
		}
	}()
	return cancelCtx, nil
}

// Next increments the session revision shared by all instances.
func (r *RedisPubSub) Next(ctx context.Context, sessionID uuid.UUID) (uint64, error) {
	key := sessionChannel(sessionID) + revisionSuffix
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, revisionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("revision incr: %w", err)
	}
	return uint64(incr.Val()), nil
}

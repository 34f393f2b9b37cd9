package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPublishTimeout = 2 * time.Second

var (
	errMissingRedisClient  = errors.New("redis client is required")
	errMissingRedisChannel = errors.New("redis channel is required")
	errMissingLocalRelay   = errors.New("local dispatcher is required")
)

// RedisRelayConfig describes the dependencies of a RedisRelay.
type RedisRelayConfig struct {
	Client     redis.UniversalClient
	Channel    string
	InstanceID string
	Local      *RealtimeDispatcher
	Logger     *zap.Logger
}

// RedisRelay publishes realtime messages locally and to a Redis channel, and
// forwards messages other instances published to the local dispatcher.
type RedisRelay struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	local      *RealtimeDispatcher
	logger     *zap.Logger
}

// NewRedisRelay validates the configuration and constructs a relay.
func NewRedisRelay(cfg RedisRelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errMissingRedisChannel
	}
	if cfg.Local == nil {
		return nil, errMissingLocalRelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:     cfg.Client,
		channel:    channel,
		instanceID: cfg.InstanceID,
		local:      cfg.Local,
		logger:     logger,
	}, nil
}

// Publish delivers the message to local streams, then hands it to Redis for the
// other instances. A Redis failure is logged and does not affect local delivery.
func (r *RedisRelay) Publish(message RealtimeMessage) {
	message.Origin = r.instanceID
	r.local.Publish(message)

	payload, err := json.Marshal(message)
	if err != nil {
		r.logger.Warn("realtime relay encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("realtime relay publish failed",
			zap.String("channel", r.channel),
			zap.Error(err))
	}
}

// Run forwards messages from the Redis channel until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	subscription := r.client.Subscribe(ctx, r.channel)
	defer subscription.Close()

	if _, err := subscription.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel))

	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			r.deliver(message.Payload)
		}
	}
}

func (r *RedisRelay) deliver(payload string) {
	var message RealtimeMessage
	if err := json.Unmarshal([]byte(payload), &message); err != nil {
		r.logger.Warn("realtime relay dropped malformed payload", zap.Error(err))
		return
	}
	if message.Origin == r.instanceID {
		return
	}
	r.local.Publish(message)
}

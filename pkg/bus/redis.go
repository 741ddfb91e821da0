package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sipeed/nasrelay/pkg/logger"
)

// RedisQueueConfig names the durable lists shared with the bot gateway.
// Producers LPUSH and consumers BRPOP, so each list is FIFO.
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int

	Incoming   string
	Outgoing   string
	DeadLetter string
	// OutgoingMaxLen rejects replies into DeadLetter once Outgoing holds
	// this many entries. 0 disables the cap.
	OutgoingMaxLen int64
	// PollTimeout bounds each BRPOP so shutdown is noticed promptly.
	PollTimeout time.Duration
}

// RedisQueue bridges Redis lists to a MessageBus. It is a Sink for outbound
// messages and pumps inbound envelopes into the bus.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisQueueConfig
}

// NewRedisQueue connects and pings Redis.
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Incoming == "" || cfg.Outgoing == "" {
		return nil, errors.New("bus: redis incoming and outgoing queue names are required")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("bus: redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisQueue{client: client, cfg: cfg}, nil
}

// Deliver pushes msg onto the outgoing list, or onto the dead-letter list
// when the outgoing list is full.
func (q *RedisQueue) Deliver(ctx context.Context, msg OutboundMessage) error {
	payload, err := EncodeOutbound(msg)
	if err != nil {
		return fmt.Errorf("encode outbound: %w", err)
	}

	target := q.cfg.Outgoing
	if q.cfg.OutgoingMaxLen > 0 {
		n, err := q.client.LLen(ctx, q.cfg.Outgoing).Result()
		if err != nil {
			return fmt.Errorf("llen %s: %w", q.cfg.Outgoing, err)
		}
		if n >= q.cfg.OutgoingMaxLen {
			if q.cfg.DeadLetter == "" {
				return fmt.Errorf("bus: %s is full (%d entries) and no dead-letter queue is configured", q.cfg.Outgoing, n)
			}
			logger.WarnCF("bus", "Outgoing queue full, dead-lettering reply", map[string]interface{}{
				"queue":   q.cfg.Outgoing,
				"length":  n,
				"chat_id": msg.ChatID,
			})
			target = q.cfg.DeadLetter
		}
	}

	if err := q.client.LPush(ctx, target, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", target, err)
	}
	return nil
}

// Pump moves envelopes from the incoming list into mb until ctx is done.
// Payloads that are not valid JSON are moved to the dead-letter list.
func (q *RedisQueue) Pump(ctx context.Context, mb *MessageBus) error {
	logger.InfoCF("bus", "Redis inbound pump started", map[string]interface{}{
		"queue": q.cfg.Incoming,
	})
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BRPop(ctx, q.cfg.PollTimeout, q.cfg.Incoming).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.ErrorCF("bus", "BRPOP failed", map[string]interface{}{
				"queue": q.cfg.Incoming,
				"error": err.Error(),
			})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		msg, err := DecodeInbound([]byte(res[1]))
		if err != nil {
			q.deadLetter(ctx, res[1], err)
			continue
		}
		if err := mb.PublishInbound(ctx, msg); err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, raw string, cause error) {
	fields := map[string]interface{}{
		"queue": q.cfg.Incoming,
		"error": cause.Error(),
	}
	if q.cfg.DeadLetter == "" {
		logger.WarnCF("bus", "Dropping undecodable inbound payload", fields)
		return
	}
	fields["dead_letter"] = q.cfg.DeadLetter
	logger.WarnCF("bus", "Dead-lettering undecodable inbound payload", fields)
	if err := q.client.LPush(ctx, q.cfg.DeadLetter, raw).Err(); err != nil {
		logger.ErrorCF("bus", "Dead-letter push failed", map[string]interface{}{
			"dead_letter": q.cfg.DeadLetter,
			"error":       err.Error(),
		})
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// LogSink is the outbound sink of the memory transport: it only logs.
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, msg OutboundMessage) error {
	logger.InfoCF("bus", "Outbound message", map[string]interface{}{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	})
	return nil
}

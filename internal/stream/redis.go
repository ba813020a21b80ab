package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	"go.uber.org/zap"
)

// RedisConfig controls consumer group reads.
type RedisConfig struct {
	Group       string
	Consumer    string
	Compression string
	MaxLen      int64
	BatchSize   int64
	Block       time.Duration
	ClaimIdle   time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Group:       "billable-usage",
		Consumer:    "worker",
		Compression: EncodingSnappy,
		MaxLen:      100_000,
		BatchSize:   16,
		Block:       5 * time.Second,
		ClaimIdle:   time.Minute,
	}
}

func (c RedisConfig) withDefaults() RedisConfig {
	defaults := DefaultRedisConfig()
	if strings.TrimSpace(c.Group) == "" {
		c.Group = defaults.Group
	}
	if strings.TrimSpace(c.Consumer) == "" {
		c.Consumer = defaults.Consumer
	}
	if c.Compression == "" {
		c.Compression = defaults.Compression
	}
	if c.MaxLen <= 0 {
		c.MaxLen = defaults.MaxLen
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Block <= 0 {
		c.Block = defaults.Block
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = defaults.ClaimIdle
	}
	return c
}

// RedisBus carries topics over Redis streams.
type RedisBus struct {
	client  *redis.Client
	cfg     RedisConfig
	genID   *snowflake.Node
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	mu       sync.Mutex
	handlers map[string]Handler
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewRedisBus(client *redis.Client, cfg RedisConfig, genID *snowflake.Node, log *zap.Logger, metrics *obsmetrics.Metrics) *RedisBus {
	return &RedisBus{
		client:   client,
		cfg:      cfg.withDefaults(),
		genID:    genID,
		log:      log.Named("stream.redis"),
		metrics:  metrics,
		handlers: make(map[string]Handler),
	}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Topic) == "" {
		return ErrEmptyTopic
	}
	if msg.ID == "" && b.genID != nil {
		msg.ID = b.genID.Generate().String()
	}
	values, err := encode(msg, b.cfg.Compression)
	if err != nil {
		return err
	}
	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Topic,
		MaxLen: b.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		b.metrics.RecordStreamMessage(ctx, msg.Topic, "publish_failed")
		return err
	}
	b.metrics.RecordStreamMessage(ctx, msg.Topic, "published")
	return nil
}

// Subscribe registers h for topic. It must be called before Start.
func (b *RedisBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

func (b *RedisBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return nil
	}

	for topic := range b.handlers {
		if err := b.ensureGroup(ctx, topic); err != nil {
			return err
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	for topic, h := range b.handlers {
		b.wg.Add(1)
		go b.consume(loopCtx, topic, h)
	}
	b.log.Info("stream consumers started",
		zap.String("group", b.cfg.Group),
		zap.String("consumer", b.cfg.Consumer),
		zap.Int("topics", len(b.handlers)),
	)
	return nil
}

func (b *RedisBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *RedisBus) ensureGroup(ctx context.Context, topic string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *RedisBus) consume(ctx context.Context, topic string, h Handler) {
	defer b.wg.Done()
	log := b.log.With(zap.String("topic", topic))
	lastClaim := time.Now()

	for ctx.Err() == nil {
		if time.Since(lastClaim) >= b.cfg.ClaimIdle {
			b.claim(ctx, topic, h)
			lastClaim = time.Now()
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{topic, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("stream read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, s := range streams {
			for _, xm := range s.Messages {
				b.handle(ctx, topic, h, xm)
			}
		}
	}
}

// claim takes over messages another consumer read but never acknowledged.
func (b *RedisBus) claim(ctx context.Context, topic string, h Handler) {
	messages, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   topic,
		Group:    b.cfg.Group,
		Consumer: b.cfg.Consumer,
		MinIdle:  b.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    b.cfg.BatchSize,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			b.log.Warn("stream claim failed", zap.String("topic", topic), zap.Error(err))
		}
		return
	}
	for _, xm := range messages {
		b.handle(ctx, topic, h, xm)
	}
}

func (b *RedisBus) handle(ctx context.Context, topic string, h Handler, xm redis.XMessage) {
	msg, err := decode(topic, xm.Values)
	if err == nil {
		if msg.ID == "" {
			msg.ID = xm.ID
		}
		err = h(ctx, msg)
	}

	fields := []zap.Field{
		zap.String("topic", topic),
		zap.String("entry_id", xm.ID),
		zap.String("message_id", msg.ID),
	}
	switch {
	case err == nil:
		b.ack(ctx, topic, xm.ID)
		b.metrics.RecordStreamMessage(ctx, topic, "processed")
	case errors.Is(err, ErrDiscard), errors.Is(err, ErrMalformedEnvelope), errors.Is(err, ErrUnsupportedEncoding):
		b.log.Warn("discarding message", append(fields, zap.Error(err))...)
		b.ack(ctx, topic, xm.ID)
		b.metrics.RecordStreamMessage(ctx, topic, "discarded")
	default:
		b.log.Error("message processing failed, left pending", append(fields, zap.Error(err))...)
		b.metrics.RecordStreamMessage(ctx, topic, "failed")
	}
}

func (b *RedisBus) ack(ctx context.Context, topic, id string) {
	if err := b.client.XAck(ctx, topic, b.cfg.Group, id).Err(); err != nil {
		b.log.Warn("stream ack failed", zap.String("topic", topic), zap.String("entry_id", id), zap.Error(err))
	}
}

var _ Bus = (*RedisBus)(nil)

package stream

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus delivers messages in process. Publish records the message and
// hands it synchronously to the topic's handler, if any.
type MemoryBus struct {
	log *zap.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	messages map[string][]Message
	seq      int64
}

func NewMemoryBus(log *zap.Logger) *MemoryBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBus{
		log:      log.Named("stream.memory"),
		handlers: make(map[string]Handler),
		messages: make(map[string][]Message),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.Topic) == "" {
		return ErrEmptyTopic
	}

	b.mu.Lock()
	b.seq++
	if msg.ID == "" {
		msg.ID = strconv.FormatInt(b.seq, 10)
	}
	b.messages[msg.Topic] = append(b.messages[msg.Topic], msg)
	h := b.handlers[msg.Topic]
	b.mu.Unlock()

	if h == nil {
		return nil
	}
	if err := h(ctx, msg); err != nil && !errors.Is(err, ErrDiscard) {
		b.log.Error("message processing failed",
			zap.String("topic", msg.Topic),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
}

// Messages returns everything published to topic so far.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages[topic]))
	copy(out, b.messages[topic])
	return out
}

func (b *MemoryBus) Start(context.Context) error { return nil }

func (b *MemoryBus) Stop(context.Context) error { return nil }

var _ Bus = (*MemoryBus)(nil)

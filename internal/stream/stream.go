// Package stream moves messages between the pipeline stages. Topics map to
// Redis streams; consumers share work through a consumer group.
package stream

import (
	"context"
	"errors"
)

var (
	// ErrDiscard tells the consumer to acknowledge a message it could not
	// process. Redelivery would fail the same way.
	ErrDiscard = errors.New("stream_discard")

	ErrEmptyTopic          = errors.New("stream_empty_topic")
	ErrMalformedEnvelope   = errors.New("stream_malformed_envelope")
	ErrUnsupportedEncoding = errors.New("stream_unsupported_encoding")
)

// Message is one record on a topic.
type Message struct {
	ID      string
	Topic   string
	Key     string
	Payload []byte
	Headers map[string]string
}

func (m Message) Header(name string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[name]
}

// WithHeader returns a copy of m with name set to value.
func (m Message) WithHeader(name, value string) Message {
	headers := make(map[string]string, len(m.Headers)+1)
	for k, v := range m.Headers {
		headers[k] = v
	}
	headers[name] = value
	m.Headers = headers
	return m
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Handler processes one message. A nil error or ErrDiscard acknowledges it;
// any other error leaves it pending for redelivery.
type Handler func(ctx context.Context, msg Message) error

type Subscriber interface {
	Subscribe(topic string, h Handler)
}

// Bus is a Publisher and Subscriber with a lifecycle.
type Bus interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

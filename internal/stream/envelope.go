package stream

import (
	"fmt"
	"strings"

	"github.com/golang/snappy"
)

const (
	EncodingNone   = "none"
	EncodingSnappy = "snappy"

	fieldID       = "id"
	fieldKey      = "key"
	fieldPayload  = "payload"
	fieldEncoding = "encoding"
	headerPrefix  = "h:"
)

// encode flattens msg into stream entry fields. Headers are stored as
// "h:<name>" fields next to the payload.
func encode(msg Message, encoding string) (map[string]any, error) {
	payload := msg.Payload
	switch encoding {
	case "", EncodingNone:
		encoding = EncodingNone
	case EncodingSnappy:
		payload = snappy.Encode(nil, msg.Payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}

	values := map[string]any{
		fieldID:       msg.ID,
		fieldPayload:  string(payload),
		fieldEncoding: encoding,
	}
	if msg.Key != "" {
		values[fieldKey] = msg.Key
	}
	for name, value := range msg.Headers {
		values[headerPrefix+name] = value
	}
	return values, nil
}

func decode(topic string, values map[string]any) (Message, error) {
	raw, ok := asBytes(values[fieldPayload])
	if !ok {
		return Message{}, fmt.Errorf("%w: missing payload", ErrMalformedEnvelope)
	}

	encoding, _ := asString(values[fieldEncoding])
	switch encoding {
	case "", EncodingNone:
	case EncodingSnappy:
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		raw = decoded
	default:
		return Message{}, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}

	msg := Message{Topic: topic, Payload: raw}
	msg.ID, _ = asString(values[fieldID])
	msg.Key, _ = asString(values[fieldKey])
	for field, v := range values {
		name, found := strings.CutPrefix(field, headerPrefix)
		if !found {
			continue
		}
		if msg.Headers == nil {
			msg.Headers = make(map[string]string)
		}
		msg.Headers[name], _ = asString(v)
	}
	return msg, nil
}

func asBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case string:
		return []byte(t), true
	case []byte:
		return t, true
	default:
		return nil, false
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}

package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripSnappy(t *testing.T) {
	msg := Message{
		ID:      "42",
		Key:     "org1",
		Payload: []byte(`{"org_id":"org1"}`),
		Headers: map[string]string{"retryAfter": "2026-03-15T13:00:00Z"},
	}

	values, err := encode(msg, EncodingSnappy)
	require.NoError(t, err)
	assert.Equal(t, EncodingSnappy, values[fieldEncoding])
	assert.NotEqual(t, string(msg.Payload), values[fieldPayload])

	got, err := decode("topic", values)
	require.NoError(t, err)
	assert.Equal(t, "topic", got.Topic)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, msg.Key, got.Key)
	assert.Equal(t, msg.Payload, got.Payload)
	assert.Equal(t, "2026-03-15T13:00:00Z", got.Header("retryAfter"))
}

func TestEnvelopeDefaultsToPlainPayload(t *testing.T) {
	values, err := encode(Message{Payload: []byte("plain")}, "")
	require.NoError(t, err)
	assert.Equal(t, EncodingNone, values[fieldEncoding])

	got, err := decode("topic", values)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(got.Payload))
	assert.Empty(t, got.Headers)
}

func TestEnvelopeRejectsBadInput(t *testing.T) {
	_, err := encode(Message{}, "zstd")
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)

	_, err = decode("topic", map[string]any{"id": "1"})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = decode("topic", map[string]any{fieldPayload: "not snappy", fieldEncoding: EncodingSnappy})
	assert.ErrorIs(t, err, ErrMalformedEnvelope)
}

func TestWithHeaderCopies(t *testing.T) {
	orig := Message{Headers: map[string]string{"a": "1"}}
	next := orig.WithHeader("b", "2")

	assert.Equal(t, "", orig.Header("b"))
	assert.Equal(t, "1", next.Header("a"))
	assert.Equal(t, "2", next.Header("b"))
}

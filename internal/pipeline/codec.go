// Package pipeline connects the stream topics to the billing services.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/billableusage/internal/stream"
)

// Codec turns payloads into validated values. Anything that fails to decode
// or validate is wrapped in stream.ErrDiscard since redelivery cannot fix it.
type Codec struct {
	validate *validator.Validate
}

func NewCodec() *Codec {
	return &Codec{validate: validator.New()}
}

func (c *Codec) Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, nil
}

func (c *Codec) Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decode payload: %w", stream.ErrDiscard, err)
	}
	if err := c.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: validate payload: %w", stream.ErrDiscard, err)
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"time"

	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/purge"
	reconciliationdomain "github.com/smallbiznis/billableusage/internal/reconciliation/domain"
	"github.com/smallbiznis/billableusage/internal/stream"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
)

var ErrMissingRetryHeader = errors.New("missing_retry_header")

// Producer publishes every outgoing record of the pipeline.
type Producer struct {
	pub    stream.Publisher
	codec  *Codec
	topics config.StreamConfig
}

func NewProducer(pub stream.Publisher, codec *Codec, cfg config.Config) *Producer {
	return &Producer{pub: pub, codec: codec, topics: cfg.Stream}
}

// Send publishes billable usage for the billing provider adapters.
func (p *Producer) Send(ctx context.Context, msg billabledomain.Message) error {
	return p.publish(ctx, p.topics.BillableUsage, msg.OrgID, msg, nil)
}

// SendRetry parks msg on the retry topic until retryAfter.
func (p *Producer) SendRetry(ctx context.Context, msg billabledomain.Message, retryAfter time.Time) error {
	headers := map[string]string{
		billabledomain.HeaderRetryAfter: retryAfter.UTC().Format(time.RFC3339),
		billabledomain.HeaderKey:        msg.Key().LockKey(),
	}
	return p.publish(ctx, p.topics.BillableRetry, msg.OrgID, msg, headers)
}

func (p *Producer) SendPurge(ctx context.Context, trigger purge.Trigger) error {
	return p.publish(ctx, p.topics.RemittancePurge, trigger.OrgID, trigger, nil)
}

// SendSummary publishes a tally summary. Tally itself lives elsewhere; this
// is used by tooling and tests to feed the pipeline.
func (p *Producer) SendSummary(ctx context.Context, summary usagedomain.TallySummary) error {
	return p.publish(ctx, p.topics.TallySummary, summary.OrgID, summary, nil)
}

func (p *Producer) SendStatus(ctx context.Context, update reconciliationdomain.StatusUpdate) error {
	return p.publish(ctx, p.topics.BillableStatus, update.AggregateKey.OrgID, update, nil)
}

func (p *Producer) publish(ctx context.Context, topic, key string, v any, headers map[string]string) error {
	payload, err := p.codec.Encode(v)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, stream.Message{
		Topic:   topic,
		Key:     key,
		Payload: payload,
		Headers: headers,
	})
}

func parseRetryAfter(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, ErrMissingRetryHeader
	}
	return time.Parse(time.RFC3339, raw)
}

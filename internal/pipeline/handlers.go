package pipeline

import (
	"context"
	"errors"
	"fmt"

	billabledomain "github.com/smallbiznis/billableusage/internal/billable/domain"
	"github.com/smallbiznis/billableusage/internal/config"
	"github.com/smallbiznis/billableusage/internal/purge"
	reconciliationdomain "github.com/smallbiznis/billableusage/internal/reconciliation/domain"
	"github.com/smallbiznis/billableusage/internal/stream"
	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Codec          *Codec
	Config         config.Config
	Billable       billabledomain.Service
	Reconciliation reconciliationdomain.Service
	Purge          *purge.Service
	Log            *zap.Logger
}

// Handlers consume the pipeline topics.
type Handlers struct {
	codec          *Codec
	topics         config.StreamConfig
	billable       billabledomain.Service
	reconciliation reconciliationdomain.Service
	purge          *purge.Service
	log            *zap.Logger
}

func NewHandlers(p Params) *Handlers {
	return &Handlers{
		codec:          p.Codec,
		topics:         p.Config.Stream,
		billable:       p.Billable,
		reconciliation: p.Reconciliation,
		purge:          p.Purge,
		log:            p.Log.Named("pipeline.handlers"),
	}
}

// Register subscribes every handler to its topic.
func (h *Handlers) Register(sub stream.Subscriber) {
	sub.Subscribe(h.topics.TallySummary, h.TallySummary)
	sub.Subscribe(h.topics.BillableStatus, h.BillableStatus)
	sub.Subscribe(h.topics.BillableRetry, h.BillableRetry)
	sub.Subscribe(h.topics.RemittancePurge, h.RemittancePurge)
}

func (h *Handlers) TallySummary(ctx context.Context, msg stream.Message) error {
	var summary usagedomain.TallySummary
	if err := h.codec.Decode(msg.Payload, &summary); err != nil {
		return err
	}
	h.log.Debug("tally summary received",
		zap.String("org_id", summary.OrgID),
		zap.Int("snapshots", len(summary.Snapshots)),
	)
	return h.billable.ProcessSummary(ctx, summary)
}

func (h *Handlers) BillableStatus(ctx context.Context, msg stream.Message) error {
	var update reconciliationdomain.StatusUpdate
	if err := h.codec.Decode(msg.Payload, &update); err != nil {
		return err
	}
	err := h.reconciliation.HandleStatus(ctx, update)
	if errors.Is(err, reconciliationdomain.ErrMalformedStatus) {
		return fmt.Errorf("%w: %w", stream.ErrDiscard, err)
	}
	return err
}

func (h *Handlers) BillableRetry(ctx context.Context, msg stream.Message) error {
	var usage billabledomain.Message
	if err := h.codec.Decode(msg.Payload, &usage); err != nil {
		return err
	}
	retryAfter, err := parseRetryAfter(msg.Header(billabledomain.HeaderRetryAfter))
	if err != nil {
		return fmt.Errorf("%w: retry after header: %w", stream.ErrDiscard, err)
	}
	return h.reconciliation.HandleRetry(ctx, usage, retryAfter)
}

func (h *Handlers) RemittancePurge(ctx context.Context, msg stream.Message) error {
	var trigger purge.Trigger
	if err := h.codec.Decode(msg.Payload, &trigger); err != nil {
		return err
	}
	_, err := h.purge.Purge(ctx, trigger)
	return err
}

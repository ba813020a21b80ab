// Package purge deletes remittances past the retention window.
package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/billableusage/internal/clock"
	"github.com/smallbiznis/billableusage/internal/config"
	obsmetrics "github.com/smallbiznis/billableusage/internal/observability/metrics"
	remittancedomain "github.com/smallbiznis/billableusage/internal/remittance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Trigger asks for one organization's remittances to be purged.
type Trigger struct {
	OrgID string `json:"org_id" validate:"required"`
}

// TriggerProducer sends purge triggers.
type TriggerProducer interface {
	SendPurge(ctx context.Context, trigger Trigger) error
}

type Params struct {
	fx.In

	Repo     remittancedomain.Repository
	Producer TriggerProducer `optional:"true"`
	Clock    clock.Clock
	Config   config.Config
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	repo      remittancedomain.Repository
	producer  TriggerProducer
	clock     clock.Clock
	retention time.Duration
	log       *zap.Logger
	metrics   *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repo,
		producer:  p.Producer,
		clock:     p.Clock,
		retention: p.Config.Remittance.Retention,
		log:       p.Log.Named("purge.service"),
		metrics:   p.Metrics,
	}
}

// Enabled reports whether a retention window is configured.
func (s *Service) Enabled() bool { return s.retention > 0 }

// Purge deletes the organization's remittances older than now minus the
// retention window. Without a retention window nothing is deleted.
func (s *Service) Purge(ctx context.Context, trigger Trigger) (int64, error) {
	orgID := strings.TrimSpace(trigger.OrgID)
	if orgID == "" {
		return 0, remittancedomain.ErrInvalidOrganization
	}
	log := s.log.With(zap.String("org_id", orgID))
	if !s.Enabled() {
		log.Warn("remittance retention not configured, skipping purge")
		return 0, nil
	}

	cutoff := s.clock.Now().Add(-s.retention)
	deleted, err := s.repo.DeleteOlderThan(ctx, orgID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge remittances: %w", err)
	}
	s.metrics.RecordPurge(ctx, deleted)
	log.Info("remittances purged", zap.Time("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}

// PublishTriggers sends one trigger per organization in the ledger.
func (s *Service) PublishTriggers(ctx context.Context) (int, error) {
	if !s.Enabled() {
		s.log.Debug("remittance retention not configured, no purge triggers")
		return 0, nil
	}
	if s.producer == nil {
		return 0, errors.New("purge trigger producer not configured")
	}

	orgIDs, err := s.repo.DistinctOrgIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list organizations: %w", err)
	}

	var (
		sent int
		errs error
	)
	for _, orgID := range orgIDs {
		if err := s.producer.SendPurge(ctx, Trigger{OrgID: orgID}); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: %w", orgID, err))
			continue
		}
		sent++
	}
	return sent, errs
}

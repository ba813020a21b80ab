package service

import (
	"context"
	"sort"
	"strings"

	"github.com/smallbiznis/billableusage/internal/remittance/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo domain.Repository
	Log  *zap.Logger
}

type Service struct {
	repo domain.Repository
	log  *zap.Logger
}

func NewService(p Params) domain.Service {
	return &Service{
		repo: p.Repo,
		log:  p.Log.Named("remittance.service"),
	}
}

func (s *Service) ListRemittances(ctx context.Context, filter domain.Filter) ([]domain.Summary, error) {
	filter.OrgID = strings.TrimSpace(filter.OrgID)
	if filter.OrgID == "" {
		return nil, domain.ErrInvalidOrganization
	}
	if filter.Beginning != nil && filter.Ending != nil && filter.Beginning.After(*filter.Ending) {
		return nil, domain.ErrInvalidDateRange
	}

	rows, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return summarize(rows), nil
}

func (s *Service) ListByTallyID(ctx context.Context, tallyID string) ([]domain.Remittance, error) {
	tallyID = strings.TrimSpace(tallyID)
	if tallyID == "" {
		return nil, domain.ErrInvalidTallyID
	}
	return s.repo.ListByTallyID(ctx, tallyID)
}

func (s *Service) ResetRemittedValue(ctx context.Context, req domain.ResetRequest) (int64, error) {
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return 0, domain.ErrInvalidProduct
	}
	if req.Start.IsZero() || req.End.IsZero() || !req.Start.Before(req.End) {
		return 0, domain.ErrInvalidDateRange
	}
	if (len(req.OrgIDs) > 0) == (len(req.BillingAccountIDs) > 0) {
		return 0, domain.ErrInvalidResetTarget
	}

	n, err := s.repo.ResetRemittedValue(ctx, req)
	if err != nil {
		return 0, err
	}
	s.log.Info("reset remitted value",
		zap.String("product_id", req.ProductID),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.Strings("org_ids", req.OrgIDs),
		zap.Int("billing_accounts", len(req.BillingAccountIDs)),
		zap.Int64("rows", n),
	)
	return n, nil
}

func (s *Service) DeleteByOrgID(ctx context.Context, orgID string) (int64, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return 0, domain.ErrInvalidOrganization
	}
	n, err := s.repo.DeleteByOrgID(ctx, orgID)
	if err != nil {
		return 0, err
	}
	s.log.Info("deleted remittances for org", zap.String("org_id", orgID), zap.Int64("rows", n))
	return n, nil
}

type summaryKey struct {
	key    domain.DimensionKey
	status domain.Status
}

// summarize folds rows into one summary per key and status, keeping the
// order in which keys first appear.
func summarize(rows []domain.Remittance) []domain.Summary {
	index := make(map[summaryKey]int)
	out := make([]domain.Summary, 0)
	for _, row := range rows {
		k := summaryKey{key: row.Key(), status: row.Status}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, domain.Summary{Key: k.key, Status: row.Status})
			i = len(out) - 1
		}
		sum := &out[i]
		sum.RemittedValue = sum.RemittedValue.Add(row.RemittedPendingValue)
		sum.Rows++
		if row.RemittancePendingDate.After(sum.LastRemittanceDate) {
			sum.LastRemittanceDate = row.RemittancePendingDate
		}
		if row.ErrorCode != nil {
			sum.ErrorCode = row.ErrorCode
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Key.AccumulationPeriod < out[b].Key.AccumulationPeriod
	})
	return out
}

package domain

import (
	"context"
	"errors"
	"time"

	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
)

var (
	// ErrServiceUnavailable means the contracts service kept failing after
	// all retries.
	ErrServiceUnavailable = errors.New("contracts_service_unavailable")
	// ErrContractMissing means the lookup succeeded but found no contract.
	ErrContractMissing = errors.New("contract_missing")
	// ErrConfiguration means the candidate cannot be mapped to a contract
	// dimension. Retrying will not help.
	ErrConfiguration = errors.New("contract_configuration")
)

// Contract is a negotiated allotment returned by the contracts service.
type Contract struct {
	StartDate  time.Time   `json:"start_date"`
	EndDate    *time.Time  `json:"end_date,omitempty"`
	Dimensions []Dimension `json:"metrics"`
}

type Dimension struct {
	Name  string  `json:"metric_id"`
	Value float64 `json:"value"`
}

// IsValidAt reports whether the contract covers t: started at or before t
// and not yet ended.
func (c Contract) IsValidAt(t time.Time) bool {
	if c.StartDate.After(t) {
		return false
	}
	return c.EndDate == nil || c.EndDate.After(t)
}

type Query struct {
	OrgID             string
	ProductID         string
	VendorProductCode string
	BillingProvider   usagedomain.BillingProvider
	BillingAccountID  string
	AsOf              time.Time
}

// Client looks up contracts.
type Client interface {
	GetContracts(ctx context.Context, q Query) ([]Contract, error)
}

// Coverage is the contracted amount for one candidate, in billing units.
type Coverage struct {
	Dimension string
	Total     float64
	Gratis    bool
}

type ResolutionKind int

const (
	ResolutionFound ResolutionKind = iota
	ResolutionMissing
	ResolutionServiceError
	ResolutionConfigError
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolutionFound:
		return "found"
	case ResolutionMissing:
		return "missing"
	case ResolutionServiceError:
		return "service_error"
	case ResolutionConfigError:
		return "config_error"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of a coverage lookup. Only Found carries a
// usable Coverage; ServiceError and ConfigError carry the cause.
type Resolution struct {
	Kind     ResolutionKind
	Coverage Coverage
	Err      error
}

func Found(c Coverage) Resolution { return Resolution{Kind: ResolutionFound, Coverage: c} }

func Missing() Resolution {
	return Resolution{Kind: ResolutionMissing, Err: ErrContractMissing}
}

func ServiceError(cause error) Resolution {
	return Resolution{Kind: ResolutionServiceError, Err: errors.Join(ErrServiceUnavailable, cause)}
}

func ConfigError(cause error) Resolution {
	return Resolution{Kind: ResolutionConfigError, Err: errors.Join(ErrConfiguration, cause)}
}

// Resolver resolves contract coverage for usage candidates.
type Resolver interface {
	Resolve(ctx context.Context, candidate usagedomain.UsageCandidate) Resolution
}

// RetryConfig bounds retries of the contracts service.
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     2,
		InitialInterval: time.Second,
		MaxInterval:     64 * time.Second,
		Multiplier:      2,
	}
}

func (c RetryConfig) WithDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = def.InitialInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = def.MaxInterval
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	return c
}

// CoverageFor sums the dimension values of contracts valid at snapshotDate.
// Coverage is gratis when the metric allows it and every valid contract
// started after monthStart.
func CoverageFor(contracts []Contract, dimension string, snapshotDate, monthStart time.Time, gratisEligible bool) Coverage {
	coverage := Coverage{Dimension: dimension}
	valid := 0
	allNew := true
	for _, c := range contracts {
		if !c.IsValidAt(snapshotDate) {
			continue
		}
		valid++
		if !c.StartDate.After(monthStart) {
			allNew = false
		}
		for _, d := range c.Dimensions {
			if d.Name == dimension {
				coverage.Total += d.Value
			}
		}
	}
	coverage.Gratis = gratisEligible && valid > 0 && allNew
	return coverage
}

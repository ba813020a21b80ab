package domain

import (
	"strings"
	"time"
)

type Granularity string

const (
	GranularityHourly    Granularity = "HOURLY"
	GranularityDaily     Granularity = "DAILY"
	GranularityWeekly    Granularity = "WEEKLY"
	GranularityMonthly   Granularity = "MONTHLY"
	GranularityQuarterly Granularity = "QUARTERLY"
	GranularityYearly    Granularity = "YEARLY"
)

// Wildcard is the "any" sentinel tally uses for aggregate rows.
const Wildcard = "_ANY"

type SLA string

const (
	SLAPremium     SLA = "Premium"
	SLAStandard    SLA = "Standard"
	SLASelfSupport SLA = "Self-Support"
	SLAAny         SLA = Wildcard
)

type Usage string

const (
	UsageProduction       Usage = "Production"
	UsageDevelopmentTest  Usage = "Development/Test"
	UsageDisasterRecovery Usage = "Disaster Recovery"
	UsageAny              Usage = Wildcard
)

type BillingProvider string

const (
	BillingProviderRedHat BillingProvider = "red hat"
	BillingProviderAWS    BillingProvider = "aws"
	BillingProviderAzure  BillingProvider = "azure"
	BillingProviderGCP    BillingProvider = "gcp"
	BillingProviderOracle BillingProvider = "oracle"
	BillingProviderAny    BillingProvider = Wildcard
)

// HardwareMeasurementType classifies how a measurement was taken. TOTAL is a
// synthetic aggregate of the other types.
type HardwareMeasurementType string

const (
	HardwareMeasurementPhysical   HardwareMeasurementType = "PHYSICAL"
	HardwareMeasurementVirtual    HardwareMeasurementType = "VIRTUAL"
	HardwareMeasurementHypervisor HardwareMeasurementType = "HYPERVISOR"
	HardwareMeasurementCloud      HardwareMeasurementType = "CLOUD"
	HardwareMeasurementAWS        HardwareMeasurementType = "AWS"
	HardwareMeasurementAzure      HardwareMeasurementType = "AZURE"
	HardwareMeasurementTotal      HardwareMeasurementType = "TOTAL"
)

// TallySummary is a batch of tally snapshots for one organization.
type TallySummary struct {
	OrgID     string          `json:"org_id" validate:"required"`
	Snapshots []TallySnapshot `json:"tally_snapshots" validate:"dive"`
}

type TallySnapshot struct {
	ID               string             `json:"id" validate:"required"`
	ProductID        string             `json:"product_id" validate:"required"`
	SnapshotDate     time.Time          `json:"snapshot_date" validate:"required"`
	Granularity      Granularity        `json:"granularity"`
	SLA              SLA                `json:"sla"`
	Usage            Usage              `json:"usage"`
	BillingProvider  BillingProvider    `json:"billing_provider"`
	BillingAccountID string             `json:"billing_account_id"`
	Measurements     []TallyMeasurement `json:"tally_measurements" validate:"dive"`
}

type TallyMeasurement struct {
	HardwareMeasurementType HardwareMeasurementType `json:"hardware_measurement_type"`
	MetricID                string                  `json:"metric_id" validate:"required"`
	Value                   float64                 `json:"value"`
	// CurrentTotal is the cumulative value for the accounting period up to
	// the snapshot date.
	CurrentTotal float64 `json:"current_total"`
}

// UsageCandidate is one metric of one eligible snapshot.
type UsageCandidate struct {
	OrgID                   string
	TallyID                 string
	ProductID               string
	MetricID                string
	SLA                     SLA
	Usage                   Usage
	BillingProvider         BillingProvider
	BillingAccountID        string
	SnapshotDate            time.Time
	Value                   float64
	CurrentTotal            float64
	HardwareMeasurementType HardwareMeasurementType
}

func (s SLA) IsConcrete() bool { return isConcrete(string(s)) }

func (u Usage) IsConcrete() bool { return isConcrete(string(u)) }

func (p BillingProvider) IsConcrete() bool { return isConcrete(string(p)) }

// IsConcreteAccount reports whether a billing account id names a real account.
func IsConcreteAccount(id string) bool { return isConcrete(id) }

func isConcrete(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	return !strings.EqualFold(value, Wildcard) && !strings.EqualFold(value, "ANY")
}

package mapper

import (
	"slices"
	"testing"
	"time"

	usagedomain "github.com/smallbiznis/billableusage/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eligibilityStub map[string]bool

func (s eligibilityStub) IsPaygEligible(productID string) bool { return s[productID] }

func billableSnapshot() usagedomain.TallySnapshot {
	return usagedomain.TallySnapshot{
		ID:               "tally-1",
		ProductID:        "rosa",
		SnapshotDate:     time.Date(2026, 3, 10, 4, 0, 0, 0, time.UTC),
		Granularity:      usagedomain.GranularityHourly,
		SLA:              usagedomain.SLAPremium,
		Usage:            usagedomain.UsageProduction,
		BillingProvider:  usagedomain.BillingProviderAWS,
		BillingAccountID: "123456789012",
		Measurements: []usagedomain.TallyMeasurement{
			{HardwareMeasurementType: usagedomain.HardwareMeasurementPhysical, MetricID: "Cores", Value: 5, CurrentTotal: 42},
		},
	}
}

func collect(m *Mapper, summary usagedomain.TallySummary) []usagedomain.UsageCandidate {
	return slices.Collect(m.Candidates(summary))
}

func TestCandidatesMapsEligibleSnapshot(t *testing.T) {
	m := New(eligibilityStub{"rosa": true}, nil)

	got := collect(m, usagedomain.TallySummary{OrgID: "org1", Snapshots: []usagedomain.TallySnapshot{billableSnapshot()}})

	require.Len(t, got, 1)
	assert.Equal(t, "org1", got[0].OrgID)
	assert.Equal(t, "tally-1", got[0].TallyID)
	assert.Equal(t, "Cores", got[0].MetricID)
	assert.Equal(t, 42.0, got[0].CurrentTotal)
	assert.Equal(t, usagedomain.HardwareMeasurementPhysical, got[0].HardwareMeasurementType)
}

func TestCandidatesDropsIneligibleSnapshots(t *testing.T) {
	cases := map[string]func(*usagedomain.TallySnapshot){
		"daily granularity":   func(s *usagedomain.TallySnapshot) { s.Granularity = usagedomain.GranularityDaily },
		"any sla":             func(s *usagedomain.TallySnapshot) { s.SLA = usagedomain.SLAAny },
		"empty sla":           func(s *usagedomain.TallySnapshot) { s.SLA = "" },
		"any usage":           func(s *usagedomain.TallySnapshot) { s.Usage = usagedomain.UsageAny },
		"empty usage":         func(s *usagedomain.TallySnapshot) { s.Usage = "" },
		"any provider":        func(s *usagedomain.TallySnapshot) { s.BillingProvider = usagedomain.BillingProviderAny },
		"empty provider":      func(s *usagedomain.TallySnapshot) { s.BillingProvider = "" },
		"empty account":       func(s *usagedomain.TallySnapshot) { s.BillingAccountID = "" },
		"any account":         func(s *usagedomain.TallySnapshot) { s.BillingAccountID = "_ANY" },
		"ANY sentinel":        func(s *usagedomain.TallySnapshot) { s.BillingAccountID = "ANY" },
		"non payg product":    func(s *usagedomain.TallySnapshot) { s.ProductID = "rhel" },
	}

	m := New(eligibilityStub{"rosa": true}, nil)
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			snapshot := billableSnapshot()
			mutate(&snapshot)

			got := collect(m, usagedomain.TallySummary{OrgID: "org1", Snapshots: []usagedomain.TallySnapshot{snapshot}})
			assert.Empty(t, got)
		})
	}
}

func TestCandidatesSkipsTotalMeasurement(t *testing.T) {
	snapshot := billableSnapshot()
	snapshot.Measurements = []usagedomain.TallyMeasurement{
		{HardwareMeasurementType: usagedomain.HardwareMeasurementPhysical, MetricID: "Cores", Value: 5, CurrentTotal: 5},
		{HardwareMeasurementType: usagedomain.HardwareMeasurementTotal, MetricID: "Cores", Value: 5, CurrentTotal: 5},
	}
	m := New(eligibilityStub{"rosa": true}, nil)

	got := collect(m, usagedomain.TallySummary{OrgID: "org1", Snapshots: []usagedomain.TallySnapshot{snapshot}})

	require.Len(t, got, 1)
	assert.Equal(t, usagedomain.HardwareMeasurementPhysical, got[0].HardwareMeasurementType)
}

func TestCandidatesPreservesSnapshotOrder(t *testing.T) {
	first := billableSnapshot()
	second := billableSnapshot()
	second.ID = "tally-2"
	second.Measurements[0].MetricID = "Instance-hours"
	m := New(eligibilityStub{"rosa": true}, nil)

	got := collect(m, usagedomain.TallySummary{OrgID: "org1", Snapshots: []usagedomain.TallySnapshot{first, second}})

	require.Len(t, got, 2)
	assert.Equal(t, "tally-1", got[0].TallyID)
	assert.Equal(t, "tally-2", got[1].TallyID)
}

func TestCandidatesStopsWhenConsumerStops(t *testing.T) {
	snapshot := billableSnapshot()
	snapshot.Measurements = append(snapshot.Measurements, usagedomain.TallyMeasurement{
		HardwareMeasurementType: usagedomain.HardwareMeasurementVirtual, MetricID: "Cores", CurrentTotal: 1,
	})
	m := New(eligibilityStub{"rosa": true}, nil)

	seen := 0
	for range m.Candidates(usagedomain.TallySummary{OrgID: "org1", Snapshots: []usagedomain.TallySnapshot{snapshot}}) {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

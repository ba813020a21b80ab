package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billableusage/internal/remittance/domain"
	"github.com/smallbiznis/billableusage/internal/remittance/remittancetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var march = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestGetTotalRemittedSumsRowsForKey(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	total, err := r.GetTotalRemitted(ctx, key)
	require.NoError(t, err)
	assert.True(t, total.IsZero())

	require.NoError(t, r.Create(ctx, remittancetest.Row(node, key, 8, march)))
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, key, 4, march.Add(time.Hour))))

	other := key
	other.MetricID = "Instance-hours"
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, other, 100, march)))

	total, err = r.GetTotalRemitted(ctx, key)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(12)), "total %s", total)
}

func TestGetTotalRemittedExcludesFailuresWithoutRetry(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	failed := remittancetest.Row(node, key, 5, march)
	failed.Status = domain.StatusFailed
	retrying := remittancetest.Row(node, key, 7, march)
	retrying.Status = domain.StatusFailed
	retryAt := march.Add(time.Hour)
	retrying.RetryAfter = &retryAt
	require.NoError(t, r.Create(ctx, failed))
	require.NoError(t, r.Create(ctx, retrying))
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, key, 3, march)))

	total, err := r.GetTotalRemitted(ctx, key)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(10)), "total %s", total)
}

func TestCreateAssignsSequence(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	first := remittancetest.Row(node, key, 1, march)
	second := remittancetest.Row(node, key, 1, march)
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, second))

	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, 2, second.Sequence)
}

func TestInsertSameSequenceIsConcurrentRemittance(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	first := remittancetest.Row(node, key, 1, march)
	first.Sequence = 1
	require.NoError(t, r.Insert(ctx, first))

	racer := remittancetest.Row(node, key, 1, march)
	racer.Sequence = 1
	err := r.Insert(ctx, racer)
	assert.ErrorIs(t, err, domain.ErrConcurrentRemittance)
}

func TestGetRunningTotalCountsSequenceOfExcludedRows(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	failed := remittancetest.Row(node, key, 5, march)
	failed.Status = domain.StatusFailed
	require.NoError(t, r.Create(ctx, failed))
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, key, 3, march)))

	running, err := r.GetRunningTotal(ctx, key)
	require.NoError(t, err)
	assert.True(t, running.Total.Equal(decimal.NewFromInt(3)), "total %s", running.Total)
	assert.Equal(t, 2, running.LastSequence)
	assert.Equal(t, 3, running.NextSequence())
}

func TestCreateAfterStaleTotalIsConcurrentRemittance(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	seen, err := r.GetRunningTotal(ctx, key)
	require.NoError(t, err)
	require.True(t, seen.Total.IsZero())

	// another writer appends after seen was read
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, key, 10, march)))

	err = r.CreateAfter(ctx, remittancetest.Row(node, key, 10, march), seen)
	assert.ErrorIs(t, err, domain.ErrConcurrentRemittance)

	total, err := r.GetTotalRemitted(ctx, key)
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.NewFromInt(10)), "total %s", total)
}

func TestCreateRejectsIncompleteKey(t *testing.T) {
	node := remittancetest.Node(t)
	r := Provide(remittancetest.NewDB(t))
	key := remittancetest.Key("org1")
	key.BillingAccountID = ""

	err := r.Create(context.Background(), remittancetest.Row(node, key, 1, march))
	assert.ErrorIs(t, err, domain.ErrInvalidDimensionKey)
}

func TestUpdateStatusByUUIDsSkipsTerminalRows(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	pending := remittancetest.Row(node, key, 1, march)
	succeeded := remittancetest.Row(node, key, 1, march)
	succeeded.Status = domain.StatusSucceeded
	gratis := remittancetest.Row(node, key, 1, march)
	gratis.Status = domain.StatusGratis
	for _, row := range []*domain.Remittance{pending, succeeded, gratis} {
		require.NoError(t, r.Create(ctx, row))
	}

	code := domain.ErrorCodeInactive
	billedOn := march.Add(2 * time.Hour)
	n, err := r.UpdateStatusByUUIDs(ctx, []string{pending.UUID, succeeded.UUID, gratis.UUID}, domain.StatusChange{
		Status:    domain.StatusFailed,
		ErrorCode: &code,
		BilledOn:  &billedOn,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindByUUID(ctx, pending.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, domain.ErrorCodeInactive, *got.ErrorCode)
	require.NotNil(t, got.BilledOn)

	got, err = r.FindByUUID(ctx, succeeded.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSucceeded, got.Status)

	got, err = r.FindByUUID(ctx, gratis.UUID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGratis, got.Status)
}

func TestDeleteOlderThanKeepsRowsAtCutoff(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	cutoff := march

	old := remittancetest.Row(node, remittancetest.Key("org1"), 1, cutoff.Add(-time.Second))
	atCutoff := remittancetest.Row(node, remittancetest.Key("org1"), 1, cutoff)
	otherOrg := remittancetest.Row(node, remittancetest.Key("org2"), 1, cutoff.Add(-time.Hour))
	for _, row := range []*domain.Remittance{old, atCutoff, otherOrg} {
		require.NoError(t, r.Create(ctx, row))
	}

	n, err := r.DeleteOlderThan(ctx, "org1", cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindByUUID(ctx, old.UUID)
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = r.FindByUUID(ctx, atCutoff.UUID)
	require.NoError(t, err)
	assert.NotNil(t, got)
	got, err = r.FindByUUID(ctx, otherOrg.UUID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestSetRetryAfterAndListRetryable(t *testing.T) {
	ctx := context.Background()
	conn := remittancetest.NewDB(t)
	node := remittancetest.Node(t)
	r := Provide(conn)
	key := remittancetest.Key("org1")

	due := remittancetest.Row(node, key, 1, march)
	later := remittancetest.Row(node, key, 1, march)
	untouched := remittancetest.Row(node, key, 1, march)
	for _, row := range []*domain.Remittance{due, later, untouched} {
		require.NoError(t, r.Create(ctx, row))
	}

	dueAt := march.Add(time.Hour)
	laterAt := march.Add(3 * time.Hour)
	require.NoError(t, r.SetRetryAfter(ctx, due.ID, &dueAt, domain.StatusRetryable))
	require.NoError(t, r.SetRetryAfter(ctx, later.ID, &laterAt, ""))

	rows, err := r.ListRetryable(ctx, march.Add(2*time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.UUID, rows[0].UUID)
	assert.Equal(t, domain.StatusRetryable, rows[0].Status)

	require.NoError(t, r.SetRetryAfter(ctx, due.ID, nil, domain.StatusPending))
	rows, err = r.ListRetryable(ctx, march.Add(2*time.Hour), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, r.SetRetryAfter(ctx, node.Generate(), &dueAt, ""), domain.ErrRemittanceNotFound)
}

func TestFindLatestByKey(t *testing.T) {
	ctx := context.Background()
	node := remittancetest.Node(t)
	r := Provide(remittancetest.NewDB(t))
	key := remittancetest.Key("org1")

	got, err := r.FindLatestByKey(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	first := remittancetest.Row(node, key, 1, march)
	second := remittancetest.Row(node, key, 2, march)
	require.NoError(t, r.Create(ctx, first))
	require.NoError(t, r.Create(ctx, second))

	got, err = r.FindLatestByKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.UUID, got.UUID)
}

func TestResetRemittedValueByOrg(t *testing.T) {
	ctx := context.Background()
	node := remittancetest.Node(t)
	r := Provide(remittancetest.NewDB(t))

	inWindow := remittancetest.Row(node, remittancetest.Key("org1"), 9, march)
	outside := remittancetest.Row(node, remittancetest.Key("org1"), 9, march.AddDate(0, 1, 0))
	otherOrg := remittancetest.Row(node, remittancetest.Key("org2"), 9, march)
	for _, row := range []*domain.Remittance{inWindow, outside, otherOrg} {
		require.NoError(t, r.Create(ctx, row))
	}

	n, err := r.ResetRemittedValue(ctx, domain.ResetRequest{
		ProductID: "rosa",
		Start:     march.Add(-time.Hour),
		End:       march.Add(time.Hour),
		OrgIDs:    []string{"org1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := r.FindByUUID(ctx, inWindow.UUID)
	require.NoError(t, err)
	assert.True(t, got.RemittedPendingValue.IsZero())
	got, err = r.FindByUUID(ctx, otherOrg.UUID)
	require.NoError(t, err)
	assert.True(t, got.RemittedPendingValue.Equal(decimal.NewFromInt(9)))
}

func TestListFiltersAndDistinctOrgs(t *testing.T) {
	ctx := context.Background()
	node := remittancetest.Node(t)
	r := Provide(remittancetest.NewDB(t))

	require.NoError(t, r.Create(ctx, remittancetest.Row(node, remittancetest.Key("org1"), 1, march)))
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, remittancetest.Key("org1"), 1, march.AddDate(0, 0, 5))))
	require.NoError(t, r.Create(ctx, remittancetest.Row(node, remittancetest.Key("org2"), 1, march)))

	ending := march.AddDate(0, 0, 1)
	rows, err := r.List(ctx, domain.Filter{OrgID: "org1", ProductID: "rosa", Ending: &ending})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	orgs, err := r.DistinctOrgIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"org1", "org2"}, orgs)

	n, err := r.DeleteByOrgID(ctx, "org2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

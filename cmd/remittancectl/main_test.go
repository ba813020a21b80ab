package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/smallbiznis/billableusage/internal/remittance/remittancetest"
	remittancerepo "github.com/smallbiznis/billableusage/internal/remittance/repository"
	remittanceservice "github.com/smallbiznis/billableusage/internal/remittance/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunCommands(t *testing.T) {
	conn := remittancetest.NewDB(t)
	repo := remittancerepo.Provide(conn)
	node := remittancetest.Node(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	row := remittancetest.Row(node, remittancetest.Key("org1"), 8, at)
	row.Sequence = 1
	require.NoError(t, repo.Insert(ctx, row))

	svc := remittanceservice.NewService(remittanceservice.Params{Repo: repo, Log: zap.NewNop()})

	var out bytes.Buffer
	require.NoError(t, run(ctx, svc, "tally", []string{"-id", "tally-1"}, &out))
	assert.Contains(t, out.String(), row.UUID)

	out.Reset()
	require.NoError(t, run(ctx, svc, "reset", []string{
		"-product", "rosa",
		"-start", "2026-03-01T00:00:00Z",
		"-end", "2026-04-01T00:00:00Z",
		"-orgs", "org1",
	}, &out))
	var updated map[string]int64
	require.NoError(t, json.Unmarshal(out.Bytes(), &updated))
	assert.Equal(t, int64(1), updated["updated"])

	out.Reset()
	require.NoError(t, run(ctx, svc, "delete-org", []string{"-org", "org1"}, &out))
	var deleted map[string]int64
	require.NoError(t, json.Unmarshal(out.Bytes(), &deleted))
	assert.Equal(t, int64(1), deleted["deleted"])
}

func TestRunRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	assert.ErrorIs(t, run(ctx, nil, "frobnicate", nil, &out), errUsage)
	assert.ErrorIs(t, run(ctx, nil, "reset", []string{"-product", "rosa"}, &out), errUsage)

	_, err := optionalTime("yesterday")
	assert.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-approvals/internal/common/auth"
	"github.com/pesio-ai/be-proc-approvals/internal/common/logger"
	"github.com/pesio-ai/be-proc-approvals/internal/config"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
	"github.com/pesio-ai/be-proc-approvals/internal/service"
)

const filePolicy = `
thresholds:
  - id: any
    minAmount: 0
    currency: USD
    requiredRole: CAPTAIN
    approverLevel: 1
    budgetHierarchy: VESSEL
`

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("APPROVALS_DATABASE_DRIVER", "memory")
	t.Setenv("APPROVALS_NATS_ENABLED", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestBuildInMemory(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(t), logger.Nop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.PolicySource)
	assert.Nil(t, a.Temporal)
	assert.Len(t, a.Policies.Current().Thresholds, 4)

	crew := auth.Principal{UserID: "u-crew", Role: "CREW", VesselIDs: []string{"v-1"}}
	ctx := context.Background()
	req, err := a.Approvals.CreateDraft(ctx, crew, service.CreateRequest{
		VesselID: "v-1", Amount: decimal.NewFromInt(120), Currency: "USD",
	})
	require.NoError(t, err)
	res, err := a.Approvals.Submit(ctx, crew, req.ID, "")
	require.NoError(t, err)
	assert.Equal(t, repository.StateAutoApproved, res.Requisition.State)

	report, err := a.Sweeper.Run(ctx, res.Requisition.UpdatedAt)
	require.NoError(t, err)
	assert.Zero(t, report.ExpiredOverrides)

	acts := a.Activities()
	assert.Same(t, a.Sweeper, acts.Sweeper)
}

func TestBuildWithFilePolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(filePolicy), 0o600))
	t.Setenv("APPROVALS_POLICY_SOURCE", "file")
	t.Setenv("APPROVALS_POLICY_FILE", path)

	a, err := Build(context.Background(), memoryConfig(t), logger.Nop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.PolicySource)
	assert.Len(t, a.Policies.Current().Thresholds, 1)
}

func TestBuildFailsOnBadPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds: [}"), 0o600))
	t.Setenv("APPROVALS_POLICY_SOURCE", "file")
	t.Setenv("APPROVALS_POLICY_FILE", path)

	_, err := Build(context.Background(), memoryConfig(t), logger.Nop(), Options{})
	assert.Error(t, err)
}

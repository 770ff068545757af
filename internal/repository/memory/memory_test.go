package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-proc-approvals/internal/common/errors"
	"github.com/pesio-ai/be-proc-approvals/internal/repository"
)

func TestRequisitionsConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewRequisitions()

	r := &repository.Requisition{VesselID: "v-1", Amount: decimal.NewFromInt(10), Currency: "USD", Tags: []string{"a"}}
	require.NoError(t, store.Create(ctx, r))
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, repository.StateDraft, r.State)
	assert.Equal(t, int64(1), r.Version)

	first, err := store.GetByID(ctx, r.ID)
	require.NoError(t, err)
	second, err := store.GetByID(ctx, r.ID)
	require.NoError(t, err)

	first.Tags[0] = "mutated"
	first.State = repository.StateSubmitted
	require.NoError(t, store.UpdateState(ctx, first, repository.StateDraft, 1))
	assert.Equal(t, int64(2), first.Version)

	second.State = repository.StateSubmitted
	err = store.UpdateState(ctx, second, repository.StateDraft, 1)
	assert.ErrorIs(t, err, errors.ErrConflictingTransition)

	stored, _ := store.GetByID(ctx, r.ID)
	assert.Equal(t, repository.StateSubmitted, stored.State)
	assert.Equal(t, "mutated", stored.Tags[0])
	assert.Equal(t, []string{"a"}, r.Tags, "caller's slice is not shared with the store")

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestOverridesLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewOverrides()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	o := &repository.EmergencyOverride{UserID: "u-1", VesselID: "v-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.Create(ctx, o))

	active, err := store.ListActiveByUser(ctx, "u-1", now)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	expired, err := store.DeactivateExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	expired, err = store.DeactivateExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)

	changed, err := store.Deactivate(ctx, o.ID, "manual", now)
	require.NoError(t, err)
	assert.False(t, changed)

	recorded, err := store.RecordPostApproval(ctx, o.ID, "u-2", "ok", now)
	require.NoError(t, err)
	assert.True(t, recorded)
	recorded, err = store.RecordPostApproval(ctx, o.ID, "u-3", "again", now)
	require.NoError(t, err)
	assert.False(t, recorded)
}

func TestAuditOrder(t *testing.T) {
	ctx := context.Background()
	audit := NewAudit()
	for _, to := range []repository.State{repository.StateSubmitted, repository.StateAwaitingApproval} {
		require.NoError(t, audit.AppendTransition(ctx, &repository.TransitionEntry{RequisitionID: "r", ToState: to}))
	}
	require.NoError(t, audit.AppendTransition(ctx, &repository.TransitionEntry{RequisitionID: "other"}))

	entries, err := audit.ListTransitions(ctx, "r")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, repository.StateSubmitted, entries[0].ToState)
	assert.Equal(t, repository.StateAwaitingApproval, entries[1].ToState)
}

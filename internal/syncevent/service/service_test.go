package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/internal/syncevent/repository"
	"github.com/smallbiznis/possync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:         testutil.OpenDB(t),
		Log:        zap.NewNop(),
		GenID:      testutil.Node(t),
		Clock:      clk,
		Repo:       repository.Provide(),
		SyncConfig: config.NewStaticSyncConfigHolder(config.DefaultSyncConfig()),
	})
	return svc, clk
}

func TestBeginRejectsSecondRunForSameLocation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, first.Status)

	_, err = svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePush, LocationCode: "001"})
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	// other type and other location are independent slots
	_, err = svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
	_, err = svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePush, LocationCode: "002"})
	require.NoError(t, err)
}

func TestCompleteIsTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePull, LocationCode: "001"})
	require.NoError(t, err)

	done, err := svc.Complete(ctx, event.ID, domain.Outcome{
		Success: true,
		Details: domain.Details{ClientsSynced: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, done.Status)
	assert.Nil(t, done.ClaimKey)
	assert.NotNil(t, done.CompletedAt)
	assert.Equal(t, 3, done.Details.Data().ClientsSynced)

	_, err = svc.Complete(ctx, event.ID, domain.Outcome{Success: false, Comment: "late"})
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)

	stored, err := svc.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)

	// the slot is free again
	_, err = svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
}

func TestFindLastSuccessfulPicksNewest(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	var lastID string
	for i := 0; i < 3; i++ {
		event, err := svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePull, LocationCode: "001"})
		require.NoError(t, err)
		_, err = svc.Complete(ctx, event.ID, domain.Outcome{Success: true})
		require.NoError(t, err)
		lastID = event.ID.String()
		clk.Advance(time.Hour)
	}
	failed, err := svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
	_, err = svc.Complete(ctx, failed.ID, domain.Outcome{Success: false, Comment: "boom"})
	require.NoError(t, err)

	last, err := svc.FindLastSuccessful(ctx, domain.TypePull, "001")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, lastID, last.ID.String())

	none, err := svc.FindLastSuccessful(ctx, domain.TypePush, "001")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPendingLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	older, err := svc.CreatePending(ctx, domain.CreatePendingRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)
	newer, err := svc.CreatePending(ctx, domain.CreatePendingRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx, domain.TypePush)
	require.NoError(t, err)
	assert.Empty(t, pending, "events without uploaded files are not listed")

	require.NoError(t, svc.MarkUploaded(ctx, older.ID))
	require.NoError(t, svc.MarkUploaded(ctx, newer.ID))
	pending, err = svc.ListPending(ctx, domain.TypePush)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, svc.Supersede(ctx, older.ID, newer.ID))
	superseded, err := svc.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, superseded.Status)
	assert.Contains(t, superseded.Comment, "superseded")
	assert.Contains(t, superseded.Comment, "newer sync event exists")
	assert.ErrorIs(t, svc.Supersede(ctx, older.ID, newer.ID), domain.ErrNotPending)

	claimed, err := svc.Claim(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, claimed.Status)

	_, err = svc.Claim(ctx, newer.ID)
	assert.ErrorIs(t, err, domain.ErrNotPending)
}

func TestRecoverStaleReleasesClaim(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	stuck, err := svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)

	n, err := svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(3 * time.Hour)
	n, err = svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recovered, err := svc.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, recovered.Status)
	assert.Contains(t, recovered.Comment, "stale")

	_, err = svc.Begin(ctx, domain.BeginRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)
}

func TestRecoverStaleFailsAbandonedPending(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	abandoned, err := svc.CreatePending(ctx, domain.CreatePendingRequest{Type: domain.TypePush, LocationCode: "001"})
	require.NoError(t, err)
	uploaded, err := svc.CreatePending(ctx, domain.CreatePendingRequest{Type: domain.TypePush, LocationCode: "002"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkUploaded(ctx, uploaded.ID))

	unfinished, err := svc.ListUnfinishedUploads(ctx, domain.TypePush)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, abandoned.ID, unfinished[0].ID)

	clk.Advance(3 * time.Hour)
	n, err := svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	failed, err := svc.Get(ctx, abandoned.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	waiting, err := svc.Get(ctx, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, waiting.Status, "uploaded events wait for ingestion")
}

func TestBeginValidatesType(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Begin(context.Background(), domain.BeginRequest{Type: "SIDEWAYS"})
	if !errors.Is(err, domain.ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

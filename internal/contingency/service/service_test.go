package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/contingency/domain"
	"github.com/smallbiznis/possync/internal/contingency/repository"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	refrepo "github.com/smallbiznis/possync/internal/reference/repository"
	refservice "github.com/smallbiznis/possync/internal/reference/service"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	syncrepo "github.com/smallbiznis/possync/internal/syncevent/repository"
	syncservice "github.com/smallbiznis/possync/internal/syncevent/service"
	"github.com/smallbiznis/possync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	clock  *clock.FakeClock
	ledger syncdomain.Service
	svc    domain.Service
	user   refdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	log := zap.NewNop()

	ledger := syncservice.New(syncservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: syncrepo.Provide(), SyncConfig: holder,
	})
	reference := refservice.New(refservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: refrepo.Provide(),
	})

	user := refdomain.User{
		ID:           node.Generate(),
		Username:     "jperez",
		FullName:     "Juan Pérez",
		Role:         refdomain.RoleCashier,
		LocationCode: "001",
		Active:       true,
		CreatedAt:    clk.Now(),
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&refdomain.SystemParameter{
		Code: refdomain.ParamLocationCode, Value: "001", UpdatedAt: clk.Now(),
	}).Error)

	svc := New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		Ledger:     ledger,
		Reference:  reference,
		SyncConfig: holder,
	})

	return &fixture{db: db, clock: clk, ledger: ledger, svc: svc, user: user}
}

func (f *fixture) pull(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	event, err := f.ledger.Begin(ctx, syncdomain.BeginRequest{Type: syncdomain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
	_, err = f.ledger.Complete(ctx, event.ID, syncdomain.Outcome{Success: true})
	require.NoError(t, err)
}

func (f *fixture) countOpen(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&domain.Contingency{}).Where("ended_at IS NULL").Count(&n).Error)
	return n
}

func TestStartSnapshotsUserAndLocation(t *testing.T) {
	f := newFixture(t)
	f.pull(t)
	ctx := context.Background()

	c, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)
	assert.Equal(t, "001", c.LocationCode)
	assert.Equal(t, "Juan Pérez", c.StartedByName)
	require.NotNil(t, c.StartedByID)
	assert.Equal(t, f.user.ID, *c.StartedByID)
	assert.NotNil(t, c.LocationID)
	assert.True(t, c.IsOpen())

	// renaming the user later does not touch the snapshot
	require.NoError(t, f.db.Model(&refdomain.User{}).Where("id = ?", f.user.ID).Update("full_name", "Otro Nombre").Error)
	stored, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Juan Pérez", stored.StartedByName)
}

func TestStartRequiresFreshReferenceSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	assert.ErrorIs(t, err, domain.ErrNoReferenceSync)

	f.pull(t)
	f.clock.Advance(4 * 24 * time.Hour)
	_, err = f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	assert.ErrorIs(t, err, domain.ErrSyncTooOld)

	f.pull(t)
	_, err = f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)
}

func TestStartRequiresLocationParameter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Where("code = ?", refdomain.ParamLocationCode).Delete(&refdomain.SystemParameter{}).Error)

	_, err := f.svc.Start(context.Background(), domain.StartRequest{UserID: f.user.ID})
	assert.ErrorIs(t, err, refdomain.ErrLocationNotConfigured)
}

func TestStartWhileOpenFails(t *testing.T) {
	f := newFixture(t)
	f.pull(t)
	ctx := context.Background()

	first, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	var already *domain.AlreadyOpenError
	require.True(t, errors.As(err, &already), "expected AlreadyOpenError, got %v", err)
	assert.Equal(t, first.ID, already.Open.ID)
}

func TestOpenSlotRejectsDirectSecondInsert(t *testing.T) {
	f := newFixture(t)
	repo := repository.Provide()
	ctx := context.Background()
	slot := 1

	require.NoError(t, repo.Insert(ctx, f.db, &domain.Contingency{
		ID: 1, LocationCode: "001", StartedAt: f.clock.Now(), OpenSlot: &slot, CreatedAt: f.clock.Now(),
	}))
	err := repo.Insert(ctx, f.db, &domain.Contingency{
		ID: 2, LocationCode: "001", StartedAt: f.clock.Now(), OpenSlot: &slot, CreatedAt: f.clock.Now(),
	})
	assert.Error(t, err)
}

func TestEndWithoutOpenContingency(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.End(context.Background())
	assert.Nil(t, c)
	assert.ErrorIs(t, err, domain.ErrNoOpenContingency)
}

func TestAtMostOneOpenContingencyAcrossSequences(t *testing.T) {
	f := newFixture(t)
	f.pull(t)
	ctx := context.Background()

	// start/end sequence with repeated and out-of-order calls
	ops := []string{"start", "start", "end", "end", "start", "end", "start", "start", "end", "start"}
	for i, op := range ops {
		f.clock.Advance(time.Minute)
		switch op {
		case "start":
			_, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
			var already *domain.AlreadyOpenError
			if err != nil && !errors.As(err, &already) {
				t.Fatalf("op %d: unexpected error %v", i, err)
			}
		case "end":
			_, err := f.svc.End(ctx)
			if err != nil && !errors.Is(err, domain.ErrNoOpenContingency) {
				t.Fatalf("op %d: unexpected error %v", i, err)
			}
		}
		assert.LessOrEqual(t, f.countOpen(t), int64(1), "after op %d", i)
	}

	open, err := f.svc.GetOpen(ctx, domain.Scope{})
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, int64(1), f.countOpen(t))
}

func TestListForPushSelection(t *testing.T) {
	f := newFixture(t)
	f.pull(t)
	ctx := context.Background()

	var closed []domain.Contingency
	for i := 0; i < 3; i++ {
		_, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
		c, err := f.svc.End(ctx)
		require.NoError(t, err)
		closed = append(closed, *c)
		f.clock.Advance(time.Hour)
	}
	open, err := f.svc.Start(ctx, domain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)

	all, err := f.svc.ListForPush(ctx, domain.ListForPushRequest{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	sinceAll, err := f.svc.ListForPush(ctx, domain.ListForPushRequest{})
	require.NoError(t, err)
	require.Len(t, sinceAll, 3)
	for i := range sinceAll {
		assert.Equal(t, closed[i].ID, sinceAll[i].ID)
	}

	since := *closed[0].EndedAt
	recent, err := f.svc.ListForPush(ctx, domain.ListForPushRequest{Since: &since})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, closed[1].ID, recent[0].ID)

	explicit, err := f.svc.ListForPush(ctx, domain.ListForPushRequest{ContingencyID: open.ID})
	require.NoError(t, err)
	require.Len(t, explicit, 1)
	assert.Equal(t, open.ID, explicit[0].ID)
}

func TestImportReplicaIsKeyedBySource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := f.clock.Now().Add(-2 * time.Hour)

	first, err := f.svc.ImportReplica(ctx, domain.ImportReplicaRequest{
		SourceID:      42,
		LocationCode:  "007",
		StartedAt:     started,
		StartedByName: "Ana",
	})
	require.NoError(t, err)
	assert.Nil(t, first.EndedAt)
	assert.Nil(t, first.OpenSlot)

	ended := f.clock.Now()
	second, err := f.svc.ImportReplica(ctx, domain.ImportReplicaRequest{
		SourceID:      42,
		LocationCode:  "007",
		StartedAt:     started,
		EndedAt:       &ended,
		StartedByName: "Ana",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	require.NotNil(t, second.EndedAt)

	// replicas never count as the node's open contingency
	open, err := f.svc.GetOpen(ctx, domain.Scope{})
	require.NoError(t, err)
	assert.Nil(t, open)

	_, err = f.svc.ImportReplica(ctx, domain.ImportReplicaRequest{LocationCode: "007"})
	assert.ErrorIs(t, err, domain.ErrInvalidReplica)
}

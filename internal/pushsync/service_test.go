package pushsync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	clientrepo "github.com/smallbiznis/possync/internal/client/repository"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	contingencyrepo "github.com/smallbiznis/possync/internal/contingency/repository"
	contingencyservice "github.com/smallbiznis/possync/internal/contingency/service"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	refrepo "github.com/smallbiznis/possync/internal/reference/repository"
	refservice "github.com/smallbiznis/possync/internal/reference/service"
	"github.com/smallbiznis/possync/internal/remote"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	salesrepo "github.com/smallbiznis/possync/internal/sales/repository"
	salesservice "github.com/smallbiznis/possync/internal/sales/service"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	syncrepo "github.com/smallbiznis/possync/internal/syncevent/repository"
	syncservice "github.com/smallbiznis/possync/internal/syncevent/service"
	"github.com/smallbiznis/possync/internal/testutil"
	"github.com/smallbiznis/possync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeAdmin validates uploads the way the admin endpoint does.
type fakeAdmin struct {
	startErr  error
	uploadErr map[transfer.Kind]error
	dataRows  map[transfer.Kind]int
	completed []int64
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{uploadErr: map[transfer.Kind]error{}, dataRows: map[transfer.Kind]int{}}
}

func (f *fakeAdmin) StartPush(context.Context, string) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	return 42, nil
}

func (f *fakeAdmin) Upload(_ context.Context, _ int64, kind transfer.Kind, path string) (remote.UploadResponse, error) {
	if err := f.uploadErr[kind]; err != nil {
		return remote.UploadResponse{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return remote.UploadResponse{}, err
	}
	f.dataRows[kind] = strings.Count(string(data), "\n") - 1

	res, err := transfer.Validate(kind, bytes.NewReader(data))
	if err != nil {
		return remote.UploadResponse{}, err
	}
	count := res.Processed
	return remote.UploadResponse{Count: &count, Errors: res.ErrorStrings("")}, nil
}

func (f *fakeAdmin) CompletePush(_ context.Context, id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

type fixture struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	ledger      syncdomain.Service
	contingency contingencydomain.Service
	sales       salesdomain.Service
	reference   refdomain.Service
	user        refdomain.User
	admin       *fakeAdmin
	svc         *Service
	tempDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticSyncConfigHolder(config.DefaultSyncConfig())
	log := zap.NewNop()

	ledger := syncservice.New(syncservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: syncrepo.Provide(), SyncConfig: holder,
	})
	reference := refservice.New(refservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: refrepo.Provide(),
	})
	contingency := contingencyservice.New(contingencyservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: contingencyrepo.Provide(),
		Ledger: ledger, Reference: reference, SyncConfig: holder,
	})
	sales := salesservice.New(salesservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: salesrepo.Provide(),
		Clients: clientrepo.Provide(), Registry: contingency, Reference: reference, SyncConfig: holder,
	})

	user := refdomain.User{
		ID: node.Generate(), Username: "cajero", FullName: "Ana Díaz",
		Role: refdomain.RoleCashier, LocationCode: "001", Active: true, CreatedAt: clk.Now(),
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&refdomain.SystemParameter{
		Code: refdomain.ParamLocationCode, Value: "001", UpdatedAt: clk.Now(),
	}).Error)
	require.NoError(t, db.Create(&clientdomain.Client{
		RUT: "112223334", FullName: "Pedro Rojas", CreditLimit: 900000, CreditAvailable: 900000, UpdatedAt: clk.Now(),
	}).Error)

	pull, err := ledger.Begin(context.Background(), syncdomain.BeginRequest{Type: syncdomain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
	_, err = ledger.Complete(context.Background(), pull.ID, syncdomain.Outcome{Success: true})
	require.NoError(t, err)

	tempDir := t.TempDir()
	admin := newFakeAdmin()
	svc := NewWithAdmin(Params{
		Config:      config.Config{TempDir: tempDir},
		Log:         log,
		Clock:       clk,
		Ledger:      ledger,
		Contingency: contingency,
		Sales:       sales,
		Reference:   reference,
	}, admin)

	return &fixture{
		db: db, clock: clk, ledger: ledger, contingency: contingency, sales: sales, reference: reference,
		user: user, admin: admin, svc: svc, tempDir: tempDir,
	}
}

// closedContingency records sales and payments inside one contingency and ends it.
func (f *fixture) closedContingency(t *testing.T, sales, payments int) *contingencydomain.Contingency {
	t.Helper()
	ctx := context.Background()

	c, err := f.contingency.Start(ctx, contingencydomain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)

	for i := 0; i < sales; i++ {
		q, err := f.sales.CreateQuote(ctx, salesdomain.CreateQuoteRequest{
			RUT: "11.222.333-4", Amount: 60000, Installments: 3, Interest: decimal.Zero,
		})
		require.NoError(t, err)
		_, err = f.sales.AcceptQuote(ctx, salesdomain.AcceptQuoteRequest{
			QuoteID: q.ID, Folio: c.ID.String() + "-" + string(rune('A'+i)), UserID: &f.user.ID,
		})
		require.NoError(t, err)
	}
	for i := 0; i < payments; i++ {
		_, err := f.sales.RegisterPayment(ctx, salesdomain.RegisterPaymentRequest{
			RUT: "112223334", Amount: 15000, PaymentMethod: salesdomain.PaymentMethodCash, UserID: &f.user.ID,
		})
		require.NoError(t, err)
	}

	f.clock.Advance(time.Hour)
	_, err = f.contingency.End(ctx)
	require.NoError(t, err)
	return c
}

func (f *fixture) lastEvent(t *testing.T) syncdomain.SyncEvent {
	t.Helper()
	var event syncdomain.SyncEvent
	require.NoError(t, f.db.Where("type = ?", syncdomain.TypePush).Order("created_at desc").First(&event).Error)
	return event
}

func TestSyncToAdminUploadsClosedContingencies(t *testing.T) {
	f := newFixture(t)
	f.closedContingency(t, 2, 1)

	result, err := f.svc.SyncToAdmin(context.Background(), Request{})
	require.NoError(t, err)

	assert.True(t, result.Ok(), "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Contingencies)
	assert.Equal(t, 1, result.ContingenciesSynced)
	assert.Equal(t, 2, result.SalesSynced)
	assert.Equal(t, 1, result.PaymentsSynced)
	assert.Equal(t, int64(42), result.RemoteSyncID)
	assert.Equal(t, []int64{42}, f.admin.completed)

	event := f.lastEvent(t)
	assert.Equal(t, syncdomain.StatusSuccess, event.Status)
	assert.Equal(t, 2, event.Details.Data().SalesSynced)

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}

func TestSyncToAdminReportsMalformedRows(t *testing.T) {
	f := newFixture(t)
	c := f.closedContingency(t, 3, 1)

	// A payment without an amount can only come from a corrupted row.
	broken := salesdomain.Payment{
		ID: snowflake.ID(77), PublicID: 77, Amount: 0, PaymentMethod: salesdomain.PaymentMethodCash,
		RUT: "112223334", LocationCode: "001", CreatedAt: f.clock.Now(), ContingencyID: &c.ID,
	}
	require.NoError(t, f.db.Create(&broken).Error)

	result, err := f.svc.SyncToAdmin(context.Background(), Request{ContingencyID: c.ID})
	require.NoError(t, err)

	assert.Equal(t, 3, result.SalesSynced)
	assert.Equal(t, 1, result.PaymentsSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "payments")
	assert.Contains(t, result.Errors[0], "amount")
	assert.Equal(t, 2, f.admin.dataRows[transfer.KindPayments], "the file keeps every payment row")

	event := f.lastEvent(t)
	assert.Equal(t, syncdomain.StatusFailed, event.Status)
	assert.Len(t, event.Details.Data().Errors, 1)
}

func TestSyncToAdminSkipsAlreadyPushedContingencies(t *testing.T) {
	f := newFixture(t)
	f.closedContingency(t, 1, 0)

	_, err := f.svc.SyncToAdmin(context.Background(), Request{})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	result, err := f.svc.SyncToAdmin(context.Background(), Request{})
	require.NoError(t, err)
	assert.Zero(t, result.Contingencies)
	assert.Zero(t, result.SyncEventID)

	result, err = f.svc.SyncToAdmin(context.Background(), Request{All: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Contingencies)
	assert.True(t, result.Ok())
}

// endsDuringSelection closes the open contingency right after the push
// selection query, as an operator ending it at that moment would.
type endsDuringSelection struct {
	contingencydomain.Service
	clock *clock.FakeClock
	fired bool
}

func (e *endsDuringSelection) ListForPush(ctx context.Context, req contingencydomain.ListForPushRequest) ([]contingencydomain.Contingency, error) {
	selected, err := e.Service.ListForPush(ctx, req)
	if err != nil || e.fired {
		return selected, err
	}
	e.fired = true
	e.clock.Advance(time.Second)
	if _, err := e.Service.End(ctx); err != nil {
		return nil, err
	}
	return selected, nil
}

func TestSyncToAdminPicksUpContingencyEndedDuringSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.closedContingency(t, 1, 0)
	_, err := f.contingency.Start(ctx, contingencydomain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)

	svc := NewWithAdmin(Params{
		Config:      config.Config{TempDir: f.tempDir},
		Log:         zap.NewNop(),
		Clock:       f.clock,
		Ledger:      f.ledger,
		Contingency: &endsDuringSelection{Service: f.contingency, clock: f.clock},
		Sales:       f.sales,
		Reference:   f.reference,
	}, f.admin)

	first, err := svc.SyncToAdmin(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Contingencies)

	f.clock.Advance(time.Minute)
	second, err := svc.SyncToAdmin(ctx, Request{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Contingencies, "the contingency ended during the first run is pushed next")
}

func TestSyncToAdminRecordsTransportErrors(t *testing.T) {
	f := newFixture(t)
	f.closedContingency(t, 1, 1)
	f.admin.uploadErr[transfer.KindSales] = &remote.TransportError{Op: "upload sales", Err: errors.New("connection refused")}

	result, err := f.svc.SyncToAdmin(context.Background(), Request{})
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "connection refused")
	assert.Zero(t, result.SalesSynced)
	assert.Equal(t, 1, result.PaymentsSynced)
	assert.Empty(t, f.admin.completed, "an incomplete upload is never completed")
	assert.Equal(t, syncdomain.StatusFailed, f.lastEvent(t).Status)
}

func TestSyncToAdminStartFailureFailsEvent(t *testing.T) {
	f := newFixture(t)
	f.closedContingency(t, 1, 0)
	f.admin.startErr = &remote.TransportError{Op: "start push", StatusCode: 503, Body: "maintenance"}

	result, err := f.svc.SyncToAdmin(context.Background(), Request{})
	require.NoError(t, err)

	require.Len(t, result.Errors, 1)
	assert.False(t, result.Ok())
	event := f.lastEvent(t)
	assert.Equal(t, syncdomain.StatusFailed, event.Status)
	assert.Nil(t, event.ClaimKey)
}

func TestSyncToAdminRefusesConcurrentPush(t *testing.T) {
	f := newFixture(t)
	f.closedContingency(t, 1, 0)

	_, err := f.ledger.Begin(context.Background(), syncdomain.BeginRequest{Type: syncdomain.TypePush, LocationCode: "001"})
	require.NoError(t, err)

	_, err = f.svc.SyncToAdmin(context.Background(), Request{})
	assert.ErrorIs(t, err, syncdomain.ErrSyncInProgress)
}

package service

import (
	"context"
	"errors"
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
	"github.com/smallbiznis/possync/internal/sales/domain"
	"github.com/smallbiznis/possync/internal/sales/repository"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	syncrepo "github.com/smallbiznis/possync/internal/syncevent/repository"
	syncservice "github.com/smallbiznis/possync/internal/syncevent/service"
	"github.com/smallbiznis/possync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testRUT = "112223334"

type fixture struct {
	db          *gorm.DB
	clock       *clock.FakeClock
	contingency contingencydomain.Service
	svc         domain.Service
	user        refdomain.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.OpenDB(t)
	node := testutil.Node(t)
	clk := clock.NewFakeClock(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
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

	user := refdomain.User{
		ID: node.Generate(), Username: "vendedor", FullName: "María Soto",
		Role: refdomain.RoleSeller, LocationCode: "001", Active: true, CreatedAt: clk.Now(),
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Create(&[]refdomain.SystemParameter{
		{Code: refdomain.ParamLocationCode, Value: "001", UpdatedAt: clk.Now()},
		{Code: refdomain.ParamVoucherFooter, Value: "GRACIAS POR SU PAGO", UpdatedAt: clk.Now()},
	}).Error)
	require.NoError(t, db.Create(&clientdomain.Client{
		RUT: testRUT, FullName: "Pedro Rojas", CreditLimit: 500000, CreditAvailable: 500000, UpdatedAt: clk.Now(),
	}).Error)

	event, err := ledger.Begin(context.Background(), syncdomain.BeginRequest{Type: syncdomain.TypePull, LocationCode: "001"})
	require.NoError(t, err)
	_, err = ledger.Complete(context.Background(), event.ID, syncdomain.Outcome{Success: true})
	require.NoError(t, err)

	svc := New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		Clients:    clientrepo.Provide(),
		Registry:   contingency,
		Reference:  reference,
		SyncConfig: holder,
	})

	return &fixture{db: db, clock: clk, contingency: contingency, svc: svc, user: user}
}

func (f *fixture) start(t *testing.T) *contingencydomain.Contingency {
	t.Helper()
	c, err := f.contingency.Start(context.Background(), contingencydomain.StartRequest{UserID: f.user.ID})
	require.NoError(t, err)
	return c
}

func (f *fixture) quote(t *testing.T, amount int64) *domain.Quote {
	t.Helper()
	q, err := f.svc.CreateQuote(context.Background(), domain.CreateQuoteRequest{
		RUT:          "11.222.333-4",
		Amount:       amount,
		Installments: 6,
		Interest:     decimal.RequireFromString("1.5"),
	})
	require.NoError(t, err)
	return q
}

func (f *fixture) creditAvailable(t *testing.T) int64 {
	t.Helper()
	var c clientdomain.Client
	require.NoError(t, f.db.Where("rut = ?", testRUT).First(&c).Error)
	return c.CreditAvailable
}

func validationMessage(t *testing.T, err error) string {
	t.Helper()
	var vErr *domain.ValidationError
	require.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
	return vErr.Message
}

func TestAcceptQuoteScenario(t *testing.T) {
	f := newFixture(t)
	open := f.start(t)
	ctx := context.Background()

	q := f.quote(t, 100000)
	assert.Equal(t, testRUT, q.RUT)
	require.NotNil(t, q.ContingencyID)
	assert.Equal(t, open.ID, *q.ContingencyID)

	sale, err := f.svc.AcceptQuote(ctx, domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-001", UserID: &f.user.ID})
	require.NoError(t, err)
	require.NotNil(t, sale.ContingencyID)
	assert.Equal(t, open.ID, *sale.ContingencyID)
	assert.Equal(t, "Pedro Rojas", sale.ClientFullName)
	assert.Equal(t, int64(400000), f.creditAvailable(t))

	_, err = f.svc.AcceptQuote(ctx, domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-002"})
	assert.Equal(t, "cotización ya fue aceptada", validationMessage(t, err))
	assert.Equal(t, int64(400000), f.creditAvailable(t))
}

func TestAcceptQuoteStampsCreditChangeWithClock(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	q := f.quote(t, 50000)

	f.clock.Advance(90 * time.Minute)
	_, err := f.svc.AcceptQuote(context.Background(), domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-010"})
	require.NoError(t, err)

	var c clientdomain.Client
	require.NoError(t, f.db.Where("rut = ?", testRUT).First(&c).Error)
	assert.WithinDuration(t, f.clock.Now(), c.UpdatedAt, time.Second)
}

func TestAcceptQuoteRejectsDuplicateFolio(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	first := f.quote(t, 10000)
	second := f.quote(t, 20000)

	_, err := f.svc.AcceptQuote(ctx, domain.AcceptQuoteRequest{QuoteID: first.ID, Folio: "F-100"})
	require.NoError(t, err)

	_, err = f.svc.AcceptQuote(ctx, domain.AcceptQuoteRequest{QuoteID: second.ID, Folio: "F-100"})
	assert.Equal(t, domain.MsgFolioTaken, validationMessage(t, err))

	var count int64
	require.NoError(t, f.db.Model(&domain.Sale{}).Where("folio = ?", "F-100").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, int64(490000), f.creditAvailable(t))
}

func TestSaleUniqueIndexesBackTheLookups(t *testing.T) {
	f := newFixture(t)
	open := f.start(t)
	q := f.quote(t, 10000)
	repo := repository.Provide()
	ctx := context.Background()
	contingencyID := open.ID

	require.NoError(t, repo.InsertSale(ctx, f.db, &domain.Sale{
		ID: 1, QuoteID: q.ID, Folio: "A", RUT: testRUT, LocationCode: "001",
		CreatedAt: f.clock.Now(), ContingencyID: &contingencyID,
	}))
	err := repo.InsertSale(ctx, f.db, &domain.Sale{
		ID: 2, QuoteID: q.ID, Folio: "B", RUT: testRUT, LocationCode: "001",
		CreatedAt: f.clock.Now(), ContingencyID: &contingencyID,
	})
	assert.Error(t, err, "same quote in same contingency")

	other := f.quote(t, 10000)
	err = repo.InsertSale(ctx, f.db, &domain.Sale{
		ID: 3, QuoteID: other.ID, Folio: "A", RUT: testRUT, LocationCode: "001",
		CreatedAt: f.clock.Now(), ContingencyID: &contingencyID,
	})
	assert.Error(t, err, "same folio in same contingency")
}

func TestAcceptQuoteRollsBackOnInsufficientCredit(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	q := f.quote(t, 300000)
	require.NoError(t, f.db.Model(&clientdomain.Client{}).Where("rut = ?", testRUT).Update("credit_available", 100000).Error)

	_, err := f.svc.AcceptQuote(ctx, domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-9"})
	assert.Equal(t, domain.MsgInsufficientCredit, validationMessage(t, err))

	var count int64
	require.NoError(t, f.db.Model(&domain.Sale{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Equal(t, int64(100000), f.creditAvailable(t))
}

func TestAcceptQuoteRejectsBlockedClient(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	q := f.quote(t, 1000)
	require.NoError(t, f.db.Model(&clientdomain.Client{}).Where("rut = ?", testRUT).Update("block_comment", "bloqueado por mora").Error)

	_, err := f.svc.AcceptQuote(context.Background(), domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-1"})
	assert.Equal(t, domain.MsgClientBlocked, validationMessage(t, err))
}

func TestAcceptQuoteRequiresOpenContingency(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	q := f.quote(t, 1000)
	_, err := f.contingency.End(context.Background())
	require.NoError(t, err)

	_, err = f.svc.AcceptQuote(context.Background(), domain.AcceptQuoteRequest{QuoteID: q.ID, Folio: "F-1"})
	assert.ErrorIs(t, err, contingencydomain.ErrNoOpenContingency)
}

func TestComputeInstallments(t *testing.T) {
	cases := []struct {
		name        string
		amount      int64
		interest    string
		n           int
		down        int64
		total       int64
		installment int64
	}{
		{"no interest", 120000, "0", 12, 0, 120000, 10000},
		{"rounded up", 100000, "1.5", 6, 0, 109000, 18167},
		{"down payment", 100000, "2", 3, 10000, 106000, 32000},
		{"rounds to the peso", 999, "0.1", 1, 0, 1000, 1000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			total, installment, err := ComputeInstallments(tc.amount, decimal.RequireFromString(tc.interest), tc.n, tc.down)
			require.NoError(t, err)
			assert.Equal(t, tc.total, total)
			assert.Equal(t, tc.installment, installment)
		})
	}

	_, _, err := ComputeInstallments(1000, decimal.Zero, 0, 0)
	assert.Error(t, err)
	_, _, err = ComputeInstallments(1000, decimal.Zero, 2, 1000)
	assert.Error(t, err)
}

func TestCreateQuoteHonoursMaxInstallments(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	require.NoError(t, f.db.Create(&refdomain.SystemParameter{
		Code: refdomain.ParamMaxInstallments, Value: "4", UpdatedAt: f.clock.Now(),
	}).Error)

	_, err := f.svc.CreateQuote(context.Background(), domain.CreateQuoteRequest{
		RUT: testRUT, Amount: 1000, Installments: 6, Interest: decimal.Zero,
	})
	assert.Equal(t, domain.MsgInvalidInstallments, validationMessage(t, err))
}

func TestRegisterPaymentVoucherRules(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	ctx := context.Background()

	cash, err := f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 5000, PaymentMethod: domain.PaymentMethodCash, VoucherID: "ignored",
	})
	require.NoError(t, err)
	assert.Nil(t, cash.VoucherID)
	assert.Contains(t, cash.VoucherContent, "MONTO: $5.000")
	assert.Contains(t, cash.VoucherContent, "GRACIAS POR SU PAGO")

	_, err = f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 5000, PaymentMethod: domain.PaymentMethodDebit,
	})
	assert.Equal(t, domain.MsgVoucherRequired, validationMessage(t, err))

	debit, err := f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 5000, PaymentMethod: domain.PaymentMethodDebit, VoucherID: "V-1",
	})
	require.NoError(t, err)
	require.NotNil(t, debit.VoucherID)

	_, err = f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 7000, PaymentMethod: domain.PaymentMethodCredit, VoucherID: "V-1",
	})
	assert.Equal(t, domain.MsgVoucherTaken, validationMessage(t, err))

	_, err = f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 7000, PaymentMethod: "3", VoucherID: "V-2",
	})
	assert.Equal(t, domain.MsgInvalidPaymentMethod, validationMessage(t, err))

	// a new contingency starts a fresh voucher namespace
	_, err = f.contingency.End(ctx)
	require.NoError(t, err)
	f.start(t)
	_, err = f.svc.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		RUT: testRUT, Amount: 5000, PaymentMethod: domain.PaymentMethodDebit, VoucherID: "V-1",
	})
	require.NoError(t, err)
}

func TestImportSaleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	req := domain.ImportSaleRequest{
		Quote: domain.Quote{
			ID: 10, PublicID: 99, RUT: testRUT, Amount: 1000, Installments: 1,
			Interest: decimal.Zero, InstallmentAmount: 1000, TotalAmount: 1000,
			QuoteDate: now, LocationCode: "001", CreatedAt: now,
		},
		Sale: domain.Sale{
			ID: 11, Folio: "F-1", RUT: testRUT, LocationCode: "001", CreatedAt: now,
		},
		IdempotencyKey: "abc",
	}
	sale, err := f.svc.ImportSale(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(10), sale.QuoteID)

	req.Quote.ID = 20
	req.Sale.ID = 21
	_, err = f.svc.ImportSale(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyImported)

	var quotes int64
	require.NoError(t, f.db.Model(&domain.Quote{}).Count(&quotes).Error)
	assert.Equal(t, int64(1), quotes)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	"github.com/smallbiznis/possync/internal/rut"
	"github.com/smallbiznis/possync/internal/sales/domain"
	"github.com/smallbiznis/possync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxInstallments = 12

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Clients    clientdomain.Repository
	Registry   contingencydomain.Registry
	Reference  refdomain.Service
	SyncConfig *config.SyncConfigHolder
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	clients    clientdomain.Repository
	registry   contingencydomain.Registry
	reference  refdomain.Service
	syncConfig *config.SyncConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("sales.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		clients:    p.Clients,
		registry:   p.Registry,
		reference:  p.Reference,
		syncConfig: p.SyncConfig,
	}
}

func (s *Service) CreateQuote(ctx context.Context, req domain.CreateQuoteRequest) (*domain.Quote, error) {
	open, err := s.openContingency(ctx)
	if err != nil {
		return nil, err
	}

	normalized := rut.Normalize(req.RUT)
	if normalized == "" {
		return nil, domain.NewValidationError("rut", domain.MsgInvalidRUT)
	}
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", domain.MsgInvalidAmount)
	}
	maxInstallments := s.reference.IntParameter(ctx, refdomain.ParamMaxInstallments, defaultMaxInstallments)
	if req.Installments <= 0 || req.Installments > maxInstallments {
		return nil, domain.NewValidationError("installments", domain.MsgInvalidInstallments)
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		return nil, domain.NewValidationError("paymentMethod", domain.MsgInvalidPaymentMethod)
	}

	client, err := s.eligibleClient(ctx, s.db, normalized, req.Amount)
	if err != nil {
		return nil, err
	}

	total, installment, err := ComputeInstallments(req.Amount, req.Interest, req.Installments, req.DownPayment)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	billingDate := req.BillingDate
	if billingDate == nil {
		billingDate = client.NextBillingAt
	}
	contingencyID := open.ID
	quote := &domain.Quote{
		ID:                s.genID.Generate(),
		PublicID:          s.genID.Generate().Int64(),
		RUT:               normalized,
		Amount:            req.Amount,
		PaymentMethod:     req.PaymentMethod,
		TBKNumber:         strings.TrimSpace(req.TBKNumber),
		DownPayment:       req.DownPayment,
		DeferredPayment:   req.DeferredPayment,
		Installments:      req.Installments,
		Interest:          req.Interest,
		InstallmentAmount: installment,
		TotalAmount:       total,
		QuoteDate:         now,
		BillingDate:       billingDate,
		LocationCode:      open.LocationCode,
		ContingencyID:     &contingencyID,
		CreatedAt:         now,
	}
	if err := s.repo.InsertQuote(ctx, s.db, quote); err != nil {
		return nil, err
	}

	s.log.Info("sales.quote.created",
		zap.String("quote_id", quote.ID.String()),
		zap.String("contingency_id", open.ID.String()),
		zap.Int64("amount", quote.Amount),
		zap.Int("installments", quote.Installments),
	)
	return quote, nil
}

// ComputeInstallments returns the quote total, amount × (1 + interest% ×
// installments) rounded to the peso, and the installment value, which is the
// financed part divided by the installments and rounded up.
func ComputeInstallments(amount int64, interest decimal.Decimal, installments int, downPayment int64) (int64, int64, error) {
	if installments <= 0 {
		return 0, 0, domain.NewValidationError("installments", domain.MsgInvalidInstallments)
	}
	if interest.IsNegative() {
		return 0, 0, domain.NewValidationError("interest", "interés inválido")
	}

	n := decimal.NewFromInt(int64(installments))
	factor := decimal.NewFromInt(1).Add(interest.Div(decimal.NewFromInt(100)).Mul(n))
	total := decimal.NewFromInt(amount).Mul(factor).Round(0)

	if downPayment < 0 || downPayment >= total.IntPart() {
		return 0, 0, domain.NewValidationError("downPayment", domain.MsgInvalidDownPayment)
	}
	installment := total.Sub(decimal.NewFromInt(downPayment)).Div(n).Ceil()
	return total.IntPart(), installment.IntPart(), nil
}

// AcceptQuote turns a quote into a sale and consumes the client's credit. Both
// writes share one transaction; the unique indexes on sales decide races the
// lookups miss.
func (s *Service) AcceptQuote(ctx context.Context, req domain.AcceptQuoteRequest) (*domain.Sale, error) {
	open, err := s.openContingency(ctx)
	if err != nil {
		return nil, err
	}
	folio := strings.TrimSpace(req.Folio)
	if folio == "" {
		return nil, domain.NewValidationError("folio", domain.MsgFolioRequired)
	}

	var sale *domain.Sale
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quote, err := s.repo.FindQuoteByID(ctx, tx, req.QuoteID)
		if err != nil {
			return err
		}
		if quote == nil {
			return domain.ErrQuoteNotFound
		}
		if quote.ContingencyID != nil && *quote.ContingencyID != open.ID {
			return domain.NewValidationError("quote", domain.MsgQuoteOtherContingency)
		}

		if err := s.checkSaleUnique(ctx, tx, quote.ID, open.ID, folio); err != nil {
			return err
		}

		client, err := s.eligibleClient(ctx, tx, quote.RUT, quote.Amount)
		if err != nil {
			return err
		}

		contingencyID := open.ID
		sale = &domain.Sale{
			ID:             s.genID.Generate(),
			QuoteID:        quote.ID,
			Folio:          folio,
			RUT:            quote.RUT,
			ClientFullName: client.FullName,
			LocationCode:   open.LocationCode,
			CreatedAt:      s.clock.Now(),
			CreatedByID:    req.UserID,
			ContingencyID:  &contingencyID,
			DeviceID:       req.DeviceID,
		}
		if err := s.repo.InsertSale(ctx, tx, sale); err != nil {
			return err
		}

		ok, err := s.clients.DecrementCredit(ctx, tx, quote.RUT, quote.Amount, sale.CreatedAt)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewValidationError("credit", domain.MsgInsufficientCredit)
		}
		sale.Quote = quote
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, s.classifySaleConflict(ctx, req.QuoteID, open.ID, folio, err)
		}
		return nil, err
	}

	s.log.Info("sales.quote.accepted",
		zap.String("sale_id", sale.ID.String()),
		zap.String("quote_id", sale.QuoteID.String()),
		zap.String("folio", sale.Folio),
		zap.String("contingency_id", open.ID.String()),
	)
	return sale, nil
}

func (s *Service) RegisterPayment(ctx context.Context, req domain.RegisterPaymentRequest) (*domain.Payment, error) {
	open, err := s.openContingency(ctx)
	if err != nil {
		return nil, err
	}
	if !req.PaymentMethod.Valid() {
		return nil, domain.NewValidationError("paymentMethod", domain.MsgInvalidPaymentMethod)
	}
	if req.Amount <= 0 {
		return nil, domain.NewValidationError("amount", domain.MsgInvalidAmount)
	}
	normalized := rut.Normalize(req.RUT)
	if normalized == "" {
		return nil, domain.NewValidationError("rut", domain.MsgInvalidRUT)
	}

	var voucherID *string
	if req.PaymentMethod.RequiresVoucher() {
		voucher := strings.TrimSpace(req.VoucherID)
		if voucher == "" {
			return nil, domain.NewValidationError("voucherId", domain.MsgVoucherRequired)
		}
		taken, err := s.repo.VoucherExists(ctx, s.db, open.ID, voucher)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, domain.NewValidationError("voucherId", domain.MsgVoucherTaken)
		}
		voucherID = &voucher
	}

	clientName := ""
	client, err := s.clients.FindByRUT(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if client != nil {
		clientName = client.FullName
	}

	footer, _, err := s.reference.Parameter(ctx, refdomain.ParamVoucherFooter)
	if err != nil {
		return nil, err
	}

	contingencyID := open.ID
	payment := &domain.Payment{
		ID:             s.genID.Generate(),
		PublicID:       s.genID.Generate().Int64(),
		Amount:         req.Amount,
		PaymentMethod:  req.PaymentMethod,
		VoucherID:      voucherID,
		RUT:            normalized,
		ClientFullName: clientName,
		LocationCode:   open.LocationCode,
		CreatedAt:      s.clock.Now(),
		CreatedByID:    req.UserID,
		ContingencyID:  &contingencyID,
		DeviceID:       req.DeviceID,
	}
	payment.VoucherContent = renderVoucher(payment, footer)

	if err := s.repo.InsertPayment(ctx, s.db, payment); err != nil {
		if db.IsDuplicateKeyErr(err) && voucherID != nil {
			return nil, domain.NewValidationError("voucherId", domain.MsgVoucherTaken)
		}
		return nil, err
	}

	s.log.Info("sales.payment.registered",
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_method", string(payment.PaymentMethod)),
		zap.Int64("amount", payment.Amount),
		zap.String("contingency_id", open.ID.String()),
	)
	return payment, nil
}

func (s *Service) GetSale(ctx context.Context, id snowflake.ID) (*domain.Sale, error) {
	sale, err := s.repo.FindSaleByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, domain.ErrSaleNotFound
	}
	return sale, nil
}

func (s *Service) ExportSales(ctx context.Context, contingencyIDs []snowflake.ID, fn func([]domain.Sale) error) error {
	return s.repo.ScanSales(ctx, s.db, contingencyIDs, s.syncConfig.Get().BatchSize, fn)
}

func (s *Service) ExportPayments(ctx context.Context, contingencyIDs []snowflake.ID, fn func([]domain.Payment) error) error {
	return s.repo.ScanPayments(ctx, s.db, contingencyIDs, s.syncConfig.Get().BatchSize, fn)
}

// ImportSale persists a sale and its quote as received from a location. A sale
// whose idempotency key is already stored returns ErrAlreadyImported.
func (s *Service) ImportSale(ctx context.Context, req domain.ImportSaleRequest) (*domain.Sale, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, errors.New("idempotency key is required")
	}
	quote := req.Quote
	sale := req.Sale
	sale.QuoteID = quote.ID
	sale.Quote = nil
	sale.IdempotencyKey = &key

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen, err := s.repo.SaleKeyExists(ctx, tx, key)
		if err != nil {
			return err
		}
		if seen {
			return domain.ErrAlreadyImported
		}
		if err := s.repo.InsertQuote(ctx, tx, &quote); err != nil {
			return err
		}
		return s.repo.InsertSale(ctx, tx, &sale)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			if seen, findErr := s.repo.SaleKeyExists(ctx, s.db, key); findErr == nil && seen {
				return nil, domain.ErrAlreadyImported
			}
			return nil, fmt.Errorf("sale folio %q conflicts with a stored sale: %w", sale.Folio, err)
		}
		return nil, err
	}

	sale.Quote = &quote
	return &sale, nil
}

func (s *Service) ImportPayment(ctx context.Context, req domain.ImportPaymentRequest) (*domain.Payment, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, errors.New("idempotency key is required")
	}
	payment := req.Payment
	payment.IdempotencyKey = &key
	if !payment.PaymentMethod.RequiresVoucher() {
		payment.VoucherID = nil
	}

	seen, err := s.repo.PaymentKeyExists(ctx, s.db, key)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, domain.ErrAlreadyImported
	}
	if err := s.repo.InsertPayment(ctx, s.db, &payment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			if seen, findErr := s.repo.PaymentKeyExists(ctx, s.db, key); findErr == nil && seen {
				return nil, domain.ErrAlreadyImported
			}
			return nil, fmt.Errorf("payment voucher conflicts with a stored payment: %w", err)
		}
		return nil, err
	}
	return &payment, nil
}

func (s *Service) openContingency(ctx context.Context) (*contingencydomain.Contingency, error) {
	open, err := s.registry.GetOpen(ctx, contingencydomain.Scope{})
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, contingencydomain.ErrNoOpenContingency
	}
	return open, nil
}

func (s *Service) eligibleClient(ctx context.Context, tx *gorm.DB, normalized string, amount int64) (*clientdomain.Client, error) {
	client, err := s.clients.FindByRUT(ctx, tx, normalized)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.NewValidationError("rut", domain.MsgClientNotFound)
	}
	if client.Blocked(s.syncConfig.Get().BlockCommentPrefix) {
		return nil, domain.NewValidationError("rut", domain.MsgClientBlocked)
	}
	if client.CreditAvailable < amount {
		return nil, domain.NewValidationError("credit", domain.MsgInsufficientCredit)
	}
	return client, nil
}

func (s *Service) checkSaleUnique(ctx context.Context, tx *gorm.DB, quoteID, contingencyID snowflake.ID, folio string) error {
	accepted, err := s.repo.QuoteAccepted(ctx, tx, quoteID, contingencyID)
	if err != nil {
		return err
	}
	if accepted {
		return domain.NewValidationError("quote", domain.MsgQuoteAlreadyAccepted)
	}
	taken, err := s.repo.FolioExists(ctx, tx, contingencyID, folio)
	if err != nil {
		return err
	}
	if taken {
		return domain.NewValidationError("folio", domain.MsgFolioTaken)
	}
	return nil
}

// classifySaleConflict runs after a lost race and maps the unique violation
// back to the operator message the lookups would have produced.
func (s *Service) classifySaleConflict(ctx context.Context, quoteID, contingencyID snowflake.ID, folio string, cause error) error {
	if err := s.checkSaleUnique(ctx, s.db, quoteID, contingencyID, folio); err != nil {
		return err
	}
	return cause
}

func renderVoucher(p *domain.Payment, footer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PAGO %s\n", p.PaymentMethod.Label())
	fmt.Fprintf(&b, "RUT: %s\n", p.RUT)
	if p.ClientFullName != "" {
		fmt.Fprintf(&b, "CLIENTE: %s\n", p.ClientFullName)
	}
	fmt.Fprintf(&b, "MONTO: $%s\n", formatPesos(p.Amount))
	if p.VoucherID != nil {
		fmt.Fprintf(&b, "VOUCHER: %s\n", *p.VoucherID)
	}
	fmt.Fprintf(&b, "FECHA: %s\n", p.CreatedAt.Format("2006-01-02 15:04:05"))
	if footer = strings.TrimSpace(footer); footer != "" {
		b.WriteString(footer)
		b.WriteString("\n")
	}
	return b.String()
}

func formatPesos(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateQuoteRequest struct {
	RUT             string
	Amount          int64
	Installments    int
	Interest        decimal.Decimal
	DownPayment     int64
	DeferredPayment int
	PaymentMethod   PaymentMethod
	TBKNumber       string
	BillingDate     *time.Time
}

type AcceptQuoteRequest struct {
	QuoteID  snowflake.ID
	Folio    string
	UserID   *snowflake.ID
	DeviceID *snowflake.ID
}

type RegisterPaymentRequest struct {
	RUT           string
	Amount        int64
	PaymentMethod PaymentMethod
	VoucherID     string
	UserID        *snowflake.ID
	DeviceID      *snowflake.ID
}

// ImportSaleRequest carries a sale received from a location together with its
// quote. IDs are assigned by the caller.
type ImportSaleRequest struct {
	Quote          Quote
	Sale           Sale
	IdempotencyKey string
}

type ImportPaymentRequest struct {
	Payment        Payment
	IdempotencyKey string
}

type Service interface {
	CreateQuote(ctx context.Context, req CreateQuoteRequest) (*Quote, error)
	AcceptQuote(ctx context.Context, req AcceptQuoteRequest) (*Sale, error)
	RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*Payment, error)
	GetSale(ctx context.Context, id snowflake.ID) (*Sale, error)

	ExportSales(ctx context.Context, contingencyIDs []snowflake.ID, fn func([]Sale) error) error
	ExportPayments(ctx context.Context, contingencyIDs []snowflake.ID, fn func([]Payment) error) error
	ImportSale(ctx context.Context, req ImportSaleRequest) (*Sale, error)
	ImportPayment(ctx context.Context, req ImportPaymentRequest) (*Payment, error)
}

// ValidationError is a rejection meant for the operator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Operator-facing messages.
const (
	MsgQuoteAlreadyAccepted  = "cotización ya fue aceptada"
	MsgQuoteOtherContingency = "cotización no pertenece a la contingencia abierta"
	MsgFolioTaken            = "folio ya existe en esta contingencia"
	MsgFolioRequired         = "folio es obligatorio"
	MsgVoucherTaken          = "voucher ya registrado en esta contingencia"
	MsgVoucherRequired       = "voucher es obligatorio para pagos con tarjeta"
	MsgInvalidPaymentMethod  = "medio de pago inválido"
	MsgInvalidAmount         = "monto inválido"
	MsgInvalidRUT            = "rut inválido"
	MsgClientNotFound        = "cliente no encontrado"
	MsgClientBlocked         = "cliente bloqueado"
	MsgInsufficientCredit    = "cupo insuficiente"
	MsgInvalidInstallments   = "número de cuotas inválido"
	MsgInvalidDownPayment    = "pie inválido"
)

var (
	ErrQuoteNotFound   = errors.New("quote_not_found")
	ErrSaleNotFound    = errors.New("sale_not_found")
	ErrAlreadyImported = errors.New("already_imported")
)

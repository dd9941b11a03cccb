package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "1"
	PaymentMethodDebit  PaymentMethod = "5"
	PaymentMethodCredit PaymentMethod = "8"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodDebit, PaymentMethodCredit:
		return true
	default:
		return false
	}
}

func (m PaymentMethod) RequiresVoucher() bool {
	return m != PaymentMethodCash
}

func (m PaymentMethod) Label() string {
	switch m {
	case PaymentMethodCash:
		return "EFECTIVO"
	case PaymentMethodDebit:
		return "DEBITO"
	case PaymentMethodCredit:
		return "CREDITO"
	default:
		return string(m)
	}
}

// Quote is an installment proposal for a client. It is tagged to the
// contingency it was issued in.
type Quote struct {
	ID                snowflake.ID    `json:"id" gorm:"primaryKey"`
	PublicID          int64           `json:"public_id" gorm:"not null;index"`
	RUT               string          `json:"rut" gorm:"type:varchar(16);not null;index"`
	Amount            int64           `json:"amount" gorm:"not null"`
	PaymentMethod     PaymentMethod   `json:"payment_method" gorm:"type:varchar(4);not null;default:''"`
	TBKNumber         string          `json:"tbk_number" gorm:"type:varchar(64);not null;default:''"`
	DownPayment       int64           `json:"down_payment" gorm:"not null;default:0"`
	DeferredPayment   int             `json:"deferred_payment" gorm:"not null;default:0"`
	Installments      int             `json:"installments" gorm:"not null"`
	Interest          decimal.Decimal `json:"interest" gorm:"type:numeric(8,4);not null"`
	InstallmentAmount int64           `json:"installment_amount" gorm:"not null"`
	TotalAmount       int64           `json:"total_amount" gorm:"not null"`
	QuoteDate         time.Time       `json:"quote_date" gorm:"not null"`
	BillingDate       *time.Time      `json:"billing_date,omitempty"`
	LocationCode      string          `json:"location_code" gorm:"type:varchar(32);not null"`
	ContingencyID     *snowflake.ID   `json:"contingency_id,omitempty" gorm:"index"`
	CreatedAt         time.Time       `json:"created_at" gorm:"not null"`
}

func (Quote) TableName() string { return "quotes" }

// Sale is the acceptance of a quote. A quote is accepted at most once per
// contingency and folios never repeat inside a contingency.
type Sale struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	QuoteID        snowflake.ID  `json:"quote_id" gorm:"not null;uniqueIndex:ux_sales_quote_contingency,priority:1"`
	Quote          *Quote        `json:"quote,omitempty" gorm:"foreignKey:QuoteID;references:ID"`
	Folio          string        `json:"folio" gorm:"type:varchar(64);not null;uniqueIndex:ux_sales_contingency_folio,priority:2"`
	RUT            string        `json:"rut" gorm:"type:varchar(16);not null;index"`
	ClientFullName string        `json:"client_full_name" gorm:"type:text;not null;default:''"`
	LocationCode   string        `json:"location_code" gorm:"type:varchar(32);not null"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	CreatedByID    *snowflake.ID `json:"created_by_id,omitempty"`
	ContingencyID  *snowflake.ID `json:"contingency_id,omitempty" gorm:"uniqueIndex:ux_sales_quote_contingency,priority:2;uniqueIndex:ux_sales_contingency_folio,priority:1"`
	DeviceID       *snowflake.ID `json:"device_id,omitempty"`
	IdempotencyKey *string       `json:"-" gorm:"type:varchar(64);uniqueIndex:ux_sales_idempotency_key"`
}

func (Sale) TableName() string { return "sales" }

// Payment is a cash, debit or credit transaction. Non-cash payments carry a
// voucher id that is unique inside the contingency.
type Payment struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	PublicID       int64         `json:"public_id" gorm:"not null;index"`
	Amount         int64         `json:"amount" gorm:"not null"`
	PaymentMethod  PaymentMethod `json:"payment_method" gorm:"type:varchar(4);not null"`
	VoucherID      *string       `json:"voucher_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_payments_contingency_voucher,priority:2"`
	RUT            string        `json:"rut" gorm:"type:varchar(16);not null;index"`
	ClientFullName string        `json:"client_full_name" gorm:"type:text;not null;default:''"`
	LocationCode   string        `json:"location_code" gorm:"type:varchar(32);not null;default:''"`
	CreatedAt      time.Time     `json:"created_at" gorm:"not null"`
	CreatedByID    *snowflake.ID `json:"created_by_id,omitempty"`
	ContingencyID  *snowflake.ID `json:"contingency_id,omitempty" gorm:"uniqueIndex:ux_payments_contingency_voucher,priority:1"`
	DeviceID       *snowflake.ID `json:"device_id,omitempty"`
	VoucherContent string        `json:"voucher_content" gorm:"type:text;not null;default:''"`
	IdempotencyKey *string       `json:"-" gorm:"type:varchar(64);uniqueIndex:ux_payments_idempotency_key"`
}

func (Payment) TableName() string { return "payments" }

package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertQuote(ctx context.Context, db *gorm.DB, quote *Quote) error
	FindQuoteByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Quote, error)

	InsertSale(ctx context.Context, db *gorm.DB, sale *Sale) error
	FindSaleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Sale, error)
	QuoteAccepted(ctx context.Context, db *gorm.DB, quoteID, contingencyID snowflake.ID) (bool, error)
	FolioExists(ctx context.Context, db *gorm.DB, contingencyID snowflake.ID, folio string) (bool, error)
	SaleKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error)
	ScanSales(ctx context.Context, db *gorm.DB, contingencyIDs []snowflake.ID, batchSize int, fn func([]Sale) error) error

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	VoucherExists(ctx context.Context, db *gorm.DB, contingencyID snowflake.ID, voucherID string) (bool, error)
	PaymentKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error)
	ScanPayments(ctx context.Context, db *gorm.DB, contingencyIDs []snowflake.ID, batchSize int, fn func([]Payment) error) error
}

package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/sales/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertQuote(ctx context.Context, db *gorm.DB, quote *domain.Quote) error {
	return db.WithContext(ctx).Create(quote).Error
}

func (r *repo) FindQuoteByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Quote, error) {
	var quote domain.Quote
	err := db.WithContext(ctx).Where("id = ?", id).First(&quote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &quote, nil
}

func (r *repo) InsertSale(ctx context.Context, db *gorm.DB, sale *domain.Sale) error {
	return db.WithContext(ctx).Omit(clause.Associations).Create(sale).Error
}

func (r *repo) FindSaleByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Sale, error) {
	var sale domain.Sale
	err := db.WithContext(ctx).Preload("Quote").Where("id = ?", id).First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (r *repo) QuoteAccepted(ctx context.Context, db *gorm.DB, quoteID, contingencyID snowflake.ID) (bool, error) {
	return exists(ctx, db, &domain.Sale{}, "quote_id = ? AND contingency_id = ?", quoteID, contingencyID)
}

func (r *repo) FolioExists(ctx context.Context, db *gorm.DB, contingencyID snowflake.ID, folio string) (bool, error) {
	return exists(ctx, db, &domain.Sale{}, "contingency_id = ? AND folio = ?", contingencyID, folio)
}

func (r *repo) SaleKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	return exists(ctx, db, &domain.Sale{}, "idempotency_key = ?", key)
}

// ScanSales walks the sales of the given contingencies in id order, with their
// quotes preloaded.
func (r *repo) ScanSales(ctx context.Context, db *gorm.DB, contingencyIDs []snowflake.ID, batchSize int, fn func([]domain.Sale) error) error {
	if len(contingencyIDs) == 0 {
		return nil
	}
	var rows []domain.Sale
	return db.WithContext(ctx).
		Preload("Quote").
		Where("contingency_id IN ?", contingencyIDs).
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(rows)
		}).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) VoucherExists(ctx context.Context, db *gorm.DB, contingencyID snowflake.ID, voucherID string) (bool, error) {
	return exists(ctx, db, &domain.Payment{}, "contingency_id = ? AND voucher_id = ?", contingencyID, voucherID)
}

func (r *repo) PaymentKeyExists(ctx context.Context, db *gorm.DB, key string) (bool, error) {
	return exists(ctx, db, &domain.Payment{}, "idempotency_key = ?", key)
}

func (r *repo) ScanPayments(ctx context.Context, db *gorm.DB, contingencyIDs []snowflake.ID, batchSize int, fn func([]domain.Payment) error) error {
	if len(contingencyIDs) == 0 {
		return nil
	}
	var rows []domain.Payment
	return db.WithContext(ctx).
		Where("contingency_id IN ?", contingencyIDs).
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(rows)
		}).Error
}

func exists(ctx context.Context, db *gorm.DB, model any, query string, args ...any) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Model(model).Where(query, args...).Limit(1).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

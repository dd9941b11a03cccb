package transfer

import (
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
)

// SalesHeader is the fixed column list of the sales file.
var SalesHeader = []string{
	"id", "folio", "createdAt", "rut", "clientFullName", "locationCode",
	"quote_id", "quote_amount", "quote_paymentMethod", "quote_tbkNumber",
	"quote_locationCode", "quote_quoteDate", "quote_downPayment",
	"quote_deferredPayment", "quote_installments", "quote_interest",
	"quote_installmentAmount", "quote_totalAmount", "quote_publicId",
	"quote_billingDate", "createdById", "deviceId", "contingencyId",
}

var ErrMissingQuote = errors.New("sale has no quote")

// QuoteRow is the quote embedded in a sales row. IDs are those of the node that
// wrote the file.
type QuoteRow struct {
	ID                int64
	Amount            int64
	PaymentMethod     string
	TBKNumber         string
	LocationCode      string
	QuoteDate         time.Time
	DownPayment       int64
	DeferredPayment   int
	Installments      int
	Interest          decimal.Decimal
	InstallmentAmount int64
	TotalAmount       int64
	PublicID          int64
	BillingDate       *time.Time
}

type SaleRow struct {
	ID             int64
	Folio          string
	CreatedAt      time.Time
	RUT            string
	ClientFullName string
	LocationCode   string
	Quote          QuoteRow
	CreatedByID    *int64
	DeviceID       *int64
	ContingencyID  *int64
}

// SaleRowFrom flattens a sale with its preloaded quote.
func SaleRowFrom(sale salesdomain.Sale) (SaleRow, error) {
	if sale.Quote == nil {
		return SaleRow{}, ErrMissingQuote
	}
	q := sale.Quote
	return SaleRow{
		ID:             sale.ID.Int64(),
		Folio:          sale.Folio,
		CreatedAt:      sale.CreatedAt,
		RUT:            sale.RUT,
		ClientFullName: sale.ClientFullName,
		LocationCode:   sale.LocationCode,
		Quote: QuoteRow{
			ID:                q.ID.Int64(),
			Amount:            q.Amount,
			PaymentMethod:     string(q.PaymentMethod),
			TBKNumber:         q.TBKNumber,
			LocationCode:      q.LocationCode,
			QuoteDate:         q.QuoteDate,
			DownPayment:       q.DownPayment,
			DeferredPayment:   q.DeferredPayment,
			Installments:      q.Installments,
			Interest:          q.Interest,
			InstallmentAmount: q.InstallmentAmount,
			TotalAmount:       q.TotalAmount,
			PublicID:          q.PublicID,
			BillingDate:       q.BillingDate,
		},
		CreatedByID:   idPtr(sale.CreatedByID),
		DeviceID:      idPtr(sale.DeviceID),
		ContingencyID: idPtr(sale.ContingencyID),
	}, nil
}

func (r SaleRow) Record() []string {
	quoteDate := r.Quote.QuoteDate
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Folio,
		formatDateTime(r.CreatedAt),
		r.RUT,
		r.ClientFullName,
		r.LocationCode,
		strconv.FormatInt(r.Quote.ID, 10),
		strconv.FormatInt(r.Quote.Amount, 10),
		r.Quote.PaymentMethod,
		r.Quote.TBKNumber,
		r.Quote.LocationCode,
		formatOptionalDate(&quoteDate),
		strconv.FormatInt(r.Quote.DownPayment, 10),
		strconv.Itoa(r.Quote.DeferredPayment),
		strconv.Itoa(r.Quote.Installments),
		r.Quote.Interest.String(),
		strconv.FormatInt(r.Quote.InstallmentAmount, 10),
		strconv.FormatInt(r.Quote.TotalAmount, 10),
		strconv.FormatInt(r.Quote.PublicID, 10),
		formatOptionalDate(r.Quote.BillingDate),
		formatOptionalID(r.CreatedByID),
		formatOptionalID(r.DeviceID),
		formatOptionalID(r.ContingencyID),
	}
}

// DecodeSale parses a sales record. The first invalid column is reported.
func DecodeSale(record []string) (SaleRow, error) {
	f := &fieldReader{record: record}
	row := SaleRow{
		ID:             f.number(0, "id"),
		Folio:          f.required(1, "folio"),
		CreatedAt:      f.dateTime(2, "createdAt"),
		RUT:            f.required(3, "rut"),
		ClientFullName: f.raw(4),
		LocationCode:   f.raw(5),
		Quote: QuoteRow{
			ID:                f.number(6, "quote_id"),
			Amount:            f.number(7, "quote_amount"),
			PaymentMethod:     f.raw(8),
			TBKNumber:         f.raw(9),
			LocationCode:      f.raw(10),
			QuoteDate:         f.date(11, "quote_quoteDate"),
			DownPayment:       f.optionalInt64(12, "quote_downPayment"),
			DeferredPayment:   int(f.optionalInt64(13, "quote_deferredPayment")),
			Installments:      f.count(14, "quote_installments"),
			Interest:          f.decimal(15, "quote_interest"),
			InstallmentAmount: f.optionalInt64(16, "quote_installmentAmount"),
			TotalAmount:       f.optionalInt64(17, "quote_totalAmount"),
			PublicID:          f.optionalInt64(18, "quote_publicId"),
			BillingDate:       f.optionalDate(19, "quote_billingDate"),
		},
		CreatedByID:   f.optionalID(20, "createdById"),
		DeviceID:      f.optionalID(21, "deviceId"),
		ContingencyID: f.optionalID(22, "contingencyId"),
	}
	if f.err == nil && row.Quote.Amount <= 0 {
		f.fail("quote_amount", "must be positive")
	}
	if f.err == nil && row.Quote.Installments <= 0 {
		f.fail("quote_installments", "must be positive")
	}
	if f.err != nil {
		return SaleRow{}, f.err
	}
	return row, nil
}

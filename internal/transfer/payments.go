package transfer

import (
	"strconv"
	"time"

	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
)

var PaymentsHeader = []string{
	"id", "amount", "createdAt", "paymentMethod", "voucherId", "publicId",
	"rut", "clientFullName", "createdById", "deviceId", "contingencyId",
}

type PaymentRow struct {
	ID             int64
	Amount         int64
	CreatedAt      time.Time
	PaymentMethod  string
	VoucherID      string
	PublicID       int64
	RUT            string
	ClientFullName string
	CreatedByID    *int64
	DeviceID       *int64
	ContingencyID  *int64
}

func PaymentRowFrom(p salesdomain.Payment) PaymentRow {
	row := PaymentRow{
		ID:             p.ID.Int64(),
		Amount:         p.Amount,
		CreatedAt:      p.CreatedAt,
		PaymentMethod:  string(p.PaymentMethod),
		PublicID:       p.PublicID,
		RUT:            p.RUT,
		ClientFullName: p.ClientFullName,
		CreatedByID:    idPtr(p.CreatedByID),
		DeviceID:       idPtr(p.DeviceID),
		ContingencyID:  idPtr(p.ContingencyID),
	}
	if p.VoucherID != nil {
		row.VoucherID = *p.VoucherID
	}
	return row
}

func (r PaymentRow) Record() []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		strconv.FormatInt(r.Amount, 10),
		formatDateTime(r.CreatedAt),
		r.PaymentMethod,
		r.VoucherID,
		strconv.FormatInt(r.PublicID, 10),
		r.RUT,
		r.ClientFullName,
		formatOptionalID(r.CreatedByID),
		formatOptionalID(r.DeviceID),
		formatOptionalID(r.ContingencyID),
	}
}

func DecodePayment(record []string) (PaymentRow, error) {
	f := &fieldReader{record: record}
	row := PaymentRow{
		ID:             f.number(0, "id"),
		Amount:         f.number(1, "amount"),
		CreatedAt:      f.dateTime(2, "createdAt"),
		PaymentMethod:  f.required(3, "paymentMethod"),
		VoucherID:      f.raw(4),
		PublicID:       f.optionalInt64(5, "publicId"),
		RUT:            f.required(6, "rut"),
		ClientFullName: f.raw(7),
		CreatedByID:    f.optionalID(8, "createdById"),
		DeviceID:       f.optionalID(9, "deviceId"),
		ContingencyID:  f.optionalID(10, "contingencyId"),
	}
	if f.err == nil && row.Amount <= 0 {
		f.fail("amount", "must be positive")
	}
	method := salesdomain.PaymentMethod(row.PaymentMethod)
	if f.err == nil && !method.Valid() {
		f.fail("paymentMethod", "unknown method %q", row.PaymentMethod)
	}
	if f.err == nil && method.RequiresVoucher() && row.VoucherID == "" {
		f.fail("voucherId", "missing value")
	}
	if f.err != nil {
		return PaymentRow{}, f.err
	}
	return row, nil
}

package transfer

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
	salesdomain "github.com/smallbiznis/possync/internal/sales/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSale() salesdomain.Sale {
	contingencyID := snowflake.ID(700)
	deviceID := snowflake.ID(55)
	billing := time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)
	return salesdomain.Sale{
		ID:             900,
		QuoteID:        800,
		Folio:          "F-001",
		RUT:            "112223334",
		ClientFullName: "Pedro Rojas, hijo",
		LocationCode:   "001",
		CreatedAt:      time.Date(2024, 5, 10, 12, 30, 15, 0, time.UTC),
		ContingencyID:  &contingencyID,
		DeviceID:       &deviceID,
		Quote: &salesdomain.Quote{
			ID:                800,
			PublicID:          123456,
			RUT:               "112223334",
			Amount:            100000,
			PaymentMethod:     salesdomain.PaymentMethodDebit,
			Installments:      6,
			Interest:          decimal.RequireFromString("1.5"),
			InstallmentAmount: 18167,
			TotalAmount:       109000,
			QuoteDate:         time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
			BillingDate:       &billing,
			LocationCode:      "001",
		},
	}
}

func TestSaleRoundTrip(t *testing.T) {
	sale := sampleSale()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, SalesHeader)
	require.NoError(t, err)
	row, err := SaleRowFrom(sale)
	require.NoError(t, err)
	require.NoError(t, w.Write(row.Record()))
	require.NoError(t, w.Flush())
	assert.Equal(t, 1, w.Rows())

	r, err := NewReader(&buf, SalesHeader)
	require.NoError(t, err)
	record, line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, line)

	decoded, err := DecodeSale(record)
	require.NoError(t, err)
	assert.Equal(t, sale.RUT, decoded.RUT)
	assert.Equal(t, sale.Folio, decoded.Folio)
	assert.Equal(t, sale.Quote.Amount, decoded.Quote.Amount)
	assert.Equal(t, sale.Quote.Installments, decoded.Quote.Installments)
	assert.True(t, sale.Quote.Interest.Equal(decoded.Quote.Interest))
	assert.Equal(t, sale.ClientFullName, decoded.ClientFullName)
	assert.Equal(t, sale.CreatedAt, decoded.CreatedAt)
	require.NotNil(t, decoded.ContingencyID)
	assert.Equal(t, int64(700), *decoded.ContingencyID)
	assert.Nil(t, decoded.CreatedByID)
	require.NotNil(t, decoded.Quote.BillingDate)
	assert.Equal(t, "2024-06-05", decoded.Quote.BillingDate.Format(DateLayout))
}

func TestSaleWithoutQuoteIsRejected(t *testing.T) {
	sale := sampleSale()
	sale.Quote = nil
	_, err := SaleRowFrom(sale)
	assert.ErrorIs(t, err, ErrMissingQuote)
}

func TestSalesHeaderColumns(t *testing.T) {
	want := "id,folio,createdAt,rut,clientFullName,locationCode,quote_id,quote_amount,quote_paymentMethod,quote_tbkNumber,quote_locationCode,quote_quoteDate,quote_downPayment,quote_deferredPayment,quote_installments,quote_interest,quote_installmentAmount,quote_totalAmount,quote_publicId,quote_billingDate,createdById,deviceId,contingencyId"
	assert.Equal(t, want, strings.Join(SalesHeader, ","))
	assert.Equal(t, "id,amount,createdAt,paymentMethod,voucherId,publicId,rut,clientFullName,createdById,deviceId,contingencyId", strings.Join(PaymentsHeader, ","))
}

func TestPaymentDecodeErrors(t *testing.T) {
	valid := PaymentRowFrom(salesdomain.Payment{
		ID: 1, Amount: 5000, PaymentMethod: salesdomain.PaymentMethodCash, RUT: "1",
		CreatedAt: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
	}).Record()

	_, err := DecodePayment(valid)
	require.NoError(t, err)

	missingAmount := append([]string(nil), valid...)
	missingAmount[1] = ""
	_, err = DecodePayment(missingAmount)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amount")

	noVoucher := append([]string(nil), valid...)
	noVoucher[3] = string(salesdomain.PaymentMethodCredit)
	_, err = DecodePayment(noVoucher)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voucherId")
}

func TestValidateCollectsRowErrors(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, PaymentsHeader)
	require.NoError(t, err)
	for i, amount := range []int64{1000, 2000} {
		row := PaymentRowFrom(salesdomain.Payment{
			ID: snowflake.ID(i + 1), Amount: amount, PaymentMethod: salesdomain.PaymentMethodCash,
			RUT: "9", CreatedAt: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC),
		})
		record := row.Record()
		if i == 1 {
			record[1] = ""
		}
		require.NoError(t, w.Write(record))
	}
	require.NoError(t, w.Flush())
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"), "header plus two data rows")

	result, err := Validate(KindPayments, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 3, result.Errors[0].Line)
	assert.Equal(t, "2", result.Errors[0].Key)
}

func TestReaderRejectsWrongHeader(t *testing.T) {
	_, err := NewReader(strings.NewReader("id,amount\n1,2\n"), PaymentsHeader)
	assert.ErrorIs(t, err, ErrHeaderMismatch)

	_, err = NewReader(strings.NewReader(""), PaymentsHeader)
	assert.ErrorIs(t, err, ErrHeaderMismatch)
}

func TestReaderReportsShortRowsAndContinues(t *testing.T) {
	input := strings.Join(ContingenciesHeader, ",") + "\n" +
		"1,001\n" +
		"2,001,2024-05-01 08:00:00,,,Ana\n"
	r, err := NewReader(strings.NewReader(input), ContingenciesHeader)
	require.NoError(t, err)

	_, line, err := r.Next()
	assert.ErrorIs(t, err, ErrFieldCount)
	assert.Equal(t, 2, line)

	record, line, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, line)
	row, err := DecodeContingency(record)
	require.NoError(t, err)
	assert.Nil(t, row.EndedAt)
	assert.Equal(t, "Ana", row.StartedByName)
}

func TestContingencyRoundTrip(t *testing.T) {
	ended := time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC)
	user := snowflake.ID(77)
	row := ContingencyRowFrom(contingencydomain.Contingency{
		ID: 5, LocationCode: "001", StartedAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		EndedAt: &ended, StartedByID: &user, StartedByName: "Juan",
	})
	decoded, err := DecodeContingency(row.Record())
	require.NoError(t, err)
	assert.Equal(t, row, decoded)
}

func TestRowKeyIsStable(t *testing.T) {
	a := RowKey([]string{"1", "a,b", "c"})
	assert.Equal(t, a, RowKey([]string{"1", "a,b", "c"}))
	assert.NotEqual(t, a, RowKey([]string{"1", "a", "b,c"}))
	assert.Len(t, a, 64)
}

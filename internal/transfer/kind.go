package transfer

import (
	"errors"
	"io"
	"strings"

	"github.com/smallbiznis/possync/internal/batch"
)

// Kind names one of the files exchanged during a push.
type Kind string

const (
	KindContingencies Kind = "contingencies"
	KindSales         Kind = "sales"
	KindPayments      Kind = "payments"
)

// Kinds is the order files are sent and ingested in. Contingencies go first so
// sales and payments can resolve them.
var Kinds = []Kind{KindContingencies, KindSales, KindPayments}

var ErrUnknownKind = errors.New("unknown transfer kind")

func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch k {
	case KindContingencies, KindSales, KindPayments:
		return k, nil
	default:
		return "", ErrUnknownKind
	}
}

func (k Kind) Header() []string {
	switch k {
	case KindContingencies:
		return ContingenciesHeader
	case KindSales:
		return SalesHeader
	case KindPayments:
		return PaymentsHeader
	default:
		return nil
	}
}

func (k Kind) FileName() string {
	return string(k) + ".csv"
}

// Decode parses a record of this kind without keeping the result.
func (k Kind) Decode(record []string) error {
	var err error
	switch k {
	case KindContingencies:
		_, err = DecodeContingency(record)
	case KindSales:
		_, err = DecodeSale(record)
	case KindPayments:
		_, err = DecodePayment(record)
	default:
		err = ErrUnknownKind
	}
	return err
}

// Validate reads a whole file and reports which rows decode.
func Validate(kind Kind, r io.Reader) (batch.Result, error) {
	var result batch.Result
	reader, err := NewReader(r, kind.Header())
	if err != nil {
		return result, err
	}
	for {
		record, line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return result, nil
		}
		if err == nil {
			err = kind.Decode(record)
		}
		if err != nil {
			result.Fail(line, recordKey(record), err)
			continue
		}
		result.Ok()
	}
}

func recordKey(record []string) string {
	if len(record) == 0 {
		return ""
	}
	return strings.TrimSpace(record[0])
}

// Package transfer is the CSV codec shared by the push pipeline and the admin
// ingestion job. Column order is fixed; both ends must agree on it.
package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	DateTimeLayout = "2006-01-02 15:04:05"
	DateLayout     = "2006-01-02"
)

var (
	ErrHeaderMismatch = errors.New("csv header mismatch")
	ErrFieldCount     = errors.New("wrong number of fields")
)

// Writer writes a header and then one record per row.
type Writer struct {
	csv    *csv.Writer
	fields int
	rows   int
}

func NewWriter(w io.Writer, header []string) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	return &Writer{csv: cw, fields: len(header)}, nil
}

func (w *Writer) Write(record []string) error {
	if len(record) != w.fields {
		return fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(record), w.fields)
	}
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Flush writes buffered data and reports any write error.
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}

// Rows is the number of data rows written, header excluded.
func (w *Writer) Rows() int {
	return w.rows
}

// Reader yields records after checking the header.
type Reader struct {
	csv    *csv.Reader
	fields int
	line   int
}

func NewReader(r io.Reader, header []string) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	got, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", ErrHeaderMismatch)
		}
		return nil, err
	}
	if len(got) > 0 {
		got[0] = strings.TrimPrefix(got[0], "\ufeff")
	}
	if len(got) != len(header) {
		return nil, fmt.Errorf("%w: got %d columns, want %d", ErrHeaderMismatch, len(got), len(header))
	}
	for i := range header {
		if strings.TrimSpace(got[i]) != header[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrHeaderMismatch, i+1, got[i], header[i])
		}
	}
	return &Reader{csv: cr, fields: len(header), line: 1}, nil
}

// Next returns the next record and its 1-based line number. io.EOF ends the
// stream; any other error concerns that record only and reading may go on.
func (r *Reader) Next() ([]string, int, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, r.line, io.EOF
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.line = parseErr.StartLine
		}
		return nil, r.line, err
	}
	r.line, _ = r.csv.FieldPos(0)
	if len(record) != r.fields {
		return record, r.line, fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(record), r.fields)
	}
	return record, r.line, nil
}

// RowKey is a stable digest of a record, used as the idempotency key of the
// row it came from.
func RowKey(record []string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(record)
	w.Flush()
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateTimeLayout)
}

func formatOptionalDateTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDateTime(*t)
}

func formatOptionalDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}

func formatOptionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

// fieldReader pulls typed values out of a record, remembering the first error.
type fieldReader struct {
	record []string
	err    error
}

func (f *fieldReader) raw(i int) string {
	if i >= len(f.record) {
		return ""
	}
	return strings.TrimSpace(f.record[i])
}

func (f *fieldReader) fail(name, format string, args ...any) {
	if f.err == nil {
		f.err = fmt.Errorf("%s: %s", name, fmt.Sprintf(format, args...))
	}
}

func (f *fieldReader) required(i int, name string) string {
	v := f.raw(i)
	if v == "" {
		f.fail(name, "missing value")
	}
	return v
}

func (f *fieldReader) number(i int, name string) int64 {
	v := f.raw(i)
	if v == "" {
		f.fail(name, "missing value")
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		f.fail(name, "invalid integer %q", v)
	}
	return n
}

func (f *fieldReader) count(i int, name string) int {
	return int(f.number(i, name))
}

func (f *fieldReader) optionalInt64(i int, name string) int64 {
	if f.raw(i) == "" {
		return 0
	}
	return f.number(i, name)
}

func (f *fieldReader) optionalID(i int, name string) *int64 {
	if f.raw(i) == "" {
		return nil
	}
	n := f.number(i, name)
	return &n
}

func (f *fieldReader) dateTime(i int, name string) time.Time {
	v := f.raw(i)
	if v == "" {
		f.fail(name, "missing value")
		return time.Time{}
	}
	t, err := time.ParseInLocation(DateTimeLayout, v, time.UTC)
	if err != nil {
		f.fail(name, "invalid datetime %q", v)
	}
	return t
}

func (f *fieldReader) optionalDateTime(i int, name string) *time.Time {
	if f.raw(i) == "" {
		return nil
	}
	t := f.dateTime(i, name)
	return &t
}

func (f *fieldReader) date(i int, name string) time.Time {
	v := f.raw(i)
	if v == "" {
		f.fail(name, "missing value")
		return time.Time{}
	}
	t, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		f.fail(name, "invalid date %q", v)
	}
	return t
}

func (f *fieldReader) optionalDate(i int, name string) *time.Time {
	if f.raw(i) == "" {
		return nil
	}
	t := f.date(i, name)
	return &t
}

func (f *fieldReader) decimal(i int, name string) decimal.Decimal {
	v := f.raw(i)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		f.fail(name, "invalid decimal %q", v)
	}
	return d
}

func idPtr(id *snowflake.ID) *int64 {
	if id == nil {
		return nil
	}
	v := id.Int64()
	return &v
}

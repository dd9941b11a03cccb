package transfer

import (
	"strconv"
	"time"

	contingencydomain "github.com/smallbiznis/possync/internal/contingency/domain"
)

var ContingenciesHeader = []string{
	"id", "locationCode", "startedAt", "endedAt", "startedById", "startedByName",
}

type ContingencyRow struct {
	ID            int64
	LocationCode  string
	StartedAt     time.Time
	EndedAt       *time.Time
	StartedByID   *int64
	StartedByName string
}

func ContingencyRowFrom(c contingencydomain.Contingency) ContingencyRow {
	return ContingencyRow{
		ID:            c.ID.Int64(),
		LocationCode:  c.LocationCode,
		StartedAt:     c.StartedAt,
		EndedAt:       c.EndedAt,
		StartedByID:   idPtr(c.StartedByID),
		StartedByName: c.StartedByName,
	}
}

func (r ContingencyRow) Record() []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.LocationCode,
		formatDateTime(r.StartedAt),
		formatOptionalDateTime(r.EndedAt),
		formatOptionalID(r.StartedByID),
		r.StartedByName,
	}
}

func DecodeContingency(record []string) (ContingencyRow, error) {
	f := &fieldReader{record: record}
	row := ContingencyRow{
		ID:            f.number(0, "id"),
		LocationCode:  f.required(1, "locationCode"),
		StartedAt:     f.dateTime(2, "startedAt"),
		EndedAt:       f.optionalDateTime(3, "endedAt"),
		StartedByID:   f.optionalID(4, "startedById"),
		StartedByName: f.raw(5),
	}
	if f.err != nil {
		return ContingencyRow{}, f.err
	}
	return row, nil
}

package batch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultAccounting(t *testing.T) {
	var r Result
	r.Ok()
	r.Ok()
	r.Skip()
	r.Fail(4, "F-002", errors.New("missing amount"))
	r.Fail(5, "", nil)

	assert.Equal(t, 2, r.Processed)
	assert.Equal(t, 1, r.Skipped)
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, []string{"payments line 4 [F-002]: missing amount"}, r.ErrorStrings("payments"))
}

func TestResultMerge(t *testing.T) {
	a := Result{Processed: 1, Errors: []RowError{{Line: 2, Err: "bad"}}}
	b := Result{Processed: 2, Skipped: 1, Errors: []RowError{{Err: "worse"}}}

	a.Merge(b)

	assert.Equal(t, 3, a.Processed)
	assert.Equal(t, 1, a.Skipped)
	assert.Equal(t, []string{"line 2: bad", "worse"}, a.ErrorStrings(""))
}

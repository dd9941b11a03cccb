// Package batch carries the outcome of row-oriented operations that keep going
// after individual rows fail.
package batch

import (
	"fmt"
	"strings"
)

// RowError describes one rejected row. Line is 1-based and counts the header
// for CSV sources.
type RowError struct {
	Line int    `json:"line,omitempty"`
	Key  string `json:"key,omitempty"`
	Err  string `json:"error"`
}

func (e RowError) String() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d", e.Line)
	}
	if e.Key != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%s]", e.Key)
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Err)
	return b.String()
}

// Result counts processed, skipped and failed rows.
type Result struct {
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Errors    []RowError `json:"errors,omitempty"`
}

func (r *Result) Ok() {
	r.Processed++
}

func (r *Result) Skip() {
	r.Skipped++
}

func (r *Result) Fail(line int, key string, err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, RowError{Line: line, Key: key, Err: err.Error()})
}

// Merge folds other into r.
func (r *Result) Merge(other Result) {
	r.Processed += other.Processed
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

func (r Result) Failed() int {
	return len(r.Errors)
}

// ErrorStrings renders every row error, prefixed with kind when set.
func (r Result) ErrorStrings(kind string) []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if kind != "" {
			out = append(out, kind+" "+e.String())
			continue
		}
		out = append(out, e.String())
	}
	return out
}

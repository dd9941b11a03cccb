package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/smallbiznis/possync/internal/batch"
	"github.com/smallbiznis/possync/internal/ingestion"
	"github.com/smallbiznis/possync/internal/pushsync"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
)

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printPullEvent(w io.Writer, event *syncdomain.SyncEvent) {
	details := event.Details.Data()
	fmt.Fprintf(w, "Pull %s finished with status %s: %d client(s) loaded\n", event.ID, event.Status, details.ClientsSynced)
	for _, e := range details.Errors {
		fmt.Fprintf(w, "  warning: %s\n", e)
	}
}

func printPushResult(w io.Writer, result pushsync.Result) {
	if result.SyncEventID == 0 {
		fmt.Fprintln(w, "Nothing to sync: no closed contingencies pending")
		return
	}
	fmt.Fprintf(w, "Push %s (admin event %d): %d contingencies, %d sales, %d payments sent\n",
		result.SyncEventID, result.RemoteSyncID, result.ContingenciesSynced, result.SalesSynced, result.PaymentsSynced)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  error: %s\n", e)
	}
}

func printIngestion(w io.Writer, results []ingestion.EventResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No uploaded pushes pending")
		return
	}
	tw := newTabWriter(w)
	fmt.Fprintln(tw, "LOCATION\tEVENT\tSTATUS\tCONTINGENCIES\tSALES\tPAYMENTS\tSUPERSEDED")
	for _, r := range results {
		status := string(r.Status)
		if status == "" {
			status = "claimed elsewhere"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.LocationCode, r.SyncEventID, status,
			batchSummary(r.Batches["contingencies"]),
			batchSummary(r.Batches["sales"]),
			batchSummary(r.Batches["payments"]),
			len(r.Superseded),
		)
	}
	_ = tw.Flush()

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s: %v\n", r.LocationCode, r.Err)
		}
		for _, kind := range []string{"contingencies", "sales", "payments"} {
			for _, e := range r.Batches[kind].ErrorStrings(kind) {
				fmt.Fprintf(w, "%s: %s\n", r.LocationCode, e)
			}
		}
	}
}

func batchSummary(r batch.Result) string {
	parts := []string{fmt.Sprintf("%d", r.Processed)}
	if r.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", r.Skipped))
	}
	if n := r.Failed(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	return strings.Join(parts, ", ")
}

package runlog

import (
	"time"
	"unicode/utf8"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-sheets-sync/internal/sheetsync"
)

// maxErrorLen caps error_message so one noisy provider error cannot bloat the row.
const maxErrorLen = 2000

// SyncRunRow is one account's line of one sync run.
type SyncRunRow struct {
	RunID     string `bigquery:"run_id"`     // REQUIRED
	AccountID string `bigquery:"account_id"` // REQUIRED

	DisplayName string `bigquery:"display_name"`
	Destination string `bigquery:"destination"`

	StartedTS   time.Time  `bigquery:"started_ts"`
	FinishedTS  time.Time  `bigquery:"finished_ts"`
	WindowStart civil.Date `bigquery:"window_start"`
	WindowEnd   civil.Date `bigquery:"window_end"`
	DryRun      bool       `bigquery:"dry_run"`

	Fetched  int64 `bigquery:"fetched"`
	Filtered int64 `bigquery:"filtered"`
	Skipped  int64 `bigquery:"skipped"`
	New      int64 `bigquery:"new_rows"`

	Status       string              `bigquery:"status"`
	FailureKind  bigquery.NullString `bigquery:"failure_kind"`  // NULLABLE
	ErrorMessage bigquery.NullString `bigquery:"error_message"` // NULLABLE
	DurationMS   int64               `bigquery:"duration_ms"`
}

// RowsFromReport flattens a report into one row per account.
func RowsFromReport(r *sheetsync.Report) []*SyncRunRow {
	rows := make([]*SyncRunRow, 0, len(r.Accounts))
	for _, a := range r.Accounts {
		row := &SyncRunRow{
			RunID:       r.RunID,
			AccountID:   a.AccountID,
			DisplayName: a.DisplayName,
			Destination: a.Destination,
			StartedTS:   r.StartedAt,
			FinishedTS:  r.FinishedAt,
			WindowStart: r.WindowStart,
			WindowEnd:   r.WindowEnd,
			DryRun:      r.DryRun,
			Fetched:     int64(a.Fetched),
			Filtered:    int64(a.Filtered),
			Skipped:     int64(a.Skipped),
			New:         int64(a.New),
			Status:      string(a.Status),
			DurationMS:  a.Duration.Milliseconds(),
		}
		if a.Kind != sheetsync.FailureNone {
			row.FailureKind = bigquery.NullString{StringVal: string(a.Kind), Valid: true}
		}
		if a.Err != nil {
			row.ErrorMessage = bigquery.NullString{StringVal: truncate(a.Err.Error(), maxErrorLen), Valid: true}
		}
		rows = append(rows, row)
	}
	return rows
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

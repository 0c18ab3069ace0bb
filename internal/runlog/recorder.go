// Package runlog keeps a history of sync runs in BigQuery.
package runlog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"

	"github.com/dvloznov/bank-sheets-sync/internal/logger"
	"github.com/dvloznov/bank-sheets-sync/internal/sheetsync"
)

// inserter is the part of *bigquery.Inserter the recorder uses.
type inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// Recorder streams sync reports into a BigQuery table.
type Recorder struct {
	client *bigquery.Client
	table  *bigquery.Table
	ins    inserter
}

var _ sheetsync.RunRecorder = (*Recorder)(nil)

// NewRecorder creates a Recorder for project.dataset.table. The table is
// created on first use if it does not exist.
func NewRecorder(ctx context.Context, projectID, dataset, table string) (*Recorder, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRecorder: creating client: %w", err)
	}
	t := client.Dataset(dataset).Table(table)
	return &Recorder{client: client, table: t, ins: t.Inserter()}, nil
}

// Close closes the BigQuery client connection.
func (r *Recorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTable creates the run table with a schema inferred from SyncRunRow
// when it is missing.
func (r *Recorder) EnsureTable(ctx context.Context) error {
	if r.table == nil {
		return nil
	}
	_, err := r.table.Metadata(ctx)
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusNotFound {
		return fmt.Errorf("EnsureTable: reading table metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(SyncRunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTable: inferring schema: %w", err)
	}
	if err := r.table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return fmt.Errorf("EnsureTable: creating table: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("dataset", r.table.DatasetID).
		Str("table", r.table.TableID).
		Msg("Created sync run table")
	return nil
}

// Record inserts one row per account of the report.
func (r *Recorder) Record(ctx context.Context, report *sheetsync.Report) error {
	rows := RowsFromReport(report)
	if len(rows) == 0 {
		return nil
	}
	if err := r.ins.Put(ctx, rows); err != nil {
		return fmt.Errorf("Record: inserting %d rows for run %s: %w", len(rows), report.RunID, err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("run_id", report.RunID).
		Int("rows", len(rows)).
		Msg("Recorded sync run")
	return nil
}

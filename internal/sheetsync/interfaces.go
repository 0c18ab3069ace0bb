package sheetsync

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// TransactionSource is the aggregation provider as seen by the sync engine.
type TransactionSource interface {
	// FetchTransactions returns every transaction dated within [start, end]
	// for the credential.
	FetchTransactions(ctx context.Context, accessToken string, start, end civil.Date) ([]domain.Transaction, error)
}

// Destination is the spreadsheet as seen by the sync engine.
type Destination interface {
	// EnsureDestination returns the reference of the tab named label,
	// creating it (with its header) when missing. Idempotent.
	EnsureDestination(ctx context.Context, label string) (string, error)

	// ReadExistingIDs returns every transaction id already written to ref.
	ReadExistingIDs(ctx context.Context, ref string) (map[string]struct{}, error)

	// AppendRows writes txns after the last row of ref in one request.
	AppendRows(ctx context.Context, ref string, txns []domain.Transaction) error
}

// AccountStore is the credential store as seen by the sync engine.
type AccountStore interface {
	List() []domain.Account
	RecordSync(id, destinationRef string, at time.Time) error
}

// Classifier fills in category and project.
type Classifier interface {
	Apply(tx *domain.Transaction)
}

// RunRecorder receives the report of every finished run.
type RunRecorder interface {
	Record(ctx context.Context, report *Report) error
}

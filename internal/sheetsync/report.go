package sheetsync

import (
	"errors"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// Status is the result of syncing one account.
type Status string

const (
	// StatusOK means the account was fully synced.
	StatusOK Status = "ok"
	// StatusFailed means the account was skipped for this run.
	StatusFailed Status = "failed"
)

// FailureKind says where an account sync failed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureAuth        FailureKind = "auth"
	FailureTransient   FailureKind = "transient"
	FailureDestination FailureKind = "destination"
	FailureStore       FailureKind = "store"
	FailureOther       FailureKind = "other"
)

// Outcome summarises a whole run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// AccountResult is the per-account line of a Report.
type AccountResult struct {
	AccountID   string
	DisplayName string
	Destination string

	Fetched  int // returned by the provider in the window
	Filtered int // dropped before dedup (pending, no id)
	Skipped  int // already present in the destination
	New      int // appended this run

	Status   Status
	Kind     FailureKind
	Err      error
	Duration time.Duration
}

// Report describes one sync run.
type Report struct {
	RunID       string
	DryRun      bool
	WindowStart civil.Date
	WindowEnd   civil.Date
	StartedAt   time.Time
	FinishedAt  time.Time
	Accounts    []AccountResult
}

// Outcome is ok when no account failed, failed when every account failed and
// partial otherwise.
func (r *Report) Outcome() Outcome {
	failed := len(r.Failed())
	switch {
	case failed == 0:
		return OutcomeOK
	case failed == len(r.Accounts):
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Failed returns the accounts that did not sync.
func (r *Report) Failed() []AccountResult {
	var out []AccountResult
	for _, a := range r.Accounts {
		if a.Status == StatusFailed {
			out = append(out, a)
		}
	}
	return out
}

// NewRows is the number of rows appended across all accounts.
func (r *Report) NewRows() int {
	n := 0
	for _, a := range r.Accounts {
		n += a.New
	}
	return n
}

// kindOf prefers what the error says about itself over where it happened.
func kindOf(where FailureKind, err error) FailureKind {
	switch {
	case errors.Is(err, domain.ErrAuthExpired):
		return FailureAuth
	case errors.Is(err, domain.ErrTransient):
		return FailureTransient
	default:
		return where
	}
}

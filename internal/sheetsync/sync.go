// Package sheetsync copies new provider transactions into each account's
// destination tab.
package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
	"github.com/dvloznov/bank-sheets-sync/internal/logger"
)

// DefaultWindowDays is how far back each run looks.
const DefaultWindowDays = 60

// recordTimeout bounds the run-history write, which outlives the run context.
const recordTimeout = 30 * time.Second

// Options tunes a Syncer.
type Options struct {
	WindowDays     int
	IncludePending bool
	DryRun         bool

	// Recorder, if set, receives the report at the end of every run.
	Recorder RunRecorder
	// Now defaults to time.Now.
	Now func() time.Time
}

// Syncer runs sync passes over every linked account.
type Syncer struct {
	store      AccountStore
	source     TransactionSource
	dest       Destination
	classifier Classifier
	opts       Options
}

// New creates a Syncer.
func New(store AccountStore, source TransactionSource, dest Destination, classifier Classifier, opts Options) *Syncer {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{store: store, source: source, dest: dest, classifier: classifier, opts: opts}
}

// SyncAll syncs every account in store order. A failing account is recorded
// in the report and the run moves on to the next one.
func (s *Syncer) SyncAll(ctx context.Context) *Report {
	log := logger.FromContext(ctx)

	started := s.opts.Now()
	end := civil.DateOf(started)
	report := &Report{
		RunID:       uuid.NewString(),
		DryRun:      s.opts.DryRun,
		WindowStart: end.AddDays(-s.opts.WindowDays),
		WindowEnd:   end,
		StartedAt:   started,
	}

	accounts := s.store.List()

	log.Info().
		Str("run_id", report.RunID).
		Str("start_date", report.WindowStart.String()).
		Str("end_date", report.WindowEnd.String()).
		Int("account_count", len(accounts)).
		Bool("dry_run", s.opts.DryRun).
		Msg("Starting transaction sync")

	if len(accounts) == 0 {
		log.Warn().Msg("No bank accounts linked, nothing to sync")
	}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			report.Accounts = append(report.Accounts, AccountResult{
				AccountID:   acc.ID,
				DisplayName: acc.DisplayName,
				Status:      StatusFailed,
				Kind:        FailureTransient,
				Err:         err,
			})
			continue
		}
		report.Accounts = append(report.Accounts, s.syncAccount(ctx, acc, report.WindowStart, report.WindowEnd))
	}

	report.FinishedAt = s.opts.Now()

	log.Info().
		Str("run_id", report.RunID).
		Str("outcome", string(report.Outcome())).
		Int("accounts", len(report.Accounts)).
		Int("failed", len(report.Failed())).
		Int("new_rows", report.NewRows()).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Transaction sync completed")

	if s.opts.Recorder != nil {
		// A run cut short by its deadline is still worth recording.
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := s.opts.Recorder.Record(recCtx, report); err != nil {
			log.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to record sync run")
		}
	}

	return report
}

func (s *Syncer) syncAccount(ctx context.Context, acc domain.Account, start, end civil.Date) AccountResult {
	log := logger.FromContext(ctx).With().
		Str("account_id", acc.ID).
		Str("account", acc.DisplayName).
		Logger()
	ctx = logger.WithContext(ctx, log)

	began := s.opts.Now()
	res := AccountResult{
		AccountID:   acc.ID,
		DisplayName: acc.DisplayName,
	}
	fail := func(where FailureKind, err error) AccountResult {
		res.Status = StatusFailed
		res.Kind = kindOf(where, err)
		res.Err = err
		res.Duration = s.opts.Now().Sub(began)
		log.Error().
			Err(err).
			Str("failure", string(res.Kind)).
			Msg("Account sync failed, continuing with next account")
		return res
	}

	ref, existing, err := s.resolveDestination(ctx, acc)
	if err != nil {
		return fail(FailureDestination, err)
	}
	res.Destination = ref

	fetched, err := s.source.FetchTransactions(ctx, acc.Credential, start, end)
	if err != nil {
		return fail(FailureOther, fmt.Errorf("fetching transactions: %w", err))
	}
	res.Fetched = len(fetched)

	log.Info().
		Int("transaction_count", len(fetched)).
		Int("existing_rows", len(existing)).
		Msg("Retrieved transactions from provider")

	var fresh []domain.Transaction
	for _, tx := range fetched {
		if tx.TransactionID == "" || (tx.Pending && !s.opts.IncludePending) {
			res.Filtered++
			continue
		}
		// Amended transactions keep their id and are skipped as well.
		if _, ok := existing[tx.TransactionID]; ok {
			res.Skipped++
			continue
		}
		existing[tx.TransactionID] = struct{}{}

		s.classifier.Apply(&tx)
		fresh = append(fresh, tx)
	}

	if s.opts.DryRun {
		for _, tx := range fresh {
			log.Info().
				Str("transaction_id", tx.TransactionID).
				Str("category", tx.Category).
				Str("project", tx.Project).
				Msg("[DRY RUN] Would append transaction")
		}
		res.New = len(fresh)
		res.Status = StatusOK
		res.Duration = s.opts.Now().Sub(began)
		return res
	}

	if len(fresh) > 0 {
		if err := s.dest.AppendRows(ctx, ref, fresh); err != nil {
			return fail(FailureDestination, err)
		}
	}
	res.New = len(fresh)

	if err := s.store.RecordSync(acc.ID, ref, s.opts.Now()); err != nil {
		// Rows are written; the next run dedups them, so only the watermark is lost.
		return fail(FailureStore, fmt.Errorf("recording sync: %w", err))
	}

	res.Status = StatusOK
	res.Duration = s.opts.Now().Sub(began)
	log.Info().
		Str("destination", ref).
		Int("new", res.New).
		Int("skipped", res.Skipped).
		Int("filtered", res.Filtered).
		Msg("Account synced")
	return res
}

// resolveDestination returns the tab for acc and the ids already in it. The
// tab is ensured on every run so a deleted tab is recreated.
func (s *Syncer) resolveDestination(ctx context.Context, acc domain.Account) (string, map[string]struct{}, error) {
	log := logger.FromContext(ctx)

	ref := acc.DestinationRef
	if ref == "" {
		ref = acc.DestinationLabel
	}
	if ref == "" {
		ref = acc.DisplayName
	}

	if s.opts.DryRun {
		existing, err := s.dest.ReadExistingIDs(ctx, ref)
		switch {
		case errors.Is(err, domain.ErrDestinationNotFound):
			log.Info().Str("tab", ref).Msg("[DRY RUN] Would create destination tab")
			return ref, map[string]struct{}{}, nil
		case err != nil:
			return "", nil, fmt.Errorf("reading existing ids: %w", err)
		}
		if existing == nil {
			existing = map[string]struct{}{}
		}
		return ref, existing, nil
	}

	ensured, err := s.dest.EnsureDestination(ctx, ref)
	if err != nil {
		return "", nil, fmt.Errorf("ensuring destination %q: %w", ref, err)
	}
	if acc.DestinationRef != "" && ensured != acc.DestinationRef {
		log.Info().Str("previous", acc.DestinationRef).Str("tab", ensured).Msg("Destination tab changed")
	}

	existing, err := s.dest.ReadExistingIDs(ctx, ensured)
	if err != nil {
		return "", nil, fmt.Errorf("reading existing ids: %w", err)
	}
	if existing == nil {
		existing = map[string]struct{}{}
	}
	return ensured, existing, nil
}

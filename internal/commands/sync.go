package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/bank-sheets-sync/internal/accounts"
	"github.com/dvloznov/bank-sheets-sync/internal/categorize"
	"github.com/dvloznov/bank-sheets-sync/internal/config"
	"github.com/dvloznov/bank-sheets-sync/internal/domain"
	"github.com/dvloznov/bank-sheets-sync/internal/runlog"
	"github.com/dvloznov/bank-sheets-sync/internal/sheets"
	"github.com/dvloznov/bank-sheets-sync/internal/sheetsync"
)

type syncFlags struct {
	dryRun     bool
	windowDays int
	timeout    time.Duration
}

func newSyncCommand(envFile *string) *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Append new transactions of every linked account to its tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			return runSync(cmd.Context(), a, flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "show what would be appended without writing anything")
	cmd.Flags().IntVar(&flags.windowDays, "window-days", 0, "days to look back (default SYNC_WINDOW_DAYS)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Minute, "abort the run after this long")
	return cmd
}

func runSync(parent context.Context, a *app, flags syncFlags, out io.Writer) error {
	// Everything the run needs is checked before any network call.
	if err := a.cfg.Require(config.NeedPlaid, config.NeedSheets); err != nil {
		return err
	}

	classifier := categorize.New()
	if a.cfg.RulesFile != "" {
		var err error
		if classifier, err = categorize.LoadRules(a.cfg.RulesFile); err != nil {
			return err
		}
	}

	svc, client, err := a.accountService()
	if err != nil {
		return err
	}
	store := svc.Store()

	// Create context with timeout so an unattended run doesn't hang
	ctx, cancel := context.WithTimeout(a.context(parent), flags.timeout)
	defer cancel()

	if len(store.List()) == 0 && !flags.dryRun {
		if err := migrateBeforeSync(ctx, svc, a.cfg.Store.LegacyTokenFile); err != nil {
			return err
		}
	}

	writer, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:     a.cfg.Sheets.SpreadsheetID,
		CredentialsFile:   a.cfg.Sheets.CredentialsFile,
		RequestsPerMinute: a.cfg.Sheets.RequestsPerMinute,
	})
	if err != nil {
		return err
	}

	windowDays := a.cfg.Sync.WindowDays
	if flags.windowDays > 0 {
		windowDays = flags.windowDays
	}
	opts := sheetsync.Options{
		WindowDays:     windowDays,
		IncludePending: a.cfg.Sync.IncludePending,
		DryRun:         flags.dryRun,
	}

	if a.cfg.RunLog.Enabled() && !flags.dryRun {
		rec, err := openRecorder(ctx, a.cfg.RunLog)
		if err != nil {
			a.log.Warn().Err(err).Msg("Run history disabled for this run")
		} else {
			defer rec.Close()
			opts.Recorder = rec
		}
	}

	report := sheetsync.New(store, client, writer, classifier, opts).SyncAll(ctx)
	if err := printReport(out, report); err != nil {
		return err
	}
	return reportExit(report)
}

func migrateBeforeSync(ctx context.Context, svc *accounts.Service, legacyPath string) error {
	_, _, err := svc.MigrateLegacy(ctx, legacyPath)
	if err != nil && !errors.Is(err, domain.ErrNoLegacyCredential) {
		return fmt.Errorf("migrating legacy credential: %w", err)
	}
	return nil
}

func openRecorder(ctx context.Context, cfg config.RunLogConfig) (*runlog.Recorder, error) {
	rec, err := runlog.NewRecorder(ctx, cfg.ProjectID, cfg.Dataset, cfg.Table)
	if err != nil {
		return nil, err
	}
	if err := rec.EnsureTable(ctx); err != nil {
		_ = rec.Close()
		return nil, err
	}
	return rec, nil
}

func printReport(out io.Writer, report *sheetsync.Report) error {
	prefix := ""
	if report.DryRun {
		prefix = "[DRY RUN] "
	}
	fmt.Fprintf(out, "%sSync %s to %s\n", prefix, report.WindowStart, report.WindowEnd)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tTAB\tFETCHED\tNEW\tSKIPPED\tSTATUS")
	for _, r := range report.Accounts {
		status := string(r.Status)
		if r.Err != nil {
			status = fmt.Sprintf("%s (%s): %v", r.Status, r.Kind, r.Err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", r.DisplayName, r.Destination, r.Fetched, r.New, r.Skipped, status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s%d new rows across %d accounts (%s)\n", prefix, report.NewRows(), len(report.Accounts), report.Outcome())
	return nil
}

func reportExit(report *sheetsync.Report) error {
	switch report.Outcome() {
	case sheetsync.OutcomePartial:
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("%d of %d accounts failed to sync", len(report.Failed()), len(report.Accounts))}
	case sheetsync.OutcomeFailed:
		return &ExitError{Code: ExitFailure, Err: errors.New("every account failed to sync")}
	default:
		return nil
	}
}

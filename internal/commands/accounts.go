package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/bank-sheets-sync/internal/backup"
	"github.com/dvloznov/bank-sheets-sync/internal/config"
	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

const accountsTimeout = 5 * time.Minute

func newAccountsCommand(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage linked bank accounts",
	}

	cmd.AddCommand(
		newAccountsListCommand(envFile),
		newAccountsRemoveCommand(envFile),
		newAccountsTestCommand(envFile),
		newAccountsMigrateCommand(envFile),
		newAccountsBackupCommand(envFile),
	)
	return cmd
}

func newAccountsListCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List linked accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}

			list := store.List()
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No bank accounts linked. Run `banksync link serve` to add one.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tINSTITUTION\tTAB\tACCOUNTS\tLAST SYNC")
			for _, acc := range list {
				last := "never"
				if acc.LastSyncedAt != nil {
					last = acc.LastSyncedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					acc.ID, acc.DisplayName, acc.InstitutionName, acc.DestinationLabel,
					strings.Join(acc.Masks(), ","), last)
			}
			return tw.Flush()
		},
	}
}

func newAccountsRemoveCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a linked account (its tab is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openStore()
			if err != nil {
				return err
			}

			removed, err := store.Remove(args[0])
			if err != nil {
				return err
			}

			a.log.Info().Object("account", removed).Msg("Removed bank account")
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s; tab %q was left in place\n", removed.DisplayName, removed.DestinationLabel)
			return nil
		},
	}
}

func newAccountsTestCommand(envFile *string) *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check that stored credentials still work",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, _, err := a.accountService()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(a.context(cmd.Context()), accountsTimeout)
			defer cancel()

			results, err := svc.TestConnections(ctx, id)
			if err != nil {
				return err
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, r := range results {
				switch {
				case r.Err == nil:
					fmt.Fprintf(out, "OK      %s (%d accounts)\n", r.Account.DisplayName, r.SubAccounts)
				case errors.Is(r.Err, domain.ErrAuthExpired):
					failed++
					fmt.Fprintf(out, "RELINK  %s: login required, run `banksync link serve`\n", r.Account.DisplayName)
				default:
					failed++
					fmt.Fprintf(out, "FAILED  %s: %v\n", r.Account.DisplayName, r.Err)
				}
			}
			return failureExit(failed, len(results), "connection test")
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "only test this account")
	return cmd
}

func newAccountsMigrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Move the single-account credential file into the account store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, _, err := a.accountService()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(a.context(cmd.Context()), accountsTimeout)
			defer cancel()

			acc, migrated, err := svc.MigrateLegacy(ctx, a.cfg.Store.LegacyTokenFile)
			out := cmd.OutOrStdout()
			switch {
			case errors.Is(err, domain.ErrNoLegacyCredential):
				fmt.Fprintln(out, "No legacy credential found, nothing to migrate")
				return nil
			case err != nil:
				return err
			case !migrated:
				fmt.Fprintf(out, "Already migrated as account %s\n", acc.ID)
				return nil
			}

			m, _ := svc.Store().LegacyMigration()
			fmt.Fprintf(out, "Migrated legacy credential as %s (id %s); backup at %s\n", acc.DisplayName, acc.ID, m.BackupPath)
			return nil
		},
	}
}

func newAccountsBackupCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Upload the account store to the backup bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.Require(config.NeedBackup); err != nil {
				return err
			}

			// Opening validates the file before it leaves the machine.
			store, err := a.openStore()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(a.context(cmd.Context()), accountsTimeout)
			defer cancel()

			gcs, err := backup.NewGCSStorageService(ctx)
			if err != nil {
				return err
			}
			defer gcs.Close()

			paths := []string{store.Path()}
			if m, ok := store.LegacyMigration(); ok {
				paths = append(paths, m.BackupPath)
			}

			objs, err := backup.New(gcs, a.cfg.Backup.Bucket, a.cfg.Backup.Prefix).Snapshot(ctx, paths...)
			if err != nil {
				return err
			}
			for _, o := range objs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", o.LocalPath, o.URI)
			}
			return nil
		},
	}
}

// failureExit turns a failure count into the partial/total exit convention.
func failureExit(failed, total int, what string) error {
	switch {
	case failed == 0:
		return nil
	case failed == total:
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s failed for all %d accounts", what, total)}
	default:
		return &ExitError{Code: ExitPartial, Err: fmt.Errorf("%s failed for %d of %d accounts", what, failed, total)}
	}
}

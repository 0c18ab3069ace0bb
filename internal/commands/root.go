// Package commands implements the banksync command line.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/bank-sheets-sync/internal/accounts"
	"github.com/dvloznov/bank-sheets-sync/internal/buildinfo"
	"github.com/dvloznov/bank-sheets-sync/internal/config"
	"github.com/dvloznov/bank-sheets-sync/internal/logger"
	"github.com/dvloznov/bank-sheets-sync/internal/plaidclient"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:     "banksync",
		Short:   "Sync bank transactions from Plaid into Google Sheets",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load configuration from this file instead of ./.env")

	rootCmd.AddCommand(
		newLinkCommand(&envFile),
		newAccountsCommand(&envFile),
		newSyncCommand(&envFile),
		newVersionCommand(),
	)

	return rootCmd
}

// app is what every command starts from: validated configuration and a
// logger carried in the context.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
}

func newApp(envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	log, closer, err := logger.Setup(logger.Options{Level: cfg.LogLevel, Dir: cfg.LogDir})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, closer: closer}, nil
}

func (a *app) Close() {
	_ = a.closer.Close()
}

func (a *app) context(parent context.Context) context.Context {
	return logger.WithContext(parent, a.log)
}

func (a *app) openStore() (*accounts.Store, error) {
	return accounts.Open(a.cfg.Store.AccountsFile)
}

func (a *app) plaid() (*plaidclient.Client, error) {
	if err := a.cfg.Require(config.NeedPlaid); err != nil {
		return nil, err
	}
	return plaidclient.New(plaidclient.Config{
		ClientID: a.cfg.Plaid.ClientID,
		Secret:   a.cfg.Plaid.Secret,
		Env:      a.cfg.Plaid.Env,
	})
}

// accountService opens the store and the provider together.
func (a *app) accountService() (*accounts.Service, *plaidclient.Client, error) {
	client, err := a.plaid()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	return accounts.NewService(store, client), client, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "banksync "+buildinfo.String())
		},
	}
}

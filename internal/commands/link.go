package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/bank-sheets-sync/internal/linkserver"
)

const linkTimeout = 2 * time.Minute

func newLinkCommand(envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a new bank account",
	}

	cmd.AddCommand(
		newLinkTokenCommand(envFile),
		newLinkExchangeCommand(envFile),
		newLinkServeCommand(envFile),
	)
	return cmd
}

func newLinkTokenCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Create a link token for the hosted link flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.plaid()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(a.context(cmd.Context()), linkTimeout)
			defer cancel()

			token, err := client.CreateLinkToken(ctx, "banksync-cli-user")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newLinkExchangeCommand(envFile *string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "exchange <public-token>",
		Short: "Exchange a public token and store the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, _, err := a.accountService()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(a.context(cmd.Context()), linkTimeout)
			defer cancel()

			acc, err := svc.Link(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked %s (id %s), syncing to tab %q\n", acc.DisplayName, acc.ID, acc.DestinationLabel)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the institution name)")
	return cmd
}

func newLinkServeCommand(envFile *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a local page for linking accounts in the browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*envFile)
			if err != nil {
				return err
			}
			defer a.Close()

			svc, client, err := a.accountService()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(a.context(cmd.Context()), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Open http://%s in your browser, Ctrl-C to stop\n", addr)
			return linkserver.New(client, svc, svc.Store(), a.log).Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", linkserver.DefaultAddr, "loopback address to listen on")
	return cmd
}

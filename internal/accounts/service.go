package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
	"github.com/dvloznov/bank-sheets-sync/internal/logger"
)

// Provider is the part of the aggregation provider the account workflows need.
type Provider interface {
	// ExchangePublicToken trades the short-lived token from the link flow for
	// a long-lived credential and describes the linked institution.
	ExchangePublicToken(ctx context.Context, publicToken string) (domain.Link, error)

	// Describe looks up institution and sub-accounts for an existing credential.
	Describe(ctx context.Context, accessToken string) (domain.Link, error)

	// CheckConnection verifies the credential still works and returns the
	// number of sub-accounts it reaches.
	CheckConnection(ctx context.Context, accessToken string) (int, error)
}

// ConnectionResult is the outcome of testing one account.
type ConnectionResult struct {
	Account     domain.Account
	SubAccounts int
	Err         error
}

// Service runs the account workflows that involve both the store and the provider.
type Service struct {
	store    *Store
	provider Provider
}

// NewService creates a Service.
func NewService(store *Store, provider Provider) *Service {
	return &Service{store: store, provider: provider}
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// Link exchanges a public token and stores the resulting account.
func (s *Service) Link(ctx context.Context, publicToken, displayName string) (domain.Account, error) {
	log := logger.FromContext(ctx)

	publicToken = strings.TrimSpace(publicToken)
	if !strings.HasPrefix(publicToken, "public-") {
		return domain.Account{}, errors.New("Link: public token must start with \"public-\"")
	}

	link, err := s.provider.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return domain.Account{}, fmt.Errorf("Link: exchanging public token: %w", err)
	}

	acc, err := s.store.Add(displayName, link)
	if err != nil {
		return domain.Account{}, fmt.Errorf("Link: %w", err)
	}

	log.Info().
		Object("account", acc).
		Int("sub_accounts", len(acc.SubAccounts)).
		Msg("Linked bank account")
	return acc, nil
}

// MigrateLegacy folds the single-account credential file into the store.
// It returns false when there was nothing to do.
func (s *Service) MigrateLegacy(ctx context.Context, legacyPath string) (domain.Account, bool, error) {
	log := logger.FromContext(ctx)

	if m, done := s.store.LegacyMigration(); done {
		log.Debug().
			Str("account_id", m.AccountID).
			Time("migrated_at", m.MigratedAt).
			Msg("Legacy credential already migrated")
		acc, err := s.store.Get(m.AccountID)
		if err != nil {
			acc = domain.Account{ID: m.AccountID}
		}
		return acc, false, nil
	}

	cred, err := ReadLegacyToken(legacyPath)
	if err != nil {
		return domain.Account{}, false, err
	}

	link, err := s.provider.Describe(ctx, cred.AccessToken)
	if err != nil {
		// Still migrate; the institution details are cosmetic and the
		// credential must not be lost.
		log.Warn().Err(err).Msg("Could not describe legacy credential, migrating without institution details")
		link = domain.Link{}
	}
	link.AccessToken = cred.AccessToken

	acc, migrated, err := s.store.MigrateLegacy("", link, legacyPath)
	if err != nil {
		return acc, migrated, err
	}

	m, _ := s.store.LegacyMigration()
	log.Info().
		Object("account", acc).
		Str("backup_path", m.BackupPath).
		Msg("Migrated legacy credential")
	return acc, migrated, nil
}

// TestConnections checks every account, or only the one with id when id is set.
func (s *Service) TestConnections(ctx context.Context, id string) ([]ConnectionResult, error) {
	log := logger.FromContext(ctx)

	targets := s.store.List()
	if id != "" {
		acc, err := s.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("TestConnections: %w", err)
		}
		targets = []domain.Account{acc}
	}

	results := make([]ConnectionResult, 0, len(targets))
	for _, acc := range targets {
		n, err := s.provider.CheckConnection(ctx, acc.Credential)
		if err != nil {
			log.Warn().Err(err).Object("account", acc).Msg("Connection test failed")
		} else {
			log.Info().Object("account", acc).Int("sub_accounts", n).Msg("Connection OK")
		}
		results = append(results, ConnectionResult{Account: acc, SubAccounts: n, Err: err})
	}
	return results, nil
}

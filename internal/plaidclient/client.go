// Package plaidclient adapts the Plaid API to the account and sync workflows.
package plaidclient

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/plaid/plaid-go/v29/plaid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
	"github.com/dvloznov/bank-sheets-sync/internal/logger"
)

const (
	// PageSize is the largest page /transactions/get accepts.
	PageSize = 500

	clientName = "Bank Sheets Sync"
)

// Config holds the credentials used to reach Plaid.
type Config struct {
	ClientID string
	Secret   string
	Env      string // sandbox or production
}

// Client is the concrete Plaid adapter.
type Client struct {
	api *plaid.APIClient
}

// New creates a Client for the configured environment.
func New(cfg Config) (*Client, error) {
	env, err := environment(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	configuration.UseEnvironment(env)

	return &Client{api: plaid.NewAPIClient(configuration)}, nil
}

func environment(name string) (plaid.Environment, error) {
	switch name {
	case "", "sandbox":
		return plaid.Sandbox, nil
	case "production":
		return plaid.Production, nil
	default:
		return "", fmt.Errorf("unknown Plaid environment %q", name)
	}
}

// CreateLinkToken returns a token the link page uses to start the bank login.
func (c *Client) CreateLinkToken(ctx context.Context, clientUserID string) (string, error) {
	user := plaid.LinkTokenCreateRequestUser{ClientUserId: clientUserID}
	req := plaid.NewLinkTokenCreateRequest(clientName, "en", []plaid.CountryCode{plaid.COUNTRYCODE_US}, user)
	req.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	resp, _, err := c.api.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
	if err != nil {
		return "", fmt.Errorf("CreateLinkToken: %w", classify(err))
	}
	return resp.GetLinkToken(), nil
}

// ExchangePublicToken trades the public token for an access token and
// describes the linked institution.
func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (domain.Link, error) {
	req := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	resp, _, err := c.api.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
	if err != nil {
		return domain.Link{}, fmt.Errorf("ExchangePublicToken: %w", classify(err))
	}

	link, err := c.Describe(ctx, resp.GetAccessToken())
	if err != nil {
		// The exchange already happened; losing the token here would force a
		// re-link, so return what we have.
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Could not describe newly linked item")
		return domain.Link{AccessToken: resp.GetAccessToken(), ItemID: resp.GetItemId()}, nil
	}
	return link, nil
}

// Describe looks up the item, its institution and its sub-accounts.
func (c *Client) Describe(ctx context.Context, accessToken string) (domain.Link, error) {
	req := plaid.NewAccountsGetRequest(accessToken)
	resp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*req).Execute()
	if err != nil {
		return domain.Link{}, fmt.Errorf("Describe: getting accounts: %w", classify(err))
	}

	item := resp.GetItem()
	link := domain.Link{
		AccessToken:   accessToken,
		ItemID:        item.GetItemId(),
		InstitutionID: item.GetInstitutionId(),
	}
	for _, a := range resp.GetAccounts() {
		link.SubAccounts = append(link.SubAccounts, domain.SubAccount{
			AccountID: a.GetAccountId(),
			Name:      a.GetName(),
			Type:      string(a.GetType()),
			Subtype:   string(a.GetSubtype()),
			Mask:      a.GetMask(),
		})
	}

	if link.InstitutionID != "" {
		name, err := c.institutionName(ctx, link.InstitutionID)
		if err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("institution_id", link.InstitutionID).Msg("Could not resolve institution name")
		}
		link.InstitutionName = name
	}
	return link, nil
}

func (c *Client) institutionName(ctx context.Context, institutionID string) (string, error) {
	req := plaid.NewInstitutionsGetByIdRequest(institutionID, []plaid.CountryCode{plaid.COUNTRYCODE_US})
	resp, _, err := c.api.PlaidApi.InstitutionsGetById(ctx).InstitutionsGetByIdRequest(*req).Execute()
	if err != nil {
		return "", fmt.Errorf("institutionName: %w", classify(err))
	}
	inst := resp.GetInstitution()
	return inst.GetName(), nil
}

// CheckConnection returns the number of sub-accounts the credential reaches.
func (c *Client) CheckConnection(ctx context.Context, accessToken string) (int, error) {
	req := plaid.NewAccountsGetRequest(accessToken)
	resp, _, err := c.api.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*req).Execute()
	if err != nil {
		return 0, fmt.Errorf("CheckConnection: %w", classify(err))
	}
	return len(resp.GetAccounts()), nil
}

// FetchTransactions returns every transaction dated within [start, end].
func (c *Client) FetchTransactions(ctx context.Context, accessToken string, start, end civil.Date) ([]domain.Transaction, error) {
	log := logger.FromContext(ctx)

	txns, err := collectPages(ctx, func(ctx context.Context, offset int) (page, error) {
		opts := plaid.NewTransactionsGetRequestOptions()
		opts.SetCount(PageSize)
		opts.SetOffset(int32(offset))

		req := plaid.NewTransactionsGetRequest(accessToken, start.String(), end.String())
		req.SetOptions(*opts)

		resp, _, err := c.api.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*req).Execute()
		if err != nil {
			return page{}, classify(err)
		}

		raw := resp.GetTransactions()
		p := page{
			txns:     make([]domain.Transaction, 0, len(raw)),
			received: len(raw),
			total:    int(resp.GetTotalTransactions()),
		}
		for _, t := range raw {
			tx, err := toDomain(t)
			if err != nil {
				log.Warn().Err(err).Str("transaction_id", t.GetTransactionId()).Msg("Skipping unparsable transaction")
				continue
			}
			p.txns = append(p.txns, tx)
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchTransactions: %w", err)
	}

	log.Debug().
		Str("start_date", start.String()).
		Str("end_date", end.String()).
		Int("transaction_count", len(txns)).
		Msg("Fetched transactions from Plaid")
	return txns, nil
}

func toDomain(t plaid.Transaction) (domain.Transaction, error) {
	date, err := civil.ParseDate(t.GetDate())
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("parsing date %q: %w", t.GetDate(), err)
	}
	return domain.Transaction{
		TransactionID:     t.GetTransactionId(),
		ProviderAccountID: t.GetAccountId(),
		Date:              date,
		Name:              t.GetName(),
		MerchantName:      t.GetMerchantName(),
		PaymentChannel:    string(t.GetPaymentChannel()),
		Amount:            decimal.NewFromFloat(t.GetAmount()),
		Pending:           t.GetPending(),
	}, nil
}

package plaidclient

import (
	"context"
	"fmt"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// page is one /transactions/get response. received counts what the provider
// returned, which can exceed len(txns) when rows were dropped during mapping.
type page struct {
	txns     []domain.Transaction
	received int
	total    int
}

// collectPages keeps requesting pages until total is reached. An empty page
// ends the loop so a shrinking total cannot spin forever.
func collectPages(ctx context.Context, fetch func(ctx context.Context, offset int) (page, error)) ([]domain.Transaction, error) {
	var all []domain.Transaction
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := fetch(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", offset, err)
		}
		all = append(all, p.txns...)
		offset += p.received

		if p.received == 0 || offset >= p.total {
			return all, nil
		}
	}
}

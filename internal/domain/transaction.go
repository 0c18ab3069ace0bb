package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is one posted (or pending) bank transaction as returned by the
// aggregation provider, enriched with the derived category and project.
// Name and Amount are kept exactly as the provider sent them.
type Transaction struct {
	TransactionID     string          // provider-assigned, the dedup key
	ProviderAccountID string          // sub-account the transaction belongs to
	Date              civil.Date      // posting date
	Name              string          // provider free text
	MerchantName      string          // provider-normalized merchant, may be empty
	PaymentChannel    string          // "online", "in store", "other"
	Amount            decimal.Decimal // positive = money out
	Pending           bool

	Category string // derived
	Project  string // derived
}

// Description returns the secondary text used by the classifier. The provider
// only exposes a merchant name next to the raw name, so that is what is used.
func (t Transaction) Description() string {
	return t.MerchantName
}

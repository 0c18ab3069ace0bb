package domain

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// SubAccount is one provider account (checking, savings, card) reachable
// through a linked credential.
type SubAccount struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	Mask      string `json:"mask,omitempty"`
}

// Link is what the provider hands back once an institution has been linked:
// the long-lived credential plus enough identity to recognise the same link again.
type Link struct {
	AccessToken     string
	ItemID          string
	InstitutionID   string
	InstitutionName string
	SubAccounts     []SubAccount
}

// Account is a bank connection the operator has linked.
type Account struct {
	ID               string       `json:"id"`
	DisplayName      string       `json:"display_name"`
	Credential       string       `json:"access_token"`
	ItemID           string       `json:"item_id,omitempty"`
	InstitutionID    string       `json:"institution_id,omitempty"`
	InstitutionName  string       `json:"institution_name,omitempty"`
	SubAccounts      []SubAccount `json:"sub_accounts,omitempty"`
	DestinationLabel string       `json:"destination_label"`
	DestinationRef   string       `json:"destination_ref,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	LastSyncedAt     *time.Time   `json:"last_synced_at,omitempty"`
}

// String never includes the credential.
func (a Account) String() string {
	return fmt.Sprintf("%s (%s)", a.DisplayName, a.ID)
}

// MarshalZerologObject lets accounts be logged with Object() without leaking
// the access token.
func (a Account) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", a.ID).
		Str("display_name", a.DisplayName).
		Str("institution", a.InstitutionName).
		Str("destination", a.DestinationLabel)
	if a.LastSyncedAt != nil {
		e.Time("last_synced_at", *a.LastSyncedAt)
	}
}

// Masks returns the sub-account masks in order.
func (a Account) Masks() []string {
	masks := make([]string, 0, len(a.SubAccounts))
	for _, s := range a.SubAccounts {
		masks = append(masks, s.Mask)
	}
	return masks
}

package sheets

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Config holds what is needed to reach the spreadsheet.
type Config struct {
	SpreadsheetID     string
	CredentialsFile   string // service account key (JSON)
	RequestsPerMinute int
}

// New authenticates with a service account key and returns a Writer for the
// configured spreadsheet. The service account must have edit access to it.
func New(ctx context.Context, cfg Config) (*Writer, error) {
	key, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("New: reading credentials %s: %w", cfg.CredentialsFile, err)
	}

	jwt, err := google.JWTConfigFromJSON(key, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("New: parsing service account key: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(jwt.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("New: creating sheets service: %w", err)
	}

	return NewWriter(svc, cfg.SpreadsheetID, NewLimiter(cfg.RequestsPerMinute)), nil
}

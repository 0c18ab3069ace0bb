// Package sheets writes transactions into per-account tabs of a Google
// Sheets document.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/sheets/v4"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
	"github.com/dvloznov/bank-sheets-sync/internal/logger"
)

const (
	// RAW stores values as typed; provider text is never parsed as a formula.
	valueInputOption = "RAW"
	insertDataOption = "INSERT_ROWS"

	// DefaultBurst lets a single account's calls go out back to back.
	DefaultBurst = 5
)

// Header is the first row of every account tab. Column A is the dedup key.
var Header = []interface{}{"transaction_id", "date", "name", "amount", "category", "project"}

// Writer is the Sheets implementation of the sync destination.
type Writer struct {
	svc           *sheets.Service
	spreadsheetID string
	limiter       *rate.Limiter
}

// NewWriter wraps an existing Sheets service. A nil limiter disables pacing.
func NewWriter(svc *sheets.Service, spreadsheetID string, limiter *rate.Limiter) *Writer {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Writer{svc: svc, spreadsheetID: spreadsheetID, limiter: limiter}
}

// NewLimiter converts a per-minute quota into a limiter.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), DefaultBurst)
}

// EnsureDestination returns the tab named label, creating it with the header
// row if it does not exist yet. Calling it again is a no-op.
func (w *Writer) EnsureDestination(ctx context.Context, label string) (string, error) {
	log := logger.FromContext(ctx)

	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}
	doc, err := w.svc.Spreadsheets.Get(w.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("EnsureDestination: reading spreadsheet: %w", classify(err))
	}

	for _, sh := range doc.Sheets {
		if sh.Properties != nil && strings.EqualFold(sh.Properties.Title, label) {
			title := sh.Properties.Title
			if err := w.ensureHeader(ctx, title); err != nil {
				return "", fmt.Errorf("EnsureDestination: %w", err)
			}
			return title, nil
		}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: label},
			},
		}},
	}
	if _, err := w.svc.Spreadsheets.BatchUpdate(w.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("EnsureDestination: adding tab %q: %w", label, classify(err))
	}

	if err := w.writeHeader(ctx, label); err != nil {
		return "", fmt.Errorf("EnsureDestination: %w", err)
	}

	log.Info().Str("tab", label).Msg("Created destination tab")
	return label, nil
}

// ensureHeader writes the header into a pre-existing tab whose first row is empty.
func (w *Writer) ensureHeader(ctx context.Context, title string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, A1(title, "A1:F1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading header of %q: %w", title, classify(err))
	}
	if len(vr.Values) > 0 && len(vr.Values[0]) > 0 {
		return nil
	}
	return w.writeHeader(ctx, title)
}

func (w *Writer) writeHeader(ctx context.Context, title string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{Header}}
	_, err := w.svc.Spreadsheets.Values.Update(w.spreadsheetID, A1(title, "A1:F1"), vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("writing header of %q: %w", title, classify(err))
	}
	return nil
}

// ReadExistingIDs returns every transaction id already in the tab.
func (w *Writer) ReadExistingIDs(ctx context.Context, ref string) (map[string]struct{}, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, A1(ref, "A:A")).Context(ctx).Do()
	if err != nil {
		if isMissingTab(err) {
			return nil, fmt.Errorf("ReadExistingIDs: %q: %w", ref, domain.ErrDestinationNotFound)
		}
		return nil, fmt.Errorf("ReadExistingIDs: reading %q: %w", ref, classify(err))
	}

	ids := make(map[string]struct{}, len(vr.Values))
	for i, row := range vr.Values {
		if len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" || (i == 0 && id == Header[0]) {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}

// AppendRows adds txns at the end of the tab in one request. When the call
// fails the rows may or may not have landed; the next run re-reads the ids.
func (w *Writer) AppendRows(ctx context.Context, ref string, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: Rows(txns)}
	_, err := w.svc.Spreadsheets.Values.Append(w.spreadsheetID, A1(ref, "A:F"), vr).
		ValueInputOption(valueInputOption).
		InsertDataOption(insertDataOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("AppendRows: appending %d rows to %q: %w", len(txns), ref, classify(err))
	}
	return nil
}

// Rows renders transactions in header column order.
func Rows(txns []domain.Transaction) [][]interface{} {
	rows := make([][]interface{}, 0, len(txns))
	for _, tx := range txns {
		rows = append(rows, []interface{}{
			tx.TransactionID,
			tx.Date.String(),
			tx.Name,
			tx.Amount.InexactFloat64(),
			tx.Category,
			tx.Project,
		})
	}
	return rows
}

// A1 builds a range on a tab, quoting the tab name.
func A1(tab, cells string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'!" + cells
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500 {
			return fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return err
}

// isMissingTab reports whether Sheets rejected a range because its tab does
// not exist.
func isMissingTab(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) &&
		apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "Unable to parse range")
}

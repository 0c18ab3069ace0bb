package sheetsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-sheets-sync/internal/categorize"
	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

var now = time.Date(2024, 5, 17, 6, 0, 0, 0, time.UTC)

// mockSource serves transactions per access token.
type mockSource struct {
	txns   map[string][]domain.Transaction
	errs   map[string]error
	starts []civil.Date
	ends   []civil.Date
}

func (m *mockSource) FetchTransactions(_ context.Context, token string, start, end civil.Date) ([]domain.Transaction, error) {
	m.starts = append(m.starts, start)
	m.ends = append(m.ends, end)
	if err := m.errs[token]; err != nil {
		return nil, err
	}
	return append([]domain.Transaction(nil), m.txns[token]...), nil
}

// mockDestination keeps tabs in memory.
type mockDestination struct {
	tabs        map[string][]domain.Transaction
	ensureCalls int
	appendCalls int
	ensureErr   map[string]error
	readErr     map[string]error
	appendErr   map[string]error
}

func newMockDestination() *mockDestination {
	return &mockDestination{tabs: map[string][]domain.Transaction{}}
}

func (m *mockDestination) EnsureDestination(_ context.Context, label string) (string, error) {
	m.ensureCalls++
	if err := m.ensureErr[label]; err != nil {
		return "", err
	}
	if _, ok := m.tabs[label]; !ok {
		m.tabs[label] = nil
	}
	return label, nil
}

func (m *mockDestination) ReadExistingIDs(_ context.Context, ref string) (map[string]struct{}, error) {
	if err := m.readErr[ref]; err != nil {
		return nil, err
	}
	rows, ok := m.tabs[ref]
	if !ok {
		return nil, fmt.Errorf("no tab %q: %w", ref, domain.ErrDestinationNotFound)
	}
	ids := map[string]struct{}{}
	for _, r := range rows {
		ids[r.TransactionID] = struct{}{}
	}
	return ids, nil
}

func (m *mockDestination) AppendRows(_ context.Context, ref string, txns []domain.Transaction) error {
	m.appendCalls++
	if err := m.appendErr[ref]; err != nil {
		return err
	}
	m.tabs[ref] = append(m.tabs[ref], txns...)
	return nil
}

// mockStore is an in-memory AccountStore.
type mockStore struct {
	accounts  []domain.Account
	recordErr error
	records   int
}

func (m *mockStore) List() []domain.Account {
	return append([]domain.Account(nil), m.accounts...)
}

func (m *mockStore) RecordSync(id, ref string, at time.Time) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	for i := range m.accounts {
		if m.accounts[i].ID == id {
			m.records++
			m.accounts[i].DestinationRef = ref
			t := at
			m.accounts[i].LastSyncedAt = &t
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

type mockRecorder struct {
	reports []*Report
	ctxErrs []error
	err     error
}

func (m *mockRecorder) Record(ctx context.Context, r *Report) error {
	m.reports = append(m.reports, r)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return m.err
}

var (
	_ TransactionSource = (*mockSource)(nil)
	_ Destination       = (*mockDestination)(nil)
	_ AccountStore      = (*mockStore)(nil)
	_ RunRecorder       = (*mockRecorder)(nil)
)

func tx(id, name, amount string) domain.Transaction {
	return domain.Transaction{
		TransactionID: id,
		Date:          civil.Date{Year: 2024, Month: 5, Day: 10},
		Name:          name,
		Amount:        decimal.RequireFromString(amount),
	}
}

func account(id, name, token string) domain.Account {
	return domain.Account{ID: id, DisplayName: name, DestinationLabel: name, Credential: token}
}

// newSyncer builds a Syncer that includes pending transactions, like the
// default configuration.
func newSyncer(store *mockStore, src *mockSource, dest *mockDestination, opts Options) *Syncer {
	opts.Now = func() time.Time { return now }
	opts.IncludePending = true
	return New(store, src, dest, categorize.New(), opts)
}

func ids(rows []domain.Transaction) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.TransactionID)
	}
	return out
}

func TestSyncAll_FirstRunScenario(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "Chase Business", "tok-chase")}}
	src := &mockSource{txns: map[string][]domain.Transaction{
		"tok-chase": {
			tx("t1", "THE HOME DEPOT #4711", "84.12"),
			tx("t2", "STARBUCKS", "5.40"),
			tx("t3", "ACH DEPOSIT", "-1200.00"),
		},
	}}
	dest := newMockDestination()

	report := newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

	require.Len(t, report.Accounts, 1)
	res := report.Accounts[0]
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.New)
	assert.Equal(t, OutcomeOK, report.Outcome())

	rows := dest.tabs["Chase Business"]
	require.Len(t, rows, 3)
	assert.Equal(t, "Materials", rows[0].Category)
	assert.Equal(t, "Unassigned", rows[0].Project)
	assert.Equal(t, "Uncategorized", rows[1].Category)
	assert.Equal(t, "Uncategorized", rows[2].Category)
	assert.True(t, rows[2].Amount.Equal(decimal.RequireFromString("-1200.00")))
	assert.Equal(t, "ACH DEPOSIT", rows[2].Name)

	acc := store.accounts[0]
	assert.Equal(t, "Chase Business", acc.DestinationRef)
	require.NotNil(t, acc.LastSyncedAt)
	assert.Equal(t, now, *acc.LastSyncedAt)
	assert.Equal(t, 1, dest.ensureCalls)
	assert.Equal(t, 1, dest.appendCalls)
}

func TestSyncAll_WindowIsTrailingSixtyDays(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	src := &mockSource{}

	report := newSyncer(store, src, newMockDestination(), Options{}).SyncAll(context.Background())

	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 18}, report.WindowStart)
	assert.Equal(t, civil.Date{Year: 2024, Month: 5, Day: 17}, report.WindowEnd)
	assert.Equal(t, []civil.Date{report.WindowStart}, src.starts)
	assert.Equal(t, []civil.Date{report.WindowEnd}, src.ends)
}

func TestSyncAll_AppendsOnlyUnseen(t *testing.T) {
	acc := account("acc-1", "Chase Business", "tok")
	acc.DestinationRef = "Chase Business"
	store := &mockStore{accounts: []domain.Account{acc}}
	dest := newMockDestination()
	dest.tabs["Chase Business"] = []domain.Transaction{tx("A", "x", "1"), tx("B", "y", "2")}
	src := &mockSource{txns: map[string][]domain.Transaction{
		"tok": {tx("A", "x", "1"), tx("B", "y", "2"), tx("C", "z", "3")},
	}}

	report := newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

	res := report.Accounts[0]
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, []string{"A", "B", "C"}, ids(dest.tabs["Chase Business"]))
	assert.Equal(t, 1, dest.ensureCalls)
}

func TestSyncAll_RecreatesDeletedTab(t *testing.T) {
	acc := account("acc-1", "Chase Business", "tok")
	acc.DestinationRef = "Chase Business"
	store := &mockStore{accounts: []domain.Account{acc}}
	dest := newMockDestination()
	src := &mockSource{txns: map[string][]domain.Transaction{
		"tok": {tx("A", "x", "1"), tx("B", "y", "2")},
	}}
	syncer := newSyncer(store, src, dest, Options{})

	for run := 0; run < 2; run++ {
		report := syncer.SyncAll(context.Background())
		require.Len(t, report.Accounts, 1)
		assert.Equal(t, StatusOK, report.Accounts[0].Status, "run %d", run)
		assert.NoError(t, report.Accounts[0].Err)
	}

	assert.Equal(t, []string{"A", "B"}, ids(dest.tabs["Chase Business"]))
	assert.Equal(t, 2, dest.ensureCalls)
	assert.Equal(t, "Chase Business", store.accounts[0].DestinationRef)
}

func TestSyncAll_Idempotent(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "Chase Business", "tok")}}
	src := &mockSource{txns: map[string][]domain.Transaction{
		"tok": {tx("A", "x", "1"), tx("B", "y", "2")},
	}}
	dest := newMockDestination()
	syncer := newSyncer(store, src, dest, Options{})

	first := syncer.SyncAll(context.Background())
	second := syncer.SyncAll(context.Background())

	assert.Equal(t, 2, first.NewRows())
	assert.Equal(t, 0, second.NewRows())
	assert.Equal(t, 2, second.Accounts[0].Skipped)
	assert.Len(t, dest.tabs["Chase Business"], 2)
	assert.Equal(t, 1, dest.appendCalls)
	assert.Equal(t, 2, store.records)
}

func TestSyncAll_DuplicateIDsWithinFetch(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	src := &mockSource{txns: map[string][]domain.Transaction{
		"tok": {tx("A", "x", "1"), tx("A", "x amended", "1.5"), tx("", "no id", "2")},
	}}
	dest := newMockDestination()

	report := newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

	res := report.Accounts[0]
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, []string{"A"}, ids(dest.tabs["A"]))
}

func TestSyncAll_AmendedTransactionNotRewritten(t *testing.T) {
	acc := account("acc-1", "A", "tok")
	acc.DestinationRef = "A"
	store := &mockStore{accounts: []domain.Account{acc}}
	dest := newMockDestination()
	dest.tabs["A"] = []domain.Transaction{tx("A", "PENDING HOLD", "10")}
	src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("A", "POSTED", "12")}}}

	newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

	require.Len(t, dest.tabs["A"], 1)
	assert.Equal(t, "PENDING HOLD", dest.tabs["A"][0].Name)
}

func TestSyncAll_PendingFilter(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	pending := tx("P", "pending", "3")
	pending.Pending = true
	src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("A", "x", "1"), pending}}}
	dest := newMockDestination()

	syncer := New(store, src, dest, categorize.New(), Options{
		IncludePending: false,
		Now:            func() time.Time { return now },
	})
	report := syncer.SyncAll(context.Background())

	assert.Equal(t, 1, report.Accounts[0].New)
	assert.Equal(t, 1, report.Accounts[0].Filtered)
	assert.Equal(t, []string{"A"}, ids(dest.tabs["A"]))
}

func TestSyncAll_IsolatesFailingAccount(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{
		account("acc-1", "Expired Bank", "tok-bad"),
		account("acc-2", "Chase Business", "tok-good"),
	}}
	src := &mockSource{
		txns: map[string][]domain.Transaction{"tok-good": {tx("G1", "HOME DEPOT", "1")}},
		errs: map[string]error{"tok-bad": fmt.Errorf("plaid: %w", domain.ErrAuthExpired)},
	}
	dest := newMockDestination()

	report := newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

	require.Len(t, report.Accounts, 2)
	bad, good := report.Accounts[0], report.Accounts[1]

	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, FailureAuth, bad.Kind)
	assert.ErrorIs(t, bad.Err, domain.ErrAuthExpired)
	assert.Nil(t, store.accounts[0].LastSyncedAt)

	assert.Equal(t, StatusOK, good.Status)
	assert.Equal(t, []string{"G1"}, ids(dest.tabs["Chase Business"]))
	assert.NotNil(t, store.accounts[1].LastSyncedAt)

	assert.Equal(t, OutcomePartial, report.Outcome())
	// credential stays in the store
	assert.Len(t, store.accounts, 2)
}

func TestSyncAll_FailureKinds(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dest *mockDestination, store *mockStore, src *mockSource)
		want  FailureKind
	}{
		{
			name: "destination",
			setup: func(dest *mockDestination, _ *mockStore, _ *mockSource) {
				dest.ensureErr = map[string]error{"A": errors.New("permission denied")}
			},
			want: FailureDestination,
		},
		{
			name: "transient append",
			setup: func(dest *mockDestination, _ *mockStore, _ *mockSource) {
				dest.appendErr = map[string]error{"A": fmt.Errorf("429: %w", domain.ErrTransient)}
			},
			want: FailureTransient,
		},
		{
			name: "store",
			setup: func(_ *mockDestination, store *mockStore, _ *mockSource) {
				store.recordErr = errors.New("disk full")
			},
			want: FailureStore,
		},
		{
			name: "provider",
			setup: func(_ *mockDestination, _ *mockStore, src *mockSource) {
				src.errs = map[string]error{"tok": errors.New("bad request")}
			},
			want: FailureOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
			src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("X", "x", "1")}}}
			dest := newMockDestination()
			tt.setup(dest, store, src)

			report := newSyncer(store, src, dest, Options{}).SyncAll(context.Background())

			require.Len(t, report.Accounts, 1)
			assert.Equal(t, tt.want, report.Accounts[0].Kind)
			assert.Equal(t, OutcomeFailed, report.Outcome())
		})
	}
}

func TestSyncAll_FailedAppendIsRetriedNextRun(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("X", "x", "1")}}}
	dest := newMockDestination()
	dest.appendErr = map[string]error{"A": domain.ErrTransient}
	syncer := newSyncer(store, src, dest, Options{})

	first := syncer.SyncAll(context.Background())
	assert.Equal(t, OutcomeFailed, first.Outcome())
	assert.Nil(t, store.accounts[0].LastSyncedAt)

	dest.appendErr = nil
	second := syncer.SyncAll(context.Background())
	assert.Equal(t, OutcomeOK, second.Outcome())
	assert.Equal(t, []string{"X"}, ids(dest.tabs["A"]))
}

func TestSyncAll_DryRunWritesNothing(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("X", "x", "1"), tx("Y", "y", "2")}}}
	dest := newMockDestination()

	report := newSyncer(store, src, dest, Options{DryRun: true}).SyncAll(context.Background())

	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Accounts[0].New)
	assert.Equal(t, 0, dest.ensureCalls)
	assert.Equal(t, 0, dest.appendCalls)
	assert.Empty(t, dest.tabs)
	assert.Equal(t, 0, store.records)
}

func TestSyncAll_DryRunReportsReadFailures(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	src := &mockSource{txns: map[string][]domain.Transaction{"tok": {tx("X", "x", "1")}}}
	dest := newMockDestination()
	dest.tabs["A"] = nil
	dest.readErr = map[string]error{"A": fmt.Errorf("503: %w", domain.ErrTransient)}

	report := newSyncer(store, src, dest, Options{DryRun: true}).SyncAll(context.Background())

	res := report.Accounts[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, FailureTransient, res.Kind)
	assert.Equal(t, 0, dest.ensureCalls)
	assert.Equal(t, OutcomeFailed, report.Outcome())
}

func TestSyncAll_NoAccounts(t *testing.T) {
	report := newSyncer(&mockStore{}, &mockSource{}, newMockDestination(), Options{}).SyncAll(context.Background())
	assert.Empty(t, report.Accounts)
	assert.Equal(t, OutcomeOK, report.Outcome())
}

func TestSyncAll_Recorder(t *testing.T) {
	rec := &mockRecorder{err: errors.New("bigquery down")}
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}

	report := newSyncer(store, &mockSource{}, newMockDestination(), Options{Recorder: rec}).SyncAll(context.Background())

	require.Len(t, rec.reports, 1)
	assert.Same(t, report, rec.reports[0])
	assert.NotEmpty(t, report.RunID)
	// recorder failure does not fail the run
	assert.Equal(t, OutcomeOK, report.Outcome())
}

func TestSyncAll_CancelledContext(t *testing.T) {
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok"), account("acc-2", "B", "tok2")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newSyncer(store, &mockSource{}, newMockDestination(), Options{}).SyncAll(ctx)

	require.Len(t, report.Accounts, 2)
	assert.Equal(t, OutcomeFailed, report.Outcome())
	assert.ErrorIs(t, report.Accounts[0].Err, context.Canceled)
}

func TestSyncAll_RecordsRunAfterDeadline(t *testing.T) {
	rec := &mockRecorder{}
	store := &mockStore{accounts: []domain.Account{account("acc-1", "A", "tok")}}
	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	report := newSyncer(store, &mockSource{}, newMockDestination(), Options{Recorder: rec}).SyncAll(ctx)

	assert.Equal(t, OutcomeFailed, report.Outcome())
	require.Len(t, rec.reports, 1)
	assert.NoError(t, rec.ctxErrs[0])
}

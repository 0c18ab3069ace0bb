package linkserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

type mockTokens struct {
	CreateLinkTokenFunc func(ctx context.Context, clientUserID string) (string, error)
}

func (m *mockTokens) CreateLinkToken(ctx context.Context, clientUserID string) (string, error) {
	return m.CreateLinkTokenFunc(ctx, clientUserID)
}

type mockLinker struct {
	LinkFunc func(ctx context.Context, publicToken, displayName string) (domain.Account, error)
}

func (m *mockLinker) Link(ctx context.Context, publicToken, displayName string) (domain.Account, error) {
	return m.LinkFunc(ctx, publicToken, displayName)
}

type staticLister []domain.Account

func (l staticLister) List() []domain.Account { return l }

func newTestServer(t *testing.T, tokens LinkTokens, linker Linker, lister Lister) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(tokens, linker, lister, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func okTokens() *mockTokens {
	return &mockTokens{CreateLinkTokenFunc: func(context.Context, string) (string, error) {
		return "link-sandbox-123", nil
	}}
}

func TestPage_RendersLinkToken(t *testing.T) {
	srv := newTestServer(t, okTokens(), &mockLinker{}, staticLister(nil))

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `"link-sandbox-123"`)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestPage_TokenError(t *testing.T) {
	tokens := &mockTokens{CreateLinkTokenFunc: func(context.Context, string) (string, error) {
		return "", errors.New("invalid client id")
	}}
	srv := newTestServer(t, tokens, &mockLinker{}, staticLister(nil))

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestExchange(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		linkErr    error
		wantStatus int
	}{
		{name: "created", body: `{"public_token":"public-sandbox-1","display_name":"Chase Business"}`, wantStatus: http.StatusCreated},
		{name: "duplicate", body: `{"public_token":"public-sandbox-1"}`, linkErr: fmt.Errorf("Link: %w", domain.ErrDuplicateAccount), wantStatus: http.StatusConflict},
		{name: "provider failure", body: `{"public_token":"public-sandbox-1"}`, linkErr: errors.New("bad request"), wantStatus: http.StatusBadGateway},
		{name: "rejected login", body: `{"public_token":"public-sandbox-1"}`, linkErr: fmt.Errorf("Link: %w", domain.ErrAuthExpired), wantStatus: http.StatusUnauthorized},
		{name: "provider down", body: `{"public_token":"public-sandbox-1"}`, linkErr: fmt.Errorf("Link: %w", domain.ErrTransient), wantStatus: http.StatusServiceUnavailable},
		{name: "bad token", body: `{"public_token":"access-sandbox-1"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linker := &mockLinker{LinkFunc: func(_ context.Context, publicToken, displayName string) (domain.Account, error) {
				if tt.linkErr != nil {
					return domain.Account{}, tt.linkErr
				}
				return domain.Account{
					ID:               "acc-1",
					DisplayName:      displayName,
					DestinationLabel: displayName,
					Credential:       "access-sandbox-secret",
				}, nil
			}}
			srv := newTestServer(t, okTokens(), linker, staticLister(nil))

			resp, err := http.Post(srv.URL+"/api/exchange", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotContains(t, string(body), "access-sandbox-secret")
		})
	}
}

func TestListAccounts_HidesCredentials(t *testing.T) {
	synced := time.Date(2024, 5, 17, 6, 0, 0, 0, time.UTC)
	lister := staticLister{
		{ID: "a1", DisplayName: "Chase Business", DestinationLabel: "Chase Business", Credential: "access-prod-secret",
			SubAccounts: []domain.SubAccount{{AccountID: "s1", Mask: "1234"}}, LastSyncedAt: &synced},
		{ID: "a2", DisplayName: "Amex", DestinationLabel: "Amex", Credential: "access-prod-other"},
	}
	srv := newTestServer(t, okTokens(), &mockLinker{}, lister)

	resp, err := http.Get(srv.URL + "/api/accounts")
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	assert.NotContains(t, string(raw), "access-prod")

	var out struct {
		Accounts []AccountView `json:"accounts"`
		Count    int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2, out.Count)
	assert.Equal(t, []string{"1234"}, out.Accounts[0].Masks)
	require.NotNil(t, out.Accounts[0].LastSyncedAt)
	assert.True(t, synced.Equal(*out.Accounts[0].LastSyncedAt))
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("Add: %w", domain.ErrDuplicateAccount), http.StatusConflict},
		{fmt.Errorf("Get: %w", domain.ErrAccountNotFound), http.StatusNotFound},
		{domain.ErrAuthExpired, http.StatusUnauthorized},
		{domain.ErrTransient, http.StatusServiceUnavailable},
		{domain.ErrStoreCorrupt, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteDomainError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body["error"], tt.err.Error())
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, okTokens(), &mockLinker{}, staticLister(nil))

	resp, err := http.Get(srv.URL + "/api/exchange")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestID_KeepsCallerID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestCheckLoopback(t *testing.T) {
	assert.NoError(t, checkLoopback("127.0.0.1:8765"))
	assert.NoError(t, checkLoopback("localhost:8080"))
	assert.NoError(t, checkLoopback("[::1]:8080"))
	assert.Error(t, checkLoopback("0.0.0.0:8765"))
	assert.Error(t, checkLoopback(":8765"))
	assert.Error(t, checkLoopback("nonsense"))
}

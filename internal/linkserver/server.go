// Package linkserver serves a loopback-only page for linking bank accounts
// through the provider's hosted link flow.
package linkserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// DefaultAddr is where `link serve` listens unless told otherwise.
const DefaultAddr = "127.0.0.1:8765"

// clientUserID identifies the single local operator to the provider.
const clientUserID = "banksync-local-user"

// LinkTokens creates link tokens for the hosted flow.
type LinkTokens interface {
	CreateLinkToken(ctx context.Context, clientUserID string) (string, error)
}

// Linker stores an account from a public token.
type Linker interface {
	Link(ctx context.Context, publicToken, displayName string) (domain.Account, error)
}

// Lister lists linked accounts.
type Lister interface {
	List() []domain.Account
}

// AccountView is what the API shows of an account. It never carries the credential.
type AccountView struct {
	ID               string     `json:"id"`
	DisplayName      string     `json:"display_name"`
	InstitutionName  string     `json:"institution_name,omitempty"`
	DestinationLabel string     `json:"destination_label"`
	Masks            []string   `json:"masks,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastSyncedAt     *time.Time `json:"last_synced_at,omitempty"`
}

func viewOf(a domain.Account) AccountView {
	return AccountView{
		ID:               a.ID,
		DisplayName:      a.DisplayName,
		InstitutionName:  a.InstitutionName,
		DestinationLabel: a.DestinationLabel,
		Masks:            a.Masks(),
		CreatedAt:        a.CreatedAt,
		LastSyncedAt:     a.LastSyncedAt,
	}
}

// Server handles the link page and its API.
type Server struct {
	tokens LinkTokens
	linker Linker
	lister Lister
	log    zerolog.Logger
}

// New creates a Server.
func New(tokens LinkTokens, linker Linker, lister Lister, log zerolog.Logger) *Server {
	return &Server{tokens: tokens, linker: linker, lister: lister, log: log}
}

// Handler returns the routes wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if r.Method != http.MethodGet {
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		s.Page(w, r)
	})

	mux.HandleFunc("/api/exchange", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			s.Exchange(w, r)
		} else {
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			s.ListAccounts(w, r)
		} else {
			WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	return Recovery(s.log)(
		RequestID(
			Logger(s.log)(mux),
		),
	)
}

// Page handles GET / and renders the link page with a fresh link token.
func (s *Server) Page(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.CreateLinkToken(r.Context(), clientUserID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to create link token")
		http.Error(w, "Failed to create link token", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := linkPage.Execute(w, pageData{LinkToken: token}); err != nil {
		s.log.Error().Err(err).Msg("Failed to render link page")
	}
}

// Exchange handles POST /api/exchange
func (s *Server) Exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicToken string `json:"public_token"`
		DisplayName string `json:"display_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !strings.HasPrefix(strings.TrimSpace(req.PublicToken), "public-") {
		WriteError(w, http.StatusBadRequest, "public_token is required")
		return
	}

	acc, err := s.linker.Link(r.Context(), req.PublicToken, req.DisplayName)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to link account")
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, viewOf(acc))
}

// ListAccounts handles GET /api/accounts
func (s *Server) ListAccounts(w http.ResponseWriter, _ *http.Request) {
	accounts := s.lister.List()
	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, viewOf(a))
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": views,
		"count":    len(views),
	})
}

// Run serves on addr until ctx is cancelled. addr must be a loopback address.
func (s *Server) Run(ctx context.Context, addr string) error {
	if err := checkLoopback(addr); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", "http://"+addr).Msg("Starting link server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("Run: listening on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info().Msg("Shutting down link server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("Run: shutting down: %w", err)
	}
	return nil
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("link server must listen on a loopback address, got %q", addr)
}

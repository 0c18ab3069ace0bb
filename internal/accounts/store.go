// Package accounts persists linked bank accounts and their provider credentials.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

const (
	// DefaultPath is where the store lives when nothing else is configured.
	DefaultPath = "_bank_accounts.json"

	storeVersion = 1
	filePerm     = 0o600
)

// LegacyMigration records that the single-credential file has been folded
// into the store, so the migration never runs twice.
type LegacyMigration struct {
	AccountID  string    `json:"account_id"`
	MigratedAt time.Time `json:"migrated_at"`
	BackupPath string    `json:"backup_path,omitempty"`
}

type document struct {
	Version         int              `json:"version"`
	Accounts        []domain.Account `json:"accounts"`
	LegacyMigration *LegacyMigration `json:"legacy_migration,omitempty"`
}

// Store is the file-backed account list. Every mutation rewrites the whole
// file; the last writer wins.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document

	now   func() time.Time
	newID func() string
}

// Open loads the store at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:  path,
		doc:   document{Version: storeVersion},
		now:   time.Now,
		newID: uuid.NewString,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Open: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("Open: %s: %w: %v", path, domain.ErrStoreCorrupt, err)
	}
	if s.doc.Version != storeVersion {
		return nil, fmt.Errorf("Open: %s: %w: unsupported version %d", path, domain.ErrStoreCorrupt, s.doc.Version)
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// List returns all accounts in the order they were added.
func (s *Store) List() []domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAccounts(s.doc.Accounts)
}

// Get returns the account with the given id.
func (s *Store) Get(id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Account{}, fmt.Errorf("Get: %q: %w", id, domain.ErrAccountNotFound)
	}
	return cloneAccount(s.doc.Accounts[i]), nil
}

// Add stores a newly linked credential under displayName.
func (s *Store) Add(displayName string, link domain.Link) (domain.Account, error) {
	if link.AccessToken == "" {
		return domain.Account{}, errors.New("Add: empty access token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.findDuplicate(link); ok {
		return domain.Account{}, fmt.Errorf("Add: %w as %q (%s)", domain.ErrDuplicateAccount, existing.DisplayName, existing.ID)
	}

	acc := s.newAccount(displayName, link)
	doc := s.doc
	doc.Accounts = append(cloneAccounts(s.doc.Accounts), acc)
	if err := s.commit(doc); err != nil {
		return domain.Account{}, fmt.Errorf("Add: %w", err)
	}
	return cloneAccount(acc), nil
}

// Remove deletes the account and returns what was removed. The destination
// tab is left untouched.
func (s *Store) Remove(id string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Account{}, fmt.Errorf("Remove: %q: %w", id, domain.ErrAccountNotFound)
	}

	removed := s.doc.Accounts[i]
	doc := s.doc
	doc.Accounts = slices.Delete(cloneAccounts(s.doc.Accounts), i, i+1)
	if err := s.commit(doc); err != nil {
		return domain.Account{}, fmt.Errorf("Remove: %w", err)
	}
	return removed, nil
}

// RecordSync stores the destination reference and the sync watermark of one
// account in a single write.
func (s *Store) RecordSync(id, destinationRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("RecordSync: %q: %w", id, domain.ErrAccountNotFound)
	}

	doc := s.doc
	doc.Accounts = cloneAccounts(s.doc.Accounts)
	at = at.UTC()
	doc.Accounts[i].DestinationRef = destinationRef
	doc.Accounts[i].LastSyncedAt = &at
	if err := s.commit(doc); err != nil {
		return fmt.Errorf("RecordSync: %w", err)
	}
	return nil
}

// LegacyMigration returns the migration marker, if the legacy credential has
// already been migrated.
func (s *Store) LegacyMigration() (LegacyMigration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.LegacyMigration == nil {
		return LegacyMigration{}, false
	}
	return *s.doc.LegacyMigration, true
}

// MigrateLegacy wraps the credential of the old single-account file into an
// account, keeps a timestamped copy of that file and removes the original.
// Once migrated, further calls return the recorded account and false.
func (s *Store) MigrateLegacy(displayName string, link domain.Link, legacyPath string) (domain.Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.doc.LegacyMigration; m != nil {
		if i := s.indexOf(m.AccountID); i >= 0 {
			return cloneAccount(s.doc.Accounts[i]), false, nil
		}
		return domain.Account{ID: m.AccountID}, false, nil
	}
	if link.AccessToken == "" {
		return domain.Account{}, false, fmt.Errorf("MigrateLegacy: %w", domain.ErrNoLegacyCredential)
	}

	now := s.now()
	backupPath, err := backupLegacyFile(legacyPath, now)
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("MigrateLegacy: %w", err)
	}

	doc := s.doc
	doc.Accounts = cloneAccounts(s.doc.Accounts)

	acc, ok := s.findDuplicate(link)
	if !ok {
		if displayName == "" && link.InstitutionName == "" {
			displayName = "Legacy Bank Account"
		}
		acc = s.newAccount(displayName, link)
		doc.Accounts = append(doc.Accounts, acc)
	}
	doc.LegacyMigration = &LegacyMigration{
		AccountID:  acc.ID,
		MigratedAt: now.UTC(),
		BackupPath: backupPath,
	}
	if err := s.commit(doc); err != nil {
		return domain.Account{}, false, fmt.Errorf("MigrateLegacy: %w", err)
	}

	if err := os.Remove(legacyPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cloneAccount(acc), true, fmt.Errorf("MigrateLegacy: removing %s: %w", legacyPath, err)
	}
	return cloneAccount(acc), true, nil
}

func (s *Store) newAccount(displayName string, link domain.Link) domain.Account {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = link.InstitutionName
	}
	if name == "" {
		name = fmt.Sprintf("Bank Account %d", len(s.doc.Accounts)+1)
	}

	taken := make(map[string]bool, len(s.doc.Accounts))
	for _, a := range s.doc.Accounts {
		taken[strings.ToLower(a.DestinationLabel)] = true
	}

	return domain.Account{
		ID:               s.newID(),
		DisplayName:      name,
		Credential:       link.AccessToken,
		ItemID:           link.ItemID,
		InstitutionID:    link.InstitutionID,
		InstitutionName:  link.InstitutionName,
		SubAccounts:      slices.Clone(link.SubAccounts),
		DestinationLabel: destinationLabel(name, taken),
		CreatedAt:        s.now().UTC(),
	}
}

// findDuplicate reports an existing account for the same provider link: same
// token, same item, or same institution exposing the same sub-accounts.
func (s *Store) findDuplicate(link domain.Link) (domain.Account, bool) {
	linkMasks := make([]string, 0, len(link.SubAccounts))
	for _, sa := range link.SubAccounts {
		linkMasks = append(linkMasks, sa.Mask)
	}
	slices.Sort(linkMasks)

	for _, a := range s.doc.Accounts {
		switch {
		case a.Credential == link.AccessToken:
			return a, true
		case link.ItemID != "" && a.ItemID == link.ItemID:
			return a, true
		case link.InstitutionID != "" && a.InstitutionID == link.InstitutionID && len(linkMasks) > 0:
			masks := a.Masks()
			slices.Sort(masks)
			if slices.Equal(masks, linkMasks) {
				return a, true
			}
		}
	}
	return domain.Account{}, false
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.doc.Accounts, func(a domain.Account) bool { return a.ID == id })
}

// commit persists doc and only then makes it the in-memory state.
func (s *Store) commit(doc document) error {
	doc.Version = storeVersion
	if doc.Accounts == nil {
		doc.Accounts = []domain.Account{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}
	if err := writeFileAtomic(s.path, append(data, '\n'), filePerm); err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// writeFileAtomic writes to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

func cloneAccounts(in []domain.Account) []domain.Account {
	out := make([]domain.Account, len(in))
	for i, a := range in {
		out[i] = cloneAccount(a)
	}
	return out
}

func cloneAccount(a domain.Account) domain.Account {
	a.SubAccounts = slices.Clone(a.SubAccounts)
	if a.LastSyncedAt != nil {
		t := *a.LastSyncedAt
		a.LastSyncedAt = &t
	}
	return a
}

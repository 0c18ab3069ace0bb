package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// DefaultLegacyPath is the credential file written by the single-account tool.
const DefaultLegacyPath = "_access_token.json"

// LegacyCredential is the content of the single-account credential file.
type LegacyCredential struct {
	AccessToken string `json:"access_token"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// ReadLegacyToken reads the single-account credential file.
func ReadLegacyToken(path string) (LegacyCredential, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return LegacyCredential{}, fmt.Errorf("ReadLegacyToken: %s: %w", path, domain.ErrNoLegacyCredential)
	}
	if err != nil {
		return LegacyCredential{}, fmt.Errorf("ReadLegacyToken: reading %s: %w", path, err)
	}

	var cred LegacyCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return LegacyCredential{}, fmt.Errorf("ReadLegacyToken: parsing %s: %w", path, err)
	}
	if strings.TrimSpace(cred.AccessToken) == "" {
		return LegacyCredential{}, fmt.Errorf("ReadLegacyToken: %s has no access_token: %w", path, domain.ErrNoLegacyCredential)
	}
	return cred, nil
}

// backupLegacyFile copies path to <name>_backup_YYYYMMDD_HHMMSS<ext> next to it.
func backupLegacyFile(path string, at time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading legacy file: %w", err)
	}

	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	backup := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s_backup_%s%s", stem, at.Format("20060102_150405"), ext))

	if err := writeFileAtomic(backup, data, filePerm); err != nil {
		return "", fmt.Errorf("writing legacy backup: %w", err)
	}
	return backup, nil
}

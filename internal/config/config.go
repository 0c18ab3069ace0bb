// Package config resolves runtime settings from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Plaid  PlaidConfig
	Sheets SheetsConfig
	Store  StoreConfig
	Sync   SyncConfig
	Backup BackupConfig
	RunLog RunLogConfig

	// RulesFile optionally replaces the built-in categorization tables.
	RulesFile string

	LogLevel string
	LogDir   string
}

// PlaidConfig holds aggregation provider credentials
type PlaidConfig struct {
	ClientID string
	Secret   string
	Env      string // sandbox or production
}

// SheetsConfig holds spreadsheet backend configuration
type SheetsConfig struct {
	SpreadsheetID     string
	CredentialsFile   string
	RequestsPerMinute int
}

// StoreConfig holds local file locations
type StoreConfig struct {
	AccountsFile    string
	LegacyTokenFile string
}

// SyncConfig tunes a sync run
type SyncConfig struct {
	WindowDays     int
	IncludePending bool
}

// BackupConfig holds the optional off-site backup target
type BackupConfig struct {
	Bucket string
	Prefix string
}

// RunLogConfig holds the optional BigQuery run-history sink
type RunLogConfig struct {
	ProjectID string
	Dataset   string
	Table     string
}

// Enabled reports whether run history should be written.
func (c RunLogConfig) Enabled() bool {
	return c.ProjectID != ""
}

// Requirement names a group of settings a command cannot run without.
type Requirement int

const (
	// NeedPlaid requires provider credentials.
	NeedPlaid Requirement = iota
	// NeedSheets requires the spreadsheet id and credentials file.
	NeedSheets
	// NeedBackup requires a backup bucket.
	NeedBackup
)

// MissingError lists every required variable that was not set.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Vars, ", ")
}

// Load reads configuration from environment variables. envFile, when set,
// must exist; otherwise a .env in the working directory is used if present.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("Load: reading %s: %w", envFile, err)
		}
	} else {
		// Load .env file if it exists (ignore error if not found)
		_ = godotenv.Load()
	}

	cfg := &Config{
		Plaid: PlaidConfig{
			ClientID: getEnv("PLAID_CLIENT_ID", ""),
			Secret:   getEnv("PLAID_SECRET", ""),
			Env:      strings.ToLower(getEnv("PLAID_ENV", "sandbox")),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   getEnv("GOOGLE_SHEET_ID", ""),
			CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		},
		Store: StoreConfig{
			AccountsFile:    getEnv("BANK_ACCOUNTS_FILE", "_bank_accounts.json"),
			LegacyTokenFile: getEnv("LEGACY_TOKEN_FILE", "_access_token.json"),
		},
		Backup: BackupConfig{
			Bucket: getEnv("BACKUP_BUCKET", ""),
			Prefix: getEnv("BACKUP_PREFIX", "banksync"),
		},
		RunLog: RunLogConfig{
			ProjectID: getEnv("BIGQUERY_PROJECT", ""),
			Dataset:   getEnv("BIGQUERY_DATASET", "banksync"),
			Table:     getEnv("BIGQUERY_TABLE", "sync_runs"),
		},
		RulesFile: getEnv("RULES_FILE", ""),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogDir:    getEnv("LOG_DIR", ""),
	}

	var err error
	if cfg.Sync.WindowDays, err = getPositiveInt("SYNC_WINDOW_DAYS", 60); err != nil {
		return nil, err
	}
	if cfg.Sheets.RequestsPerMinute, err = getPositiveInt("SHEETS_REQUESTS_PER_MINUTE", 60); err != nil {
		return nil, err
	}
	if cfg.Sync.IncludePending, err = getBool("SYNC_INCLUDE_PENDING", true); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Plaid.Env {
	case "sandbox", "production":
	default:
		return fmt.Errorf("PLAID_ENV must be sandbox or production, got %q", c.Plaid.Env)
	}
	return nil
}

// Require checks that every setting needed by reqs is present.
func (c *Config) Require(reqs ...Requirement) error {
	var missing []string
	for _, r := range reqs {
		switch r {
		case NeedPlaid:
			if c.Plaid.ClientID == "" {
				missing = append(missing, "PLAID_CLIENT_ID")
			}
			if c.Plaid.Secret == "" {
				missing = append(missing, "PLAID_SECRET")
			}
		case NeedSheets:
			if c.Sheets.SpreadsheetID == "" {
				missing = append(missing, "GOOGLE_SHEET_ID")
			}
			if c.Sheets.CredentialsFile == "" {
				missing = append(missing, "GOOGLE_CREDENTIALS_FILE")
			}
		case NeedBackup:
			if c.Backup.Bucket == "" {
				missing = append(missing, "BACKUP_BUCKET")
			}
		}
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getPositiveInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, raw)
	}
	return b, nil
}

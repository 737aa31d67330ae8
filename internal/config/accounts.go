// internal/config/accounts.go — sender account pool loading and validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// DefaultDailyQuota stays well under Gmail's 500/day consumer limit.
const DefaultDailyQuota = 400

// ErrTemplateCreated is returned when the accounts file did not exist and a
// template was written in its place for the operator to fill in.
var ErrTemplateCreated = errors.New("accounts template created")

type accountEntry struct {
	Email          string `json:"email"`
	AppPassword    string `json:"app_password,omitempty"`
	CredentialsDir string `json:"credentials_dir,omitempty"`
	DailyQuota     int    `json:"daily_quota,omitempty"`
}

// LoadAccounts reads the ordered account pool from the JSON file at path.
// A missing file is replaced with a template and reported via
// ErrTemplateCreated so the caller can print setup guidance and exit.
func LoadAccounts(path string) ([]mailer.Account, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if werr := writeTemplate(path); werr != nil {
			return nil, fmt.Errorf("write accounts template: %w", werr)
		}
		return nil, fmt.Errorf("%w at %s: fill it in and re-run", ErrTemplateCreated, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}

	var entries []accountEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse accounts %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("accounts file %s lists no accounts", path)
	}

	accounts := make([]mailer.Account, 0, len(entries))
	for i, e := range entries {
		if e.Email == "" {
			return nil, fmt.Errorf("account %d: missing email", i)
		}
		if e.AppPassword == "" && e.CredentialsDir == "" {
			return nil, fmt.Errorf("account %s: needs app_password or credentials_dir", e.Email)
		}
		if e.AppPassword != "" && e.CredentialsDir != "" {
			return nil, fmt.Errorf("account %s: app_password and credentials_dir are mutually exclusive", e.Email)
		}
		quota := e.DailyQuota
		if quota == 0 {
			quota = DefaultDailyQuota
		}
		if quota < 0 {
			return nil, fmt.Errorf("account %s: negative daily_quota", e.Email)
		}
		accounts = append(accounts, mailer.Account{
			Email:          e.Email,
			AppPassword:    e.AppPassword,
			CredentialsDir: e.CredentialsDir,
			DailyQuota:     quota,
		})
	}
	return accounts, nil
}

func writeTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	template := []accountEntry{
		{Email: "you@gmail.com", AppPassword: "xxxx xxxx xxxx xxxx"},
		{Email: "another@gmail.com", CredentialsDir: "credentials/another", DailyQuota: DefaultDailyQuota},
	}
	raw, err := json.MarshalIndent(template, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o600)
}

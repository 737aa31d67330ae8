// Package config loads the account pool and the fixed path conventions,
// both overridable through the environment (optionally via a .env file
// loaded by the commands).
package config

import (
	"os"
	"strings"
)

// Defaults are the conventional file locations and transport settings.
// Flags override these; these override the built-in fallbacks.
type Defaults struct {
	AccountsPath   string
	RecipientsPath string
	LedgerPath     string
	SMTPAddr       string
	Timezone       string
}

// FromEnv resolves defaults from MAILHERD_* environment variables.
func FromEnv() Defaults {
	return Defaults{
		AccountsPath:   getEnvString("MAILHERD_ACCOUNTS", "credentials/accounts.json"),
		RecipientsPath: getEnvString("MAILHERD_RECIPIENTS", "renamed_pdfs/email_list.csv"),
		LedgerPath:     getEnvString("MAILHERD_LEDGER", "send_log.csv"),
		SMTPAddr:       getEnvString("MAILHERD_SMTP_ADDR", "smtp.gmail.com:465"),
		Timezone:       getEnvString("MAILHERD_TIMEZONE", ""),
	}
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

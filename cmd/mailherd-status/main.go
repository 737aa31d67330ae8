// mailherd-status summarizes the progress ledger without sending anything.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joshsymonds/mailherd/internal/config"
	"github.com/joshsymonds/mailherd/internal/ledger"
	"github.com/joshsymonds/mailherd/internal/mailer"
	"github.com/joshsymonds/mailherd/internal/roster"
	"github.com/joshsymonds/mailherd/internal/runtime"
)

type statusConfig struct {
	accounts   string
	recipients string
	ledgerPath string
	timezone   string
}

func main() {
	_ = godotenv.Load()
	cfg := parseStatusFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailherd-status failed", "error", err)
		os.Exit(1)
	}
}

func parseStatusFlags() statusConfig {
	env := config.FromEnv()
	accounts := flag.String("accounts", env.AccountsPath, "sender accounts file")
	recipients := flag.String("recipients", env.RecipientsPath, "recipient roster CSV")
	ledgerPath := flag.String("ledger", env.LedgerPath, "progress ledger path (.csv or .db)")
	timezone := flag.String("timezone", env.Timezone, "IANA timezone for quota days (default local)")
	flag.Parse()

	return statusConfig{
		accounts:   *accounts,
		recipients: *recipients,
		ledgerPath: *ledgerPath,
		timezone:   *timezone,
	}
}

func run(cfg statusConfig) error {
	ctx := context.Background()

	loc := time.Local
	if cfg.timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.timezone, err)
		}
	}
	now := time.Now().In(loc)

	accounts, err := config.LoadAccounts(cfg.accounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	recipients, err := roster.Load(cfg.recipients)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	led, err := ledger.Open(ctx, cfg.ledgerPath, runtime.DefaultLogger())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()
	entries, err := led.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	state := ledger.BuildState(entries, now)

	sent, failed := 0, 0
	for _, e := range entries {
		switch e.Outcome {
		case mailer.OutcomeSent:
			sent++
		case mailer.OutcomeFailed:
			failed++
		}
	}
	pending := 0
	for _, r := range recipients {
		if !state.AlreadySent(r.Email) {
			pending++
		}
	}
	capacity := 0
	fmt.Printf("recipients: %d total, %d pending\n", len(recipients), pending)
	fmt.Printf("ledger:     %d sent, %d failed attempts\n", sent, failed)
	for _, a := range accounts {
		used := state.SentToday(a.Email)
		left := a.DailyQuota - used
		if left < 0 {
			left = 0
		}
		capacity += left
		fmt.Printf("account:    %s %d/%d sent today\n", a.Email, used, a.DailyQuota)
	}
	fmt.Printf("capacity:   %d sends remaining today\n", capacity)
	return nil
}

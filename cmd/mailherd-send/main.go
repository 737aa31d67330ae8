package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/joshsymonds/mailherd/internal/config"
	"github.com/joshsymonds/mailherd/internal/ledger"
	"github.com/joshsymonds/mailherd/internal/pace"
	"github.com/joshsymonds/mailherd/internal/roster"
	"github.com/joshsymonds/mailherd/internal/runtime"
	"github.com/joshsymonds/mailherd/internal/sched"
)

const defaultSubject = "Your Document - {name}"

const defaultBody = `Dear {name},

Please find your document attached.

If you have any questions, please don't hesitate to reach out.

Best regards
`

type sendConfig struct {
	accounts     string
	recipients   string
	ledgerPath   string
	subject      string
	body         string
	bodyFile     string
	smtpAddr     string
	timezone     string
	minDelay     time.Duration
	maxDelay     time.Duration
	batchSize    int
	breakMin     time.Duration
	breakMax     time.Duration
	retries      int
	retryBackoff time.Duration
	dryRun       bool
}

func main() {
	_ = godotenv.Load()
	cfg := parseSendFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailherd-send failed", "error", err)
		os.Exit(1)
	}
}

func parseSendFlags() sendConfig {
	env := config.FromEnv()
	accounts := flag.String("accounts", env.AccountsPath, "sender accounts file")
	recipients := flag.String("recipients", env.RecipientsPath, "recipient roster CSV")
	ledgerPath := flag.String("ledger", env.LedgerPath, "progress ledger path (.csv or .db)")
	subject := flag.String("subject", defaultSubject, "subject template ({name} placeholder)")
	body := flag.String("body", defaultBody, "body template ({name} placeholder)")
	bodyFile := flag.String("body-file", "", "read the body template from this file instead")
	smtpAddr := flag.String("smtp-addr", env.SMTPAddr, "SMTP submission endpoint for app-password accounts")
	timezone := flag.String("timezone", env.Timezone, "IANA timezone for quota days (default local)")
	minDelay := flag.Duration("min-delay", 20*time.Second, "shortest gap between sends")
	maxDelay := flag.Duration("max-delay", 60*time.Second, "longest gap between sends")
	batchSize := flag.Int("batch-size", 100, "sends before a long break")
	breakMin := flag.Duration("break-min", 5*time.Minute, "shortest long break")
	breakMax := flag.Duration("break-max", 10*time.Minute, "longest long break")
	retries := flag.Int("retries", 2, "retries per recipient on transient failures")
	retryBackoff := flag.Duration("retry-backoff", 5*time.Second, "wait before each retry")
	dryRun := flag.Bool("dry-run", false, "log only; send nothing and record nothing")
	flag.Parse()

	return sendConfig{
		accounts:     *accounts,
		recipients:   *recipients,
		ledgerPath:   *ledgerPath,
		subject:      *subject,
		body:         *body,
		bodyFile:     *bodyFile,
		smtpAddr:     *smtpAddr,
		timezone:     *timezone,
		minDelay:     *minDelay,
		maxDelay:     *maxDelay,
		batchSize:    *batchSize,
		breakMin:     *breakMin,
		breakMax:     *breakMax,
		retries:      *retries,
		retryBackoff: *retryBackoff,
		dryRun:       *dryRun,
	}
}

func run(cfg sendConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loc := time.Local
	if cfg.timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.timezone)
		if err != nil {
			return fmt.Errorf("load timezone %q: %w", cfg.timezone, err)
		}
	}

	accounts, err := config.LoadAccounts(cfg.accounts)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	recipients, err := roster.Load(cfg.recipients)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}

	body := cfg.body
	if cfg.bodyFile != "" {
		raw, err := os.ReadFile(cfg.bodyFile)
		if err != nil {
			return fmt.Errorf("read body file: %w", err)
		}
		body = string(raw)
	}

	logger := runtime.DefaultLogger()
	led, err := ledger.Open(ctx, cfg.ledgerPath, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer led.Close()

	pacer := pace.NewJitterPacer(pace.Options{
		MinDelay:  cfg.minDelay,
		MaxDelay:  cfg.maxDelay,
		BatchSize: cfg.batchSize,
		BreakMin:  cfg.breakMin,
		BreakMax:  cfg.breakMax,
	})

	svc := sched.NewService(led, runtime.NewOpener(cfg.smtpAddr), pacer, logger)
	svc.Retries = cfg.retries
	svc.RetryBackoff = cfg.retryBackoff
	svc.Clock = func() time.Time { return time.Now().In(loc) }

	spec := sched.Spec{
		Recipients: recipients,
		Accounts:   accounts,
		Subject:    cfg.subject,
		Body:       body,
		DryRun:     cfg.dryRun,
	}
	if _, err := svc.Run(ctx, spec); err != nil {
		return fmt.Errorf("run sender: %w", err)
	}
	return nil
}

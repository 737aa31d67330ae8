// Package sched holds the send-scheduling loop: pick the next pending
// recipient, pick an eligible account, pace, send with bounded retry,
// and record the outcome before moving on.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/mailherd/internal/ledger"
	"github.com/joshsymonds/mailherd/internal/mailer"
	"github.com/joshsymonds/mailherd/internal/pace"
)

// TransportOpener opens an authenticated session for one account.
type TransportOpener func(ctx context.Context, acct mailer.Account) (mailer.Transport, error)

// Spec describes one run.
type Spec struct {
	Recipients []mailer.Recipient
	Accounts   []mailer.Account
	Subject    string // may contain the {name} placeholder
	Body       string // may contain the {name} placeholder
	DryRun     bool
}

// Summary reports what a run did.
type Summary struct {
	Sent    int
	Failed  int
	Skipped int // already sent on an earlier run
	Planned int // dry-run only
	Halted  bool
}

// Service executes the scheduling loop. Exactly one send is in flight at
// any time; every outcome is appended to the ledger before the loop
// advances, so the process is safe to kill at any point.
type Service struct {
	Ledger ledger.Ledger
	Open   TransportOpener
	Pacer  pace.Pacer
	Logger *slog.Logger

	Clock        func() time.Time
	Sleep        func(context.Context, time.Duration) error
	Retries      int
	RetryBackoff time.Duration
}

// NewService constructs a Service with sane defaults.
func NewService(l ledger.Ledger, open TransportOpener, pacer pace.Pacer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Service{
		Ledger:       l,
		Open:         open,
		Pacer:        pacer,
		Logger:       logger,
		Clock:        time.Now,
		Sleep:        sleepCtx,
		Retries:      2,
		RetryBackoff: 5 * time.Second,
	}
}

// Run processes every pending recipient until none remain (DONE) or no
// account is eligible (HALTED). Both are clean exits; the returned error
// is reserved for configuration problems, ledger failures, and
// cancellation.
func (s *Service) Run(ctx context.Context, spec Spec) (Summary, error) {
	var summary Summary
	if len(spec.Accounts) == 0 {
		return summary, errors.New("no accounts configured")
	}

	entries, err := s.Ledger.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load ledger: %w", err)
	}
	state := ledger.BuildState(entries, s.Clock())

	cursor := rotationStart(spec.Accounts, state.LastAccount())
	transports := make(map[string]mailer.Transport, len(spec.Accounts))
	defer func() {
		for _, t := range transports {
			_ = t.Close()
		}
	}()
	down := make(map[string]struct{})

	pending := 0
	for _, r := range spec.Recipients {
		if !state.AlreadySent(r.Email) {
			pending++
		}
	}
	s.Logger.InfoContext(ctx, "starting run",
		"recipients", len(spec.Recipients),
		"pending", pending,
		"accounts", len(spec.Accounts),
		"capacity", remainingCapacity(spec.Accounts, state))

	for _, rcpt := range spec.Recipients {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if state.AlreadySent(rcpt.Email) {
			summary.Skipped++
			continue
		}

		acct, transport, halted, err := s.nextTransport(ctx, spec, state, transports, down, &cursor)
		if err != nil {
			return summary, err
		}
		if halted {
			summary.Halted = true
			s.Logger.InfoContext(ctx, "all accounts at quota or unavailable, halting; resume tomorrow",
				"sent", summary.Sent, "failed", summary.Failed)
			return summary, nil
		}

		msg := mailer.Message{
			From:           acct.Email,
			To:             rcpt.Email,
			ToName:         rcpt.Name,
			Subject:        mailer.Personalize(spec.Subject, rcpt.Name),
			Body:           mailer.Personalize(spec.Body, rcpt.Name),
			AttachmentPath: rcpt.AttachmentPath,
		}

		if spec.DryRun {
			summary.Planned++
			s.Logger.InfoContext(ctx, "dry-run: would send",
				"to", rcpt.Email, "via", acct.Email, "attachment", rcpt.AttachmentPath)
			continue
		}

		if s.Pacer != nil {
			if err := s.Pacer.Wait(ctx); err != nil {
				return summary, err
			}
		}

		id, sendErr := s.attempt(ctx, transport, msg)
		if sendErr != nil && ctx.Err() != nil {
			// Interrupted mid-send: record nothing, the next run retries.
			return summary, ctx.Err()
		}

		entry := ledger.Entry{
			Time:      s.Clock(),
			Recipient: rcpt.Email,
			Account:   acct.Email,
		}
		if sendErr != nil {
			entry.Outcome = mailer.OutcomeFailed
			entry.Note = sendErr.Error()
			summary.Failed++
			s.Logger.WarnContext(ctx, "send failed",
				"to", rcpt.Email, "via", acct.Email, "error", sendErr)
		} else {
			entry.Outcome = mailer.OutcomeSent
			entry.Note = id
			summary.Sent++
			s.Logger.InfoContext(ctx, "sent",
				"to", rcpt.Email, "via", acct.Email, "id", id)
		}
		// The outcome must survive even if the operator hits Ctrl-C right
		// after the send went out; otherwise a resume would send twice.
		if err := s.Ledger.Append(context.WithoutCancel(ctx), entry); err != nil {
			return summary, fmt.Errorf("append ledger: %w", err)
		}
		if entry.Outcome == mailer.OutcomeSent {
			state.RecordSent(rcpt.Email, acct.Email)
		}
	}

	s.Logger.InfoContext(ctx, "run complete",
		"sent", summary.Sent, "failed", summary.Failed,
		"skipped", summary.Skipped, "planned", summary.Planned)
	return summary, nil
}

// nextTransport picks the next eligible account in rotation order and
// returns its cached or freshly opened transport. Accounts whose session
// cannot be opened are marked down for the rest of the run. halted is true
// when no eligible account remains.
func (s *Service) nextTransport(
	ctx context.Context,
	spec Spec,
	state *ledger.RunState,
	transports map[string]mailer.Transport,
	down map[string]struct{},
	cursor *int,
) (mailer.Account, mailer.Transport, bool, error) {
	n := len(spec.Accounts)
	for scanned := 0; scanned < n; {
		idx := *cursor % n
		acct := spec.Accounts[idx]
		_, isDown := down[acct.Email]
		if isDown || state.SentToday(acct.Email) >= acct.DailyQuota {
			*cursor = idx + 1
			scanned++
			continue
		}
		if spec.DryRun {
			*cursor = idx + 1
			return acct, nil, false, nil
		}
		transport, ok := transports[acct.Email]
		if !ok {
			var err error
			transport, err = s.Open(ctx, acct)
			if err != nil {
				if ctx.Err() != nil {
					return mailer.Account{}, nil, false, ctx.Err()
				}
				s.Logger.WarnContext(ctx, "account unavailable, excluding from run",
					"account", acct.Email, "error", err)
				down[acct.Email] = struct{}{}
				*cursor = idx + 1
				scanned++
				continue
			}
			transports[acct.Email] = transport
		}
		*cursor = idx + 1
		return acct, transport, false, nil
	}
	return mailer.Account{}, nil, true, nil
}

// attempt sends msg, retrying transient failures after a reconnect and a
// short backoff. Permanent failures return immediately.
func (s *Service) attempt(ctx context.Context, t mailer.Transport, msg mailer.Message) (string, error) {
	var lastErr error
	for try := 0; try <= s.Retries; try++ {
		if try > 0 {
			if err := s.Sleep(ctx, s.RetryBackoff); err != nil {
				return "", err
			}
			if err := t.Reset(ctx); err != nil {
				lastErr = err
				continue
			}
		}
		id, err := t.Send(ctx, msg)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if mailer.IsPermanent(err) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", lastErr
}

func rotationStart(accounts []mailer.Account, last string) int {
	for i, a := range accounts {
		if a.Email == last {
			return i + 1
		}
	}
	return 0
}

func remainingCapacity(accounts []mailer.Account, state *ledger.RunState) int {
	total := 0
	for _, a := range accounts {
		if left := a.DailyQuota - state.SentToday(a.Email); left > 0 {
			total += left
		}
	}
	return total
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

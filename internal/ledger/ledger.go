// Package ledger is the durable, append-only record of every send attempt.
// The full history is the source of truth: each run rebuilds its state from
// the entries, which is what makes the sender safe to kill and resume.
package ledger

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// Entry is one row of the ledger. Rows are append-only and never edited.
type Entry struct {
	Time      time.Time
	Recipient string
	Account   string
	Outcome   mailer.Outcome
	Note      string
}

// Ledger stores entries durably. Append must not return until the entry
// would survive a crash; the scheduler relies on that to never duplicate
// a send across restarts.
type Ledger interface {
	Load(ctx context.Context) ([]Entry, error)
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Open selects a backend by path extension: .db/.sqlite/.sqlite3 opens the
// embedded database, anything else the flat CSV file.
func Open(ctx context.Context, path string, logger *slog.Logger) (Ledger, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(ctx, path)
	default:
		return OpenCSV(path, logger), nil
	}
}

// RunState is the in-memory view a run needs, reconstructed from entries:
// which recipients already have a sent row, how many sends each account
// has made today, and which account sent last (for rotation).
type RunState struct {
	sent        map[string]struct{}
	sentToday   map[string]int
	lastAccount string
}

// BuildState folds entries into a RunState. "Today" is the calendar date
// of now in now's location; only sent entries count against quotas.
func BuildState(entries []Entry, now time.Time) *RunState {
	s := &RunState{
		sent:      make(map[string]struct{}),
		sentToday: make(map[string]int),
	}
	y, m, d := now.Date()
	for _, e := range entries {
		if e.Outcome != mailer.OutcomeSent {
			continue
		}
		s.sent[e.Recipient] = struct{}{}
		s.lastAccount = e.Account
		ey, em, ed := e.Time.In(now.Location()).Date()
		if ey == y && em == m && ed == d {
			s.sentToday[e.Account]++
		}
	}
	return s
}

// AlreadySent reports whether recipient has a sent entry.
func (s *RunState) AlreadySent(recipient string) bool {
	_, ok := s.sent[recipient]
	return ok
}

// SentToday returns the number of sends account has made today.
func (s *RunState) SentToday(account string) int {
	return s.sentToday[account]
}

// LastAccount returns the account of the most recent sent entry, or "".
func (s *RunState) LastAccount() string {
	return s.lastAccount
}

// RecordSent updates the state after a sent entry was appended.
func (s *RunState) RecordSent(recipient, account string) {
	s.sent[recipient] = struct{}{}
	s.sentToday[account]++
	s.lastAccount = account
}

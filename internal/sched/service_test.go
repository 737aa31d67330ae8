package sched

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joshsymonds/mailherd/internal/ledger"
	"github.com/joshsymonds/mailherd/internal/mailer"
)

type memLedger struct {
	entries []ledger.Entry
}

func (m *memLedger) Load(ctx context.Context) ([]ledger.Entry, error) {
	_ = ctx
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memLedger) Append(ctx context.Context, e ledger.Entry) error {
	_ = ctx
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) Close() error { return nil }

func (m *memLedger) count(outcome mailer.Outcome) int {
	n := 0
	for _, e := range m.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	account string
	sends   []mailer.Message
	resets  int
	// errs is a per-recipient queue of errors returned before succeeding.
	errs map[string][]error
}

func (f *fakeTransport) Send(ctx context.Context, msg mailer.Message) (string, error) {
	_ = ctx
	f.sends = append(f.sends, msg)
	if queue := f.errs[msg.To]; len(queue) > 0 {
		err := queue[0]
		f.errs[msg.To] = queue[1:]
		return "", err
	}
	return fmt.Sprintf("id-%d", len(f.sends)), nil
}

func (f *fakeTransport) Reset(ctx context.Context) error {
	_ = ctx
	f.resets++
	return nil
}

func (f *fakeTransport) Close() error { return nil }

type fixture struct {
	svc        *Service
	led        *memLedger
	transports map[string]*fakeTransport
	openErrs   map[string]error
	opens      []string
	slept      []time.Duration
}

func newFixture() *fixture {
	f := &fixture{
		led:        &memLedger{},
		transports: map[string]*fakeTransport{},
		openErrs:   map[string]error{},
	}
	open := func(ctx context.Context, acct mailer.Account) (mailer.Transport, error) {
		_ = ctx
		f.opens = append(f.opens, acct.Email)
		if err := f.openErrs[acct.Email]; err != nil {
			return nil, err
		}
		t, ok := f.transports[acct.Email]
		if !ok {
			t = &fakeTransport{account: acct.Email}
			f.transports[acct.Email] = t
		}
		return t, nil
	}
	f.svc = NewService(f.led, open, nil, slogDiscard())
	f.svc.Clock = func() time.Time { return time.Date(2024, time.May, 2, 10, 0, 0, 0, time.UTC) }
	f.svc.Sleep = func(_ context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		return nil
	}
	return f
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recipients(n int) []mailer.Recipient {
	out := make([]mailer.Recipient, n)
	for i := range out {
		out[i] = mailer.Recipient{
			Email:          fmt.Sprintf("r%d@example.com", i),
			Name:           fmt.Sprintf("R%d", i),
			AttachmentPath: fmt.Sprintf("docs/r%d.pdf", i),
		}
	}
	return out
}

func account(email string, quota int) mailer.Account {
	return mailer.Account{Email: email, AppPassword: "x", DailyQuota: quota}
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture()
	spec := Spec{
		Recipients: recipients(5),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
		Subject:    "Your Document - {name}",
		Body:       "Dear {name},\n",
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 5 || summary.Failed != 0 || summary.Halted {
		t.Fatalf("summary = %+v", summary)
	}
	if got := f.led.count(mailer.OutcomeSent); got != 5 {
		t.Fatalf("ledger has %d sent entries, want 5", got)
	}
	seen := map[string]int{}
	for _, e := range f.led.entries {
		seen[e.Recipient]++
	}
	for r, n := range seen {
		if n != 1 {
			t.Fatalf("recipient %s has %d entries", r, n)
		}
	}
	// Personalization reached the transport.
	first := f.transports["one@gmail.com"].sends[0]
	if first.Subject != "Your Document - R0" {
		t.Fatalf("subject = %q", first.Subject)
	}
	if first.Body != "Dear R0,\n" {
		t.Fatalf("body = %q", first.Body)
	}
}

func TestRunIdempotence(t *testing.T) {
	f := newFixture()
	spec := Spec{
		Recipients: recipients(3),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}
	if _, err := f.svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("first run: %v", err)
	}

	before := len(f.transports["one@gmail.com"].sends)
	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Sent != 0 || summary.Skipped != 3 {
		t.Fatalf("second run summary = %+v", summary)
	}
	if after := len(f.transports["one@gmail.com"].sends); after != before {
		t.Fatalf("second run sent %d messages", after-before)
	}
}

func TestRunRotationSplitsEvenly(t *testing.T) {
	f := newFixture()
	spec := Spec{
		Recipients: recipients(6),
		Accounts: []mailer.Account{
			account("one@gmail.com", 3),
			account("two@gmail.com", 3),
		},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 6 || summary.Halted {
		t.Fatalf("summary = %+v", summary)
	}
	if n := len(f.transports["one@gmail.com"].sends); n != 3 {
		t.Fatalf("one@gmail.com sent %d, want 3", n)
	}
	if n := len(f.transports["two@gmail.com"].sends); n != 3 {
		t.Fatalf("two@gmail.com sent %d, want 3", n)
	}
	// Strict alternation, not exhaust-then-switch.
	for i, e := range f.led.entries {
		want := "one@gmail.com"
		if i%2 == 1 {
			want = "two@gmail.com"
		}
		if e.Account != want {
			t.Fatalf("entry %d used %s, want %s", i, e.Account, want)
		}
	}
}

func TestRunRotationResumesAfterLastAccount(t *testing.T) {
	f := newFixture()
	f.led.entries = []ledger.Entry{{
		Time:      f.svc.Clock().Add(-time.Hour),
		Recipient: "earlier@example.com",
		Account:   "one@gmail.com",
		Outcome:   mailer.OutcomeSent,
	}}
	spec := Spec{
		Recipients: recipients(1),
		Accounts: []mailer.Account{
			account("one@gmail.com", 10),
			account("two@gmail.com", 10),
		},
	}

	if _, err := f.svc.Run(context.Background(), spec); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := f.led.entries[len(f.led.entries)-1]
	if last.Account != "two@gmail.com" {
		t.Fatalf("rotation did not continue past last account, used %s", last.Account)
	}
}

func TestRunQuotaInvariantAndHalt(t *testing.T) {
	f := newFixture()
	spec := Spec{
		Recipients: recipients(5),
		Accounts: []mailer.Account{
			account("one@gmail.com", 1),
			account("two@gmail.com", 1),
		},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Halted || summary.Sent != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	perAccount := map[string]int{}
	for _, e := range f.led.entries {
		if e.Outcome == mailer.OutcomeSent {
			perAccount[e.Account]++
		}
	}
	for _, a := range spec.Accounts {
		if perAccount[a.Email] > a.DailyQuota {
			t.Fatalf("account %s exceeded quota: %d", a.Email, perAccount[a.Email])
		}
	}
}

func TestRunQuotaCountsFromLedger(t *testing.T) {
	f := newFixture()
	now := f.svc.Clock()
	// Two sends earlier today leave room for exactly one more.
	f.led.entries = []ledger.Entry{
		{Time: now.Add(-3 * time.Hour), Recipient: "p1@example.com", Account: "one@gmail.com", Outcome: mailer.OutcomeSent},
		{Time: now.Add(-2 * time.Hour), Recipient: "p2@example.com", Account: "one@gmail.com", Outcome: mailer.OutcomeSent},
		// Yesterday's send must not count against today.
		{Time: now.Add(-26 * time.Hour), Recipient: "p0@example.com", Account: "one@gmail.com", Outcome: mailer.OutcomeSent},
	}
	spec := Spec{
		Recipients: recipients(2),
		Accounts:   []mailer.Account{account("one@gmail.com", 3)},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 1 || !summary.Halted {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	f := newFixture()
	transient := errors.New("read tcp: connection reset by peer")
	f.transports["one@gmail.com"] = &fakeTransport{
		account: "one@gmail.com",
		errs:    map[string][]error{"r0@example.com": {transient, transient}},
	}
	spec := Spec{
		Recipients: recipients(1),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 1 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := f.led.count(mailer.OutcomeFailed); got != 0 {
		t.Fatalf("ledger has %d failed entries, want 0", got)
	}
	tr := f.transports["one@gmail.com"]
	if len(tr.sends) != 3 {
		t.Fatalf("send attempts = %d, want 3", len(tr.sends))
	}
	if tr.resets != 2 {
		t.Fatalf("resets = %d, want 2", tr.resets)
	}
	if len(f.slept) != 2 || f.slept[0] != f.svc.RetryBackoff {
		t.Fatalf("backoff sleeps = %v", f.slept)
	}
}

func TestRunTransientRetriesExhausted(t *testing.T) {
	f := newFixture()
	transient := errors.New("i/o timeout")
	f.transports["one@gmail.com"] = &fakeTransport{
		account: "one@gmail.com",
		errs: map[string][]error{
			"r0@example.com": {transient, transient, transient},
		},
	}
	spec := Spec{
		Recipients: recipients(2),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 1 || summary.Sent != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if f.led.entries[0].Outcome != mailer.OutcomeFailed || f.led.entries[0].Note == "" {
		t.Fatalf("failed entry = %+v", f.led.entries[0])
	}
}

func TestRunPermanentFailureNoRetry(t *testing.T) {
	f := newFixture()
	f.transports["one@gmail.com"] = &fakeTransport{
		account: "one@gmail.com",
		errs: map[string][]error{
			"r0@example.com": {mailer.Permanent(errors.New("550 no such user"))},
		},
	}
	spec := Spec{
		Recipients: recipients(2),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 1 || summary.Sent != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	tr := f.transports["one@gmail.com"]
	if len(tr.sends) != 2 {
		t.Fatalf("send attempts = %d, want 2 (no retry)", len(tr.sends))
	}
	if tr.resets != 0 {
		t.Fatalf("resets = %d, want 0", tr.resets)
	}
	if f.led.count(mailer.OutcomeFailed) != 1 {
		t.Fatalf("ledger failed entries = %d", f.led.count(mailer.OutcomeFailed))
	}
}

func TestRunExcludesUnavailableAccount(t *testing.T) {
	f := newFixture()
	f.openErrs["one@gmail.com"] = errors.New("535 username and password not accepted")
	spec := Spec{
		Recipients: recipients(2),
		Accounts: []mailer.Account{
			account("one@gmail.com", 10),
			account("two@gmail.com", 10),
		},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Sent != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if n := len(f.transports["two@gmail.com"].sends); n != 2 {
		t.Fatalf("two@gmail.com sent %d, want 2", n)
	}
	// The broken account is only probed once.
	probes := 0
	for _, email := range f.opens {
		if email == "one@gmail.com" {
			probes++
		}
	}
	if probes != 1 {
		t.Fatalf("one@gmail.com probed %d times", probes)
	}
}

func TestRunHaltsWhenAllAccountsUnavailable(t *testing.T) {
	f := newFixture()
	f.openErrs["one@gmail.com"] = errors.New("dial tcp: connection refused")
	spec := Spec{
		Recipients: recipients(1),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !summary.Halted || summary.Sent != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(f.led.entries) != 0 {
		t.Fatalf("no entries expected, got %d", len(f.led.entries))
	}
}

func TestRunDryRun(t *testing.T) {
	f := newFixture()
	spec := Spec{
		Recipients: recipients(3),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
		DryRun:     true,
	}

	summary, err := f.svc.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Planned != 3 || summary.Sent != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(f.led.entries) != 0 {
		t.Fatalf("dry-run must record nothing, got %d entries", len(f.led.entries))
	}
	if len(f.opens) != 0 {
		t.Fatalf("dry-run must not open transports, opened %v", f.opens)
	}
}

func TestRunNoAccounts(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Run(context.Background(), Spec{Recipients: recipients(1)}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunCanceledBeforeRecord(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	spec := Spec{
		Recipients: recipients(1),
		Accounts:   []mailer.Account{account("one@gmail.com", 10)},
	}
	if _, err := f.svc.Run(ctx, spec); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.led.entries) != 0 {
		t.Fatalf("canceled run must not record, got %d entries", len(f.led.entries))
	}
}

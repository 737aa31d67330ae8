// internal/ledger/csv.go — flat-file backend, one CSV row per attempt.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

var csvHeader = []string{"timestamp", "recipient", "account", "outcome", "note"}

// CSVLedger appends rows to a flat file and fsyncs after every write so a
// recorded send survives an immediate crash.
type CSVLedger struct {
	path   string
	logger *slog.Logger
	file   *os.File
	writer *csv.Writer
}

// OpenCSV returns a ledger backed by the file at path. The file is created
// on the first append; a missing file loads as empty.
func OpenCSV(path string, logger *slog.Logger) *CSVLedger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &CSVLedger{path: path, logger: logger}
}

func (l *CSVLedger) Load(ctx context.Context) ([]Entry, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var entries []Entry
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			l.logger.Warn("skipping unreadable ledger row", "line", line, "error", err)
			line++
			continue
		}
		line++
		if line == 1 && len(record) > 0 && record[0] == csvHeader[0] {
			continue
		}
		entry, err := parseRecord(record)
		if err != nil {
			l.logger.Warn("skipping malformed ledger row", "line", line, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *CSVLedger) Append(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.file == nil {
		if err := l.open(); err != nil {
			return err
		}
	}
	record := []string{
		e.Time.Format(time.RFC3339),
		e.Recipient,
		e.Account,
		string(e.Outcome),
		e.Note,
	}
	if err := l.writer.Write(record); err != nil {
		return fmt.Errorf("write ledger row: %w", err)
	}
	l.writer.Flush()
	if err := l.writer.Error(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func (l *CSVLedger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.writer = nil
	return err
}

func (l *CSVLedger) open() error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat ledger: %w", err)
	}
	l.file = f
	l.writer = csv.NewWriter(f)
	if info.Size() == 0 {
		if err := l.writer.Write(csvHeader); err != nil {
			return fmt.Errorf("write ledger header: %w", err)
		}
		l.writer.Flush()
		if err := l.writer.Error(); err != nil {
			return fmt.Errorf("flush ledger header: %w", err)
		}
	}
	return nil
}

func parseRecord(record []string) (Entry, error) {
	if len(record) < 4 {
		return Entry{}, fmt.Errorf("want at least 4 fields, got %d", len(record))
	}
	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return Entry{}, fmt.Errorf("timestamp: %w", err)
	}
	outcome := mailer.Outcome(record[3])
	if outcome != mailer.OutcomeSent && outcome != mailer.OutcomeFailed {
		return Entry{}, fmt.Errorf("unknown outcome %q", record[3])
	}
	e := Entry{
		Time:      ts,
		Recipient: record[1],
		Account:   record[2],
		Outcome:   outcome,
	}
	if len(record) > 4 {
		e.Note = record[4]
	}
	return e, nil
}

var _ Ledger = (*CSVLedger)(nil)

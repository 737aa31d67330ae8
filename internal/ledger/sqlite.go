// internal/ledger/sqlite.go — embedded-database backend for the same log.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// SQLiteLedger stores entries in a single append-only table. WAL mode keeps
// each committed insert durable, which satisfies the same crash contract as
// the CSV backend.
type SQLiteLedger struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS entries (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        ts TEXT NOT NULL,
        recipient TEXT NOT NULL,
        account TEXT NOT NULL,
        outcome TEXT NOT NULL,
        note TEXT NOT NULL DEFAULT ''
    );`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Load(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT ts, recipient, account, outcome, note FROM entries ORDER BY id;`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var ts, recipient, account, outcome, note string
		if err := rows.Scan(&ts, &recipient, &account, &outcome, &note); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		entries = append(entries, Entry{
			Time:      t,
			Recipient: recipient,
			Account:   account,
			Outcome:   mailer.Outcome(outcome),
			Note:      note,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (l *SQLiteLedger) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO entries (ts, recipient, account, outcome, note) VALUES (?, ?, ?, ?, ?);`,
		e.Time.Format(time.RFC3339), e.Recipient, e.Account, string(e.Outcome), e.Note)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

var _ Ledger = (*SQLiteLedger)(nil)

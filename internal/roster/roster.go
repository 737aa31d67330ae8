// Package roster reads the recipient list produced by the PDF extraction
// step: one CSV row per recipient with email, display name, and the path
// of the personalized attachment.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// Load reads the roster at path. The header row must contain email, name,
// and pdf_path columns (in any order); rows with an empty email are
// rejected because email is the unique key the ledger dedupes on.
func Load(path string) ([]mailer.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]mailer.Recipient, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("roster is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read roster header: %w", err)
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	emailCol, ok := cols["email"]
	if !ok {
		return nil, errors.New("roster header missing email column")
	}
	nameCol, ok := cols["name"]
	if !ok {
		return nil, errors.New("roster header missing name column")
	}
	pathCol, ok := cols["pdf_path"]
	if !ok {
		return nil, errors.New("roster header missing pdf_path column")
	}

	var recipients []mailer.Recipient
	seen := map[string]struct{}{}
	line := 1
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read roster row %d: %w", line+1, err)
		}
		line++
		email := strings.TrimSpace(record[emailCol])
		if email == "" {
			return nil, fmt.Errorf("roster row %d has no email", line)
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		recipients = append(recipients, mailer.Recipient{
			Email:          email,
			Name:           strings.TrimSpace(record[nameCol]),
			AttachmentPath: strings.TrimSpace(record[pathCol]),
		})
	}
	return recipients, nil
}

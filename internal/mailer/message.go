// internal/mailer/message.go — builds the RFC 5322 bytes both transports send.
package mailer

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// BuildMessage renders msg as a multipart MIME message with a plain text
// body and one attachment, returning the raw bytes and the generated
// Message-Id. A malformed recipient address or an unreadable attachment
// yields a PermanentError.
func BuildMessage(msg Message, now time.Time) ([]byte, string, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return nil, "", Permanent(fmt.Errorf("recipient address %q: %w", msg.To, err))
	}

	attachment, err := os.ReadFile(msg.AttachmentPath)
	if err != nil {
		return nil, "", Permanent(fmt.Errorf("read attachment: %w", err))
	}

	id := messageID(msg.From)
	var h gomail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*gomail.Address{{Name: msg.FromName, Address: msg.From}})
	h.SetAddressList("To", []*gomail.Address{{Name: msg.ToName, Address: msg.To}})
	h.SetSubject(msg.Subject)
	h.SetMsgIDList("Message-Id", []string{id})

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("create message writer: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return nil, "", fmt.Errorf("create inline writer: %w", err)
	}
	var th gomail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	pw, err := tw.CreatePart(th)
	if err != nil {
		return nil, "", fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(pw, msg.Body); err != nil {
		return nil, "", fmt.Errorf("write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return nil, "", fmt.Errorf("close text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, "", fmt.Errorf("close inline writer: %w", err)
	}

	name := filepath.Base(msg.AttachmentPath)
	var ah gomail.AttachmentHeader
	ah.SetContentType(contentTypeFor(name), nil)
	ah.SetFilename(name)
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return nil, "", fmt.Errorf("create attachment part: %w", err)
	}
	if _, err := aw.Write(attachment); err != nil {
		return nil, "", fmt.Errorf("write attachment: %w", err)
	}
	if err := aw.Close(); err != nil {
		return nil, "", fmt.Errorf("close attachment part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), id, nil
}

// Personalize substitutes the {name} placeholder the roster templates use.
func Personalize(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}

func messageID(from string) string {
	domain := "mailherd.local"
	if at := strings.LastIndex(from, "@"); at != -1 && at+1 < len(from) {
		domain = from[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

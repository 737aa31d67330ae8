// internal/runtime/smtp.go — app-password transport over implicit TLS.
package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// SMTPTransport holds one authenticated SMTP session for one account.
// The session is reused across sends; Reset drops and redials it.
type SMTPTransport struct {
	addr    string
	account mailer.Account
	client  *smtp.Client
}

// NewSMTPTransport dials addr and authenticates with the account's app
// password. A rejected login is a permanent error.
func NewSMTPTransport(addr string, acct mailer.Account) (*SMTPTransport, error) {
	t := &SMTPTransport{addr: addr, account: acct}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SMTPTransport) connect() error {
	c, err := smtp.DialTLS(t.addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	c.CommandTimeout = 30 * time.Second
	c.SubmissionTimeout = 2 * time.Minute
	auth := sasl.NewPlainClient("", t.account.Email, t.account.AppPassword)
	if err := c.Auth(auth); err != nil {
		_ = c.Close()
		return classifySMTP(fmt.Errorf("auth %s: %w", t.account.Email, err))
	}
	t.client = c
	return nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg mailer.Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, id, err := mailer.BuildMessage(msg, time.Now())
	if err != nil {
		return "", err
	}
	if t.client == nil {
		if err := t.connect(); err != nil {
			return "", err
		}
	}
	if err := t.client.SendMail(msg.From, []string{msg.To}, bytes.NewReader(raw)); err != nil {
		return "", classifySMTP(fmt.Errorf("send to %s: %w", msg.To, err))
	}
	return id, nil
}

func (t *SMTPTransport) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.client != nil {
		_ = t.client.Close()
		t.client = nil
	}
	return t.connect()
}

func (t *SMTPTransport) Close() error {
	if t.client == nil {
		return nil
	}
	err := t.client.Quit()
	t.client = nil
	return err
}

// classifySMTP marks 5xx replies permanent; 4xx replies and raw network
// errors stay transient so the scheduler reconnects and retries.
func classifySMTP(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) && !smtpErr.Temporary() {
		return mailer.Permanent(err)
	}
	return err
}

var _ mailer.Transport = (*SMTPTransport)(nil)

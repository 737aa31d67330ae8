// internal/runtime/opener.go
package runtime

import (
	"context"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// NewOpener returns the transport factory the scheduler uses: accounts
// with an app password go over SMTP at smtpAddr, accounts with a
// credentials directory go through the Gmail API.
func NewOpener(smtpAddr string) func(context.Context, mailer.Account) (mailer.Transport, error) {
	return func(ctx context.Context, acct mailer.Account) (mailer.Transport, error) {
		if acct.AppPassword != "" {
			return NewSMTPTransport(smtpAddr, acct)
		}
		return NewGmailTransport(ctx, acct)
	}
}

// internal/runtime/gmailapi.go — OAuth transport over the Gmail send API.
package runtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/mailherd/internal/mailer"
)

// GmailTransport sends through users.messages.send for one account.
type GmailTransport struct {
	credsDir string
	svc      *gmail.Service
}

func NewGmailTransport(ctx context.Context, acct mailer.Account) (*GmailTransport, error) {
	svc, err := NewGmailService(ctx, acct.CredentialsDir)
	if err != nil {
		return nil, err
	}
	return &GmailTransport{credsDir: acct.CredentialsDir, svc: svc}, nil
}

func (t *GmailTransport) Send(ctx context.Context, msg mailer.Message) (string, error) {
	raw, _, err := mailer.BuildMessage(msg, time.Now())
	if err != nil {
		return "", err
	}
	req := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	res, err := t.svc.Users.Messages.Send("me", req).Context(ctx).Do()
	if err != nil {
		return "", classifyAPI(fmt.Errorf("send to %s: %w", msg.To, err))
	}
	return res.Id, nil
}

// Reset rebuilds the service. The HTTP session itself is stateless, but a
// rebuild forces a fresh token load after credential trouble.
func (t *GmailTransport) Reset(ctx context.Context) error {
	svc, err := NewGmailService(ctx, t.credsDir)
	if err != nil {
		return err
	}
	t.svc = svc
	return nil
}

func (t *GmailTransport) Close() error { return nil }

// classifyAPI keeps rate limits and server errors transient; everything
// else (bad request, auth, forbidden) will not succeed on retry.
func classifyAPI(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return err
		}
		return mailer.Permanent(err)
	}
	return err
}

var _ mailer.Transport = (*GmailTransport)(nil)

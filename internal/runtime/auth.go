// internal/runtime/auth.go
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"google.golang.org/api/gmail/v1"
)

// NewGmailService builds an authenticated Gmail API client from the
// credentials in credsDir. The first run for an account opens a browser
// consent flow and stores the token next to the client credentials;
// afterwards the token refreshes itself.
func NewGmailService(ctx context.Context, credsDir string) (*gmail.Service, error) {
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, credsDir, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("gmail credentials in %s: %w", credsDir, err)
	}
	return svc, nil
}

func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

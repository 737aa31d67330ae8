package mailer

import (
	"context"
	"errors"
)

// Transport is the narrow sending surface required by the scheduler.
// One Transport wraps one authenticated session for one account; the
// session is reused across consecutive sends and reopened via Reset
// after a transient failure.
type Transport interface {
	// Send delivers one message and returns a provider message id.
	Send(ctx context.Context, msg Message) (string, error)
	// Reset tears down and reopens the underlying session.
	Reset(ctx context.Context) error
	Close() error
}

// PermanentError marks a send failure that will not succeed on retry:
// rejected authentication, a missing attachment, a malformed recipient
// address, or a 5xx rejection. Everything else is treated as transient.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked as not worth retrying.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

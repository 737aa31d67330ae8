// internal/mailer/types.go
package mailer

// Recipient is one row of the delivery roster.
type Recipient struct {
	Email          string
	Name           string
	AttachmentPath string
}

// Account is a sender identity with its own credentials and daily quota.
// Exactly one of AppPassword or CredentialsDir is set: an app password
// selects the SMTP transport, a credentials directory selects the Gmail
// API transport.
type Account struct {
	Email          string
	AppPassword    string
	CredentialsDir string
	DailyQuota     int
}

// Message is a fully personalized outbound email with one attachment.
type Message struct {
	From           string
	FromName       string
	To             string
	ToName         string
	Subject        string
	Body           string
	AttachmentPath string
}

// Outcome classifies the result of one send attempt as recorded in the ledger.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Package email is the outbound notification gateway. Callers depend only
// on Sender; template rendering and provider choice stay behind it.
package email

// Sender delivers one email. Implementations must be safe for concurrent
// use.
type Sender interface {
	Send(toEmail, subject, htmlBody, textBody string) error
}

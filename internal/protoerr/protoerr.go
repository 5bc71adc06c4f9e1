// Package protoerr defines the error taxonomy shared by the IMAP, SMTP and
// POP3 stacks: transport/lifecycle errors, protocol violations, and
// protocol-specific rejection errors (SMTP sender/recipient/message, IMAP
// capability/selection, SASL).
package protoerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Use errors.Is against these, not string comparison.
var (
	ErrIO          = errors.New("io error")
	ErrTLS         = errors.New("tls error")
	ErrClosed      = errors.New("connection closed")
	ErrTimeout     = errors.New("timeout")
	ErrCancelled   = errors.New("cancelled")
	ErrNotConn     = errors.New("not connected")
	ErrNoSelected  = errors.New("no mailbox selected")
)

// ProtocolViolation wraps a malformed response, unexpected tag, literal
// truncation, or mixed SMTP status code.
type ProtocolViolation struct {
	Context string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Context)
}

// InvalidState records caller misuse of the session state machine.
type InvalidState struct {
	Expected string
	Actual   string
}

func (e *InvalidState) Error() string {
	return fmt.Sprintf("invalid state: expected %s, got %s", e.Expected, e.Actual)
}

// Authentication records an AUTHENTICATE/LOGIN/AUTH failure.
type Authentication struct {
	Reason        string
	ServerMessage string
}

func (e *Authentication) Error() string {
	if e.ServerMessage == "" {
		return fmt.Sprintf("authentication failed: %s", e.Reason)
	}
	return fmt.Sprintf("authentication failed: %s: %s", e.Reason, e.ServerMessage)
}

// SenderNotAccepted records an SMTP MAIL FROM rejection.
type SenderNotAccepted struct {
	Address  string
	Status   int
	Enhanced string
}

func (e *SenderNotAccepted) Error() string {
	return fmt.Sprintf("sender %q not accepted: %d %s", e.Address, e.Status, e.Enhanced)
}

// RecipientNotAccepted records an SMTP RCPT TO rejection.
type RecipientNotAccepted struct {
	Address  string
	Status   int
	Enhanced string
}

func (e *RecipientNotAccepted) Error() string {
	return fmt.Sprintf("recipient %q not accepted: %d %s", e.Address, e.Status, e.Enhanced)
}

// MessageNotAccepted records an SMTP DATA/BDAT rejection.
type MessageNotAccepted struct {
	Status   int
	Enhanced string
}

func (e *MessageNotAccepted) Error() string {
	return fmt.Sprintf("message not accepted: %d %s", e.Status, e.Enhanced)
}

// CapabilityMissing records a caller request for a capability the server
// did not advertise (e.g. SMTPUTF8 requested without the capability).
type CapabilityMissing struct {
	Name string
}

func (e *CapabilityMissing) Error() string {
	return fmt.Sprintf("capability missing: %s", e.Name)
}

// Sasl records a mechanism-specific SASL failure (bad server signature,
// invalid base64, truncated challenge).
type Sasl struct {
	Mechanism string
	Detail    string
}

func (e *Sasl) Error() string {
	return fmt.Sprintf("sasl %s: %s", e.Mechanism, e.Detail)
}

// InternationalNotSupported records a send flagged international (SMTPUTF8)
// against a server that never advertised the SMTPUTF8 capability.
type InternationalNotSupported struct{}

func (e *InternationalNotSupported) Error() string {
	return "message requires SMTPUTF8 but the server did not advertise it"
}

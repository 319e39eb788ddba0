// Package backend defines the capability contracts a mail backend can
// satisfy, the closed set of backend kinds, their configuration
// variants and the error taxonomy shared by every implementation.
package backend

import (
	"context"
	"io"

	"github.com/nhle/postbox/internal/model"
)

// MaxSummaries bounds the number of summaries a single list operation
// returns. Callers wanting other messages narrow their query instead of
// paging.
const MaxSummaries = 20

// Capability names one operation a backend may support.
type Capability string

const (
	CapListMailboxes Capability = "list-mailboxes"
	CapListEmails    Capability = "list-emails"
	CapReadEmailBody Capability = "read-email-body"
	CapSendMessage   Capability = "send-message"
	CapAddMessage    Capability = "add-message"
)

// Capabilities returns every known capability in a stable order.
func Capabilities() []Capability {
	return []Capability{
		CapListMailboxes,
		CapListEmails,
		CapReadEmailBody,
		CapSendMessage,
		CapAddMessage,
	}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// Sending reports whether the capability belongs to the sending area,
// which resolves against the account's send backend.
func (c Capability) Sending() bool {
	return c == CapSendMessage
}

func (c Capability) String() string {
	return string(c)
}

// Backend is a live backend instance. Closing it releases any
// connection or file handle it owns.
type Backend interface {
	io.Closer
}

// MailboxLister lists the mailboxes of an account.
type MailboxLister interface {
	// ListMailboxes returns every mailbox, in backend order. An account
	// without mailboxes yields an empty, non-nil slice.
	ListMailboxes(ctx context.Context) ([]model.Mailbox, error)
}

// EmailLister searches a mailbox and returns message summaries.
type EmailLister interface {
	// ListEmails returns at most MaxSummaries summaries matching query
	// in the backend's result order. No match is not an error.
	ListEmails(ctx context.Context, mailbox, query string) ([]model.Email, error)
}

// BodyReader extracts the text content of one message.
type BodyReader interface {
	// ReadEmailBody returns the concatenated text parts of type mime.
	// It fails with *EmailNotFoundError when uid does not exist and with
	// *EmptyPartError when the message has no part of that type.
	ReadEmailBody(ctx context.Context, mailbox, uid, mime string) (string, error)
}

// MessageSender delivers a raw RFC 5322 message.
type MessageSender interface {
	SendMessage(ctx context.Context, raw []byte) error
}

// MessageAdder stores a raw message into a mailbox.
type MessageAdder interface {
	AddMessage(ctx context.Context, mailbox string, raw []byte) error
}

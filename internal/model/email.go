package model

import (
	"strings"
	"time"
)

// Address is a single mailbox address from an envelope.
type Address struct {
	Name string `json:"name,omitempty"`
	Addr string `json:"addr"`
}

// String formats the address the way it would appear in a header.
func (a Address) String() string {
	if a.Name == "" {
		return a.Addr
	}
	return a.Name + " <" + a.Addr + ">"
}

// Envelope holds the summary headers of a message. The core passes it
// through untouched; rendering is up to the caller.
type Envelope struct {
	MessageID string    `json:"message_id,omitempty"`
	Subject   string    `json:"subject"`
	From      []Address `json:"from,omitempty"`
	To        []Address `json:"to,omitempty"`
	Cc        []Address `json:"cc,omitempty"`
	Date      time.Time `json:"date"`
}

// Sender returns the first From address formatted for display, or an
// empty string when the envelope has no sender.
func (e Envelope) Sender() string {
	if len(e.From) == 0 {
		return ""
	}
	if e.From[0].Name != "" {
		return e.From[0].Name
	}
	return e.From[0].Addr
}

// Recipients joins the To addresses with commas.
func (e Envelope) Recipients() string {
	addrs := make([]string, 0, len(e.To))
	for _, a := range e.To {
		addrs = append(addrs, a.String())
	}
	return strings.Join(addrs, ", ")
}

// Email is a message summary produced by a list operation.
//
// UID is scoped to the mailbox (and, for IMAP, to the session's
// UIDVALIDITY); it is not a globally stable identifier.
type Email struct {
	UID          string    `json:"uid"`
	Envelope     Envelope  `json:"envelope"`
	InternalDate time.Time `json:"internal_date"`
}

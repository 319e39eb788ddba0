package backend

import (
	"fmt"
	"slices"
	"strings"
)

// Kind selects a backend implementation. The set is closed.
type Kind string

const (
	KindNone     Kind = ""
	KindImap     Kind = "imap"
	KindMaildir  Kind = "maildir"
	KindNotmuch  Kind = "notmuch"
	KindSmtp     Kind = "smtp"
	KindSendmail Kind = "sendmail"
)

// registry lists, per kind, the capabilities its implementation serves.
var registry = map[Kind][]Capability{
	KindImap:     {CapListMailboxes, CapListEmails, CapReadEmailBody, CapAddMessage},
	KindMaildir:  {CapListMailboxes, CapListEmails, CapReadEmailBody, CapAddMessage},
	KindNotmuch:  {CapListMailboxes, CapListEmails, CapReadEmailBody, CapAddMessage},
	KindSmtp:     {CapSendMessage},
	KindSendmail: {CapSendMessage},
}

// Kinds returns every backend kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindImap, KindMaildir, KindNotmuch, KindSmtp, KindSendmail}
}

// ParseKind converts a configuration string into a Kind. The empty
// string parses to KindNone.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if k == KindNone {
		return KindNone, nil
	}
	if _, ok := registry[k]; !ok {
		return KindNone, fmt.Errorf("unknown backend kind %q", s)
	}
	return k, nil
}

// Supports reports whether the kind can serve the capability.
func (k Kind) Supports(c Capability) bool {
	return slices.Contains(registry[k], c)
}

// Capabilities returns the capabilities the kind can serve.
func (k Kind) Capabilities() []Capability {
	return slices.Clone(registry[k])
}

func (k Kind) String() string {
	if k == KindNone {
		return "none"
	}
	return string(k)
}

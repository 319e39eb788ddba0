package model

import "strings"

// Mailbox is a folder as reported by a retrieval backend. Names may be
// hierarchical; Delim is the separator the backend uses between levels
// (zero when the backend has no hierarchy).
type Mailbox struct {
	// Name is the full, server-namespaced mailbox name.
	Name string `json:"name"`

	// Delim is the hierarchy delimiter, or 0 if the mailbox is flat.
	Delim rune `json:"delim,omitempty"`

	// Attrs holds backend attributes such as \Noselect or \Sent.
	Attrs []string `json:"attrs,omitempty"`
}

// Parts splits the mailbox name on its hierarchy delimiter.
func (m Mailbox) Parts() []string {
	if m.Delim == 0 {
		return []string{m.Name}
	}
	return strings.Split(m.Name, string(m.Delim))
}

// HasAttr reports whether the mailbox carries the given attribute,
// compared case-insensitively.
func (m Mailbox) HasAttr(attr string) bool {
	for _, a := range m.Attrs {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

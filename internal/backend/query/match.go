package query

import (
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// Candidate is a message as seen by local search evaluation.
type Candidate struct {
	SeqNum       uint32
	UID          imap.UID
	Flags        []imap.Flag
	InternalDate time.Time
	SentDate     time.Time
	Size         int64

	// Header maps lower-cased field names to their decoded values.
	Header map[string][]string

	// Body is the decoded text of the message, without headers.
	Body string
}

// Match reports whether the candidate satisfies every criterion. A "*"
// bound in a sequence set is treated as unbounded.
func Match(c *imap.SearchCriteria, m *Candidate) bool {
	for _, set := range c.SeqNum {
		if !inRanges(m.SeqNum, seqRanges(set)) {
			return false
		}
	}
	for _, set := range c.UID {
		if !inRanges(uint32(m.UID), uidRanges(set)) {
			return false
		}
	}

	if !c.Since.IsZero() && day(m.InternalDate).Before(day(c.Since)) {
		return false
	}
	if !c.Before.IsZero() && !day(m.InternalDate).Before(day(c.Before)) {
		return false
	}
	if !c.SentSince.IsZero() && day(m.SentDate).Before(day(c.SentSince)) {
		return false
	}
	if !c.SentBefore.IsZero() && !day(m.SentDate).Before(day(c.SentBefore)) {
		return false
	}

	for _, field := range c.Header {
		if !matchHeader(m, field) {
			return false
		}
	}
	for _, s := range c.Body {
		if !containsFold(m.Body, s) {
			return false
		}
	}
	for _, s := range c.Text {
		if !containsFold(m.Body, s) && !headerContains(m, s) {
			return false
		}
	}

	for _, f := range c.Flag {
		if !hasFlag(m.Flags, f) {
			return false
		}
	}
	for _, f := range c.NotFlag {
		if hasFlag(m.Flags, f) {
			return false
		}
	}

	if c.Larger > 0 && m.Size <= c.Larger {
		return false
	}
	if c.Smaller > 0 && m.Size >= c.Smaller {
		return false
	}

	for i := range c.Not {
		if Match(&c.Not[i], m) {
			return false
		}
	}
	for i := range c.Or {
		if !Match(&c.Or[i][0], m) && !Match(&c.Or[i][1], m) {
			return false
		}
	}

	return true
}

func day(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func seqRanges(set imap.SeqSet) [][2]uint32 {
	out := make([][2]uint32, 0, len(set))
	for _, r := range set {
		out = append(out, [2]uint32{r.Start, r.Stop})
	}
	return out
}

func uidRanges(set imap.UIDSet) [][2]uint32 {
	out := make([][2]uint32, 0, len(set))
	for _, r := range set {
		out = append(out, [2]uint32{uint32(r.Start), uint32(r.Stop)})
	}
	return out
}

func inRanges(n uint32, ranges [][2]uint32) bool {
	for _, r := range ranges {
		lo, hi := r[0], r[1]
		if lo == 0 {
			lo, hi = hi, 0
		}
		if hi != 0 && lo > hi {
			lo, hi = hi, lo
		}
		if n >= lo && (hi == 0 || n <= hi) {
			return true
		}
	}
	return false
}

func matchHeader(m *Candidate, field imap.SearchCriteriaHeaderField) bool {
	values, ok := m.Header[strings.ToLower(field.Key)]
	if !ok {
		return false
	}
	if field.Value == "" {
		return true
	}
	for _, v := range values {
		if containsFold(v, field.Value) {
			return true
		}
	}
	return false
}

func headerContains(m *Candidate, s string) bool {
	for _, values := range m.Header {
		for _, v := range values {
			if containsFold(v, s) {
				return true
			}
		}
	}
	return false
}

func hasFlag(flags []imap.Flag, f imap.Flag) bool {
	for _, have := range flags {
		if strings.EqualFold(string(have), string(f)) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Package query parses IMAP search-key syntax (RFC 3501 section 6.4.4)
// into go-imap search criteria and evaluates those criteria locally for
// backends that have no server-side search.
//
// RECENT, NEW and OLD are not supported: they depend on the \Recent
// session flag, which IMAP4rev2 removed and go-imap v2 criteria cannot
// express. Parse rejects them with an unsupported-key error.
package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

// dateLayout is the IMAP date format, e.g. 1-Feb-1994.
const dateLayout = "2-Jan-2006"

// Parse converts a search query such as `UNSEEN FROM "alice" SINCE
// 1-Jan-2024` into criteria. An empty query, like ALL, matches every
// message. Unknown keys are rejected.
func Parse(q string) (*imap.SearchCriteria, error) {
	toks, err := tokenize(q)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}

	// A leading CHARSET is accepted; the client always speaks UTF-8.
	if tok, ok := p.peek(); ok && strings.EqualFold(tok.text, "CHARSET") && !tok.quoted {
		p.next()
		if _, err := p.arg("CHARSET"); err != nil {
			return nil, err
		}
	}

	criteria := &imap.SearchCriteria{}
	for !p.done() {
		key, err := p.key()
		if err != nil {
			return nil, err
		}
		and(criteria, key)
	}

	return criteria, nil
}

type token struct {
	text   string
	quoted bool
	open   bool
	close  bool
}

func tokenize(q string) ([]token, error) {
	var toks []token
	for i := 0; i < len(q); {
		switch c := q[i]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '(':
			toks = append(toks, token{text: "(", open: true})
			i++
		case c == ')':
			toks = append(toks, token{text: ")", close: true})
			i++
		case c == '"':
			var sb strings.Builder
			i++
			closed := false
			for i < len(q) {
				if q[i] == '\\' && i+1 < len(q) {
					sb.WriteByte(q[i+1])
					i += 2
					continue
				}
				if q[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(q[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted string in query")
			}
			toks = append(toks, token{text: sb.String(), quoted: true})
		default:
			start := i
			for i < len(q) && !strings.ContainsRune(" \t\r\n()\"", rune(q[i])) {
				i++
			}
			toks = append(toks, token{text: q[start:i]})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() (token, bool) {
	if p.done() {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

// arg reads the string argument of key.
func (p *parser) arg(key string) (string, error) {
	tok, ok := p.next()
	if !ok || tok.open || tok.close {
		return "", fmt.Errorf("search key %s: missing argument", key)
	}
	return tok.text, nil
}

func (p *parser) date(key string) (time.Time, error) {
	s, err := p.arg(key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("search key %s: invalid date %q", key, s)
	}
	return t, nil
}

func (p *parser) number(key string) (int64, error) {
	s, err := p.arg(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("search key %s: invalid number %q", key, s)
	}
	return n, nil
}

var flagKeys = map[string]imap.Flag{
	"ANSWERED": imap.FlagAnswered,
	"DELETED":  imap.FlagDeleted,
	"DRAFT":    imap.FlagDraft,
	"FLAGGED":  imap.FlagFlagged,
	"SEEN":     imap.FlagSeen,
}

var headerKeys = map[string]string{
	"BCC":     "Bcc",
	"CC":      "Cc",
	"FROM":    "From",
	"SUBJECT": "Subject",
	"TO":      "To",
}

// key parses one search-key.
func (p *parser) key() (*imap.SearchCriteria, error) {
	tok, ok := p.next()
	if !ok {
		return nil, fmt.Errorf("unexpected end of query")
	}
	if tok.close {
		return nil, fmt.Errorf("unexpected ) in query")
	}
	if tok.open {
		return p.group()
	}
	if tok.quoted {
		return nil, fmt.Errorf("unexpected string %q where a search key was expected", tok.text)
	}

	name := strings.ToUpper(tok.text)
	c := &imap.SearchCriteria{}

	if flag, ok := flagKeys[name]; ok {
		c.Flag = []imap.Flag{flag}
		return c, nil
	}
	if strings.HasPrefix(name, "UN") {
		if flag, ok := flagKeys[strings.TrimPrefix(name, "UN")]; ok {
			c.NotFlag = []imap.Flag{flag}
			return c, nil
		}
	}
	if header, ok := headerKeys[name]; ok {
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		c.Header = []imap.SearchCriteriaHeaderField{{Key: header, Value: v}}
		return c, nil
	}

	switch name {
	case "ALL":
	case "KEYWORD", "UNKEYWORD":
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		if name == "KEYWORD" {
			c.Flag = []imap.Flag{imap.Flag(v)}
		} else {
			c.NotFlag = []imap.Flag{imap.Flag(v)}
		}
	case "HEADER":
		field, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		c.Header = []imap.SearchCriteriaHeaderField{{Key: field, Value: v}}
	case "BODY":
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		c.Body = []string{v}
	case "TEXT":
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		c.Text = []string{v}
	case "SINCE", "BEFORE", "ON", "SENTSINCE", "SENTBEFORE", "SENTON":
		d, err := p.date(name)
		if err != nil {
			return nil, err
		}
		setDate(c, name, d)
	case "LARGER":
		n, err := p.number(name)
		if err != nil {
			return nil, err
		}
		c.Larger = n
	case "SMALLER":
		n, err := p.number(name)
		if err != nil {
			return nil, err
		}
		c.Smaller = n
	case "UID":
		v, err := p.arg(name)
		if err != nil {
			return nil, err
		}
		set, err := parseUIDSet(v)
		if err != nil {
			return nil, err
		}
		c.UID = []imap.UIDSet{set}
	case "NOT":
		sub, err := p.key()
		if err != nil {
			return nil, err
		}
		c.Not = []imap.SearchCriteria{*sub}
	case "OR":
		left, err := p.key()
		if err != nil {
			return nil, err
		}
		right, err := p.key()
		if err != nil {
			return nil, err
		}
		c.Or = [][2]imap.SearchCriteria{{*left, *right}}
	case "RECENT", "NEW", "OLD":
		return nil, fmt.Errorf("unsupported search key %q: \\Recent is not tracked", tok.text)
	default:
		if isSequenceSet(tok.text) {
			set, err := parseSeqSet(tok.text)
			if err != nil {
				return nil, err
			}
			c.SeqNum = []imap.SeqSet{set}
			return c, nil
		}
		return nil, fmt.Errorf("unsupported search key %q", tok.text)
	}

	return c, nil
}

// group parses keys up to the closing parenthesis.
func (p *parser) group() (*imap.SearchCriteria, error) {
	c := &imap.SearchCriteria{}
	empty := true
	for {
		tok, ok := p.peek()
		if !ok {
			return nil, fmt.Errorf("unbalanced ( in query")
		}
		if tok.close {
			p.next()
			break
		}
		key, err := p.key()
		if err != nil {
			return nil, err
		}
		and(c, key)
		empty = false
	}
	if empty {
		return nil, fmt.Errorf("empty () in query")
	}
	return c, nil
}

func setDate(c *imap.SearchCriteria, name string, d time.Time) {
	switch name {
	case "SINCE":
		c.Since = d
	case "BEFORE":
		c.Before = d
	case "ON":
		c.Since = d
		c.Before = d.AddDate(0, 0, 1)
	case "SENTSINCE":
		c.SentSince = d
	case "SENTBEFORE":
		c.SentBefore = d
	case "SENTON":
		c.SentSince = d
		c.SentBefore = d.AddDate(0, 0, 1)
	}
}

// and merges src into dst so that dst matches only what both matched.
func and(dst, src *imap.SearchCriteria) {
	dst.SeqNum = append(dst.SeqNum, src.SeqNum...)
	dst.UID = append(dst.UID, src.UID...)

	if !src.Since.IsZero() && (dst.Since.IsZero() || src.Since.After(dst.Since)) {
		dst.Since = src.Since
	}
	if !src.Before.IsZero() && (dst.Before.IsZero() || src.Before.Before(dst.Before)) {
		dst.Before = src.Before
	}
	if !src.SentSince.IsZero() && (dst.SentSince.IsZero() || src.SentSince.After(dst.SentSince)) {
		dst.SentSince = src.SentSince
	}
	if !src.SentBefore.IsZero() && (dst.SentBefore.IsZero() || src.SentBefore.Before(dst.SentBefore)) {
		dst.SentBefore = src.SentBefore
	}

	dst.Header = append(dst.Header, src.Header...)
	dst.Body = append(dst.Body, src.Body...)
	dst.Text = append(dst.Text, src.Text...)
	dst.Flag = append(dst.Flag, src.Flag...)
	dst.NotFlag = append(dst.NotFlag, src.NotFlag...)

	if src.Larger > dst.Larger {
		dst.Larger = src.Larger
	}
	if src.Smaller != 0 && (dst.Smaller == 0 || src.Smaller < dst.Smaller) {
		dst.Smaller = src.Smaller
	}

	dst.Not = append(dst.Not, src.Not...)
	dst.Or = append(dst.Or, src.Or...)
}

func isSequenceSet(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789*:,", r) {
			return false
		}
	}
	return true
}

// parseRanges splits a sequence-set into start/stop pairs. "*" is
// returned as 0.
func parseRanges(s string) ([][2]uint32, error) {
	var ranges [][2]uint32
	for _, item := range strings.Split(s, ",") {
		bounds := strings.SplitN(item, ":", 2)
		start, err := parseSeqNumber(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("invalid sequence set %q: %w", s, err)
		}
		stop := start
		if len(bounds) == 2 {
			if stop, err = parseSeqNumber(bounds[1]); err != nil {
				return nil, fmt.Errorf("invalid sequence set %q: %w", s, err)
			}
		}
		ranges = append(ranges, [2]uint32{start, stop})
	}
	return ranges, nil
}

func parseSeqNumber(s string) (uint32, error) {
	if s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return uint32(n), nil
}

func parseSeqSet(s string) (imap.SeqSet, error) {
	ranges, err := parseRanges(s)
	if err != nil {
		return nil, err
	}
	set := make(imap.SeqSet, 0, len(ranges))
	for _, r := range ranges {
		set = append(set, imap.SeqRange{Start: r[0], Stop: r[1]})
	}
	return set, nil
}

func parseUIDSet(s string) (imap.UIDSet, error) {
	ranges, err := parseRanges(s)
	if err != nil {
		return nil, err
	}
	set := make(imap.UIDSet, 0, len(ranges))
	for _, r := range ranges {
		set = append(set, imap.UIDRange{Start: imap.UID(r[0]), Stop: imap.UID(r[1])})
	}
	return set, nil
}

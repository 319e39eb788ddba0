package notmuch

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
)

var flagTags = map[imap.Flag]string{
	imap.FlagAnswered: "replied",
	imap.FlagFlagged:  "flagged",
	imap.FlagDraft:    "draft",
	imap.FlagDeleted:  "deleted",
}

const dateLayout = "2006-01-02"

// translate renders IMAP search criteria as a notmuch query. Sequence
// numbers, UIDs and size bounds have no notmuch equivalent.
func translate(c *imap.SearchCriteria) (string, error) {
	var terms []string

	if len(c.SeqNum) > 0 || len(c.UID) > 0 {
		return "", fmt.Errorf("sequence and uid sets are not supported by notmuch")
	}
	if c.Larger > 0 || c.Smaller > 0 {
		return "", fmt.Errorf("size criteria are not supported by notmuch")
	}

	if !c.Since.IsZero() || !c.Before.IsZero() {
		terms = append(terms, dateRange(c.Since, c.Before))
	}
	if !c.SentSince.IsZero() || !c.SentBefore.IsZero() {
		terms = append(terms, dateRange(c.SentSince, c.SentBefore))
	}

	for _, h := range c.Header {
		term, err := headerTerm(h)
		if err != nil {
			return "", err
		}
		terms = append(terms, term)
	}
	for _, s := range c.Body {
		terms = append(terms, "body:"+quote(s))
	}
	for _, s := range c.Text {
		terms = append(terms, quote(s))
	}

	for _, f := range c.Flag {
		terms = append(terms, flagTerm(f, true))
	}
	for _, f := range c.NotFlag {
		terms = append(terms, flagTerm(f, false))
	}

	for i := range c.Not {
		sub, err := translate(&c.Not[i])
		if err != nil {
			return "", err
		}
		terms = append(terms, "not ("+sub+")")
	}
	for i := range c.Or {
		left, err := translate(&c.Or[i][0])
		if err != nil {
			return "", err
		}
		right, err := translate(&c.Or[i][1])
		if err != nil {
			return "", err
		}
		terms = append(terms, "(("+left+") or ("+right+"))")
	}

	if len(terms) == 0 {
		return "*", nil
	}
	return strings.Join(terms, " and "), nil
}

// dateRange renders [since, before) as an inclusive notmuch date range.
func dateRange(since, before time.Time) string {
	from, to := "", ""
	if !since.IsZero() {
		from = since.Format(dateLayout)
	}
	if !before.IsZero() {
		to = before.AddDate(0, 0, -1).Format(dateLayout)
	}
	return "date:" + from + ".." + to
}

func headerTerm(h imap.SearchCriteriaHeaderField) (string, error) {
	var prefix string
	switch strings.ToLower(h.Key) {
	case "from":
		prefix = "from:"
	case "to", "cc", "bcc":
		prefix = "to:"
	case "subject":
		prefix = "subject:"
	case "message-id":
		prefix = "id:"
	default:
		return "", fmt.Errorf("header %s is not searchable with notmuch", h.Key)
	}
	if h.Value == "" {
		return "", fmt.Errorf("empty %s search is not supported by notmuch", h.Key)
	}
	return prefix + quote(h.Value), nil
}

func flagTerm(f imap.Flag, set bool) string {
	term := "tag:" + quote(string(f))
	if strings.EqualFold(string(f), string(imap.FlagSeen)) {
		// notmuch tracks the inverse.
		term = "tag:unread"
		set = !set
	}
	for flag, tag := range flagTags {
		if strings.EqualFold(string(f), string(flag)) {
			term = "tag:" + tag
		}
	}
	if set {
		return term
	}
	return "not " + term
}

// quote wraps s in double quotes, doubling any it contains.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

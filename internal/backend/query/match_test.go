package query

import (
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate() *Candidate {
	return &Candidate{
		SeqNum:       3,
		UID:          42,
		Flags:        []imap.Flag{imap.FlagSeen},
		InternalDate: time.Date(2024, 2, 5, 23, 30, 0, 0, time.UTC),
		SentDate:     time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC),
		Size:         1200,
		Header: map[string][]string{
			"from":    {"Alice <alice@example.org>"},
			"to":      {"bob@example.org"},
			"subject": {"Quarterly report"},
		},
		Body: "Numbers attached.",
	}
}

func mustMatch(t *testing.T, q string) bool {
	t.Helper()
	c, err := Parse(q)
	require.NoError(t, err, q)
	return Match(c, candidate())
}

func TestMatch(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"ALL", true},
		{"SEEN", true},
		{"UNSEEN", false},
		{"FLAGGED", false},
		{"NOT FLAGGED", true},
		{"FROM alice", true},
		{"FROM ALICE", true},
		{"FROM carol", false},
		{"SUBJECT quarterly", true},
		{"HEADER Subject \"\"", true},
		{"HEADER X-Missing \"\"", false},
		{"BODY numbers", true},
		{"TEXT report", true},
		{"TEXT missing", false},
		{"SINCE 5-Feb-2024", true},
		{"SINCE 6-Feb-2024", false},
		{"BEFORE 5-Feb-2024", false},
		{"ON 5-Feb-2024", true},
		{"SENTON 5-Feb-2024", true},
		{"LARGER 1000", true},
		{"SMALLER 1000", false},
		{"UID 40:45", true},
		{"UID 1,2", false},
		{"1:*", true},
		{"4:*", false},
		{"OR FLAGGED FROM alice", true},
		{"OR FLAGGED FROM carol", false},
		{"(SEEN FROM alice) NOT TO carol", true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, mustMatch(t, tt.query))
		})
	}
}

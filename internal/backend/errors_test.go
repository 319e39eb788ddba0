package backend

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHelpersSeeThroughWrapping(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"config", &ConfigError{Capability: CapListEmails, Kind: KindImap, Reason: "missing section"}, IsConfigError},
		{"unavailable", &CapabilityUnavailableError{Capability: CapSendMessage}, IsCapabilityUnavailable},
		{"transport", &TransportError{Op: "dial", Err: io.EOF}, IsTransportError},
		{"auth", &AuthError{Login: "me", Err: errors.New("NO")}, IsAuthError},
		{"protocol", &ProtocolError{Op: "select", Err: errors.New("BAD")}, IsProtocolError},
		{"parse", &ParseError{UID: "1", Err: errors.New("bad header")}, IsParseError},
		{"not found", &EmailNotFoundError{UID: "99"}, IsNotFound},
		{"empty part", &EmptyPartError{UID: "2", MIME: "text/plain"}, IsEmptyPart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("running command: %w", tt.err)
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestNotFoundAndEmptyPartAreDistinct(t *testing.T) {
	notFound := &EmailNotFoundError{UID: "99"}
	emptyPart := &EmptyPartError{UID: "2", MIME: "text/plain"}

	assert.False(t, IsEmptyPart(notFound))
	assert.False(t, IsNotFound(emptyPart))
	assert.Equal(t, "no email found for uid 99", notFound.Error())
	assert.Equal(t, "no text/plain content found for uid 2", emptyPart.Error())
}

func TestTransportErrorUnwraps(t *testing.T) {
	err := &TransportError{Op: "fetch", Addr: "imap.example.org:993", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "imap.example.org:993")
}

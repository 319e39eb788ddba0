package smtp_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/postbox/internal/backend"
	smtpbackend "github.com/nhle/postbox/internal/backend/smtp"
	"github.com/nhle/postbox/internal/testutil"
)

const outgoing = "From: Alice <alice@example.org>\r\n" +
	"To: Bob <bob@example.org>\r\n" +
	"Cc: carol@example.org\r\n" +
	"Bcc: dave@example.org, BOB@example.org\r\n" +
	"Subject: Hello\r\n" +
	"\r\n" +
	"Hi all\r\n"

func newSender(t *testing.T, srv *testutil.SMTPServer, password string) *smtpbackend.Sender {
	t.Helper()
	s, err := smtpbackend.New(srv.Config(password), smtpbackend.WithTLSConfig(srv.TLS.Client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSendMessage(t *testing.T) {
	for _, startTLS := range []bool{false, true} {
		name := "implicit tls"
		if startTLS {
			name = "starttls"
		}
		t.Run(name, func(t *testing.T) {
			srv := testutil.NewSMTPServer(t, startTLS)
			s := newSender(t, srv, testutil.SMTPPassword)

			require.NoError(t, s.SendMessage(context.Background(), []byte(outgoing)))

			msgs := srv.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, "alice@example.org", msgs[0].From)
			assert.Equal(t, []string{"bob@example.org", "carol@example.org", "dave@example.org"}, msgs[0].To)

			data := string(msgs[0].Data)
			assert.Contains(t, data, "Subject: Hello")
			assert.Contains(t, data, "Hi all")
			assert.NotContains(t, strings.ToLower(data), "bcc:")
		})
	}
}

func TestSendMessageWrongPassword(t *testing.T) {
	srv := testutil.NewSMTPServer(t, false)
	s := newSender(t, srv, "wrong")

	err := s.SendMessage(context.Background(), []byte(outgoing))
	assert.True(t, backend.IsAuthError(err), "got %v", err)
	assert.Empty(t, srv.Messages())
}

func TestSendMessageRejectedRecipient(t *testing.T) {
	srv := testutil.NewSMTPServer(t, false)
	s := newSender(t, srv, testutil.SMTPPassword)

	raw := strings.Replace(outgoing, "carol@example.org", testutil.RejectedRecipient, 1)
	err := s.SendMessage(context.Background(), []byte(raw))
	assert.True(t, backend.IsProtocolError(err), "got %v", err)
	assert.Contains(t, err.Error(), "No such user")
	assert.Empty(t, srv.Messages())
}

func TestSendMessageWithoutAddresses(t *testing.T) {
	srv := testutil.NewSMTPServer(t, false)
	s := newSender(t, srv, testutil.SMTPPassword)

	err := s.SendMessage(context.Background(), []byte("Subject: nobody\r\n\r\nx\r\n"))
	require.Error(t, err)
	assert.False(t, backend.IsTransportError(err))
}

func TestSendMessageDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	s, err := smtpbackend.New(&backend.SmtpConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second})
	require.NoError(t, err)

	err = s.SendMessage(context.Background(), []byte(outgoing))
	assert.True(t, backend.IsTransportError(err), "got %v", err)
}

func TestSendMessageCanceled(t *testing.T) {
	srv := testutil.NewSMTPServer(t, false)
	s := newSender(t, srv, testutil.SMTPPassword)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendMessage(ctx, []byte(outgoing))
	assert.True(t, backend.IsTransportError(err), "got %v", err)
}

func TestNewRequiresHost(t *testing.T) {
	_, err := smtpbackend.New(&backend.SmtpConfig{})
	assert.Error(t, err)
}

package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/sourcegraph/conc/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/testutil"
)

func connect(t *testing.T, srv *testutil.IMAPServer, opts ...Option) *Connector {
	t.Helper()

	opts = append([]Option{WithTLSConfig(srv.TLS.Client)}, opts...)
	c, err := New(context.Background(), srv.Config(testutil.IMAPPassword), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// inbox returns a server whose INBOX holds n plain-text messages.
func inbox(t *testing.T, n int) *testutil.IMAPServer {
	t.Helper()

	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	for i := 1; i <= n; i++ {
		srv.Append(t, "INBOX", testutil.PlainMessage(fmt.Sprintf("Message %d", i), "hello"))
	}
	return srv
}

func TestListEmailsReturnsMatchesInServerOrder(t *testing.T) {
	c := connect(t, inbox(t, 3))

	emails, err := c.ListEmails(context.Background(), "INBOX", "ALL")
	require.NoError(t, err)
	require.Len(t, emails, 3)

	for i, email := range emails {
		assert.Equal(t, fmt.Sprint(i+1), email.UID)
		assert.Equal(t, fmt.Sprintf("Message %d", i+1), email.Envelope.Subject)
		require.Len(t, email.Envelope.From, 1)
		assert.Equal(t, "alice@example.org", email.Envelope.From[0].Addr)
		assert.Equal(t, "Alice", email.Envelope.Sender())
		assert.False(t, email.InternalDate.IsZero())
	}
}

func TestListEmailsNoMatchIsEmpty(t *testing.T) {
	c := connect(t, inbox(t, 3))

	emails, err := c.ListEmails(context.Background(), "INBOX", "SEEN")
	require.NoError(t, err)
	assert.NotNil(t, emails)
	assert.Empty(t, emails)
}

func TestListEmailsCapsSummaries(t *testing.T) {
	c := connect(t, inbox(t, backend.MaxSummaries+5))

	emails, err := c.ListEmails(context.Background(), "INBOX", "ALL")
	require.NoError(t, err)
	require.Len(t, emails, backend.MaxSummaries)
	assert.Equal(t, "1", emails[0].UID)
	assert.Equal(t, fmt.Sprint(backend.MaxSummaries), emails[len(emails)-1].UID)
}

func TestListEmailsWithQuery(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	srv.Append(t, "INBOX", testutil.PlainMessage("Weekly sync", "agenda"))
	srv.Append(t, "INBOX", testutil.PlainMessage("Invoice", "due"), imap.FlagSeen)
	srv.Append(t, "INBOX", testutil.PlainMessage("Weekly report", "numbers"))

	c := connect(t, srv)

	emails, err := c.ListEmails(context.Background(), "INBOX", `UNSEEN SUBJECT "weekly"`)
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "1", emails[0].UID)
	assert.Equal(t, "3", emails[1].UID)

	emails, err = c.ListEmails(context.Background(), "INBOX", "SEEN")
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "Invoice", emails[0].Envelope.Subject)
}

func TestListEmailsRejectsBadQuery(t *testing.T) {
	c := connect(t, inbox(t, 1))

	_, err := c.ListEmails(context.Background(), "INBOX", "RECENT")
	assert.True(t, backend.IsProtocolError(err), "got %v", err)

	// The session is untouched and still usable.
	emails, err := c.ListEmails(context.Background(), "INBOX", "ALL")
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}

func TestReadEmailBodyNotFound(t *testing.T) {
	c := connect(t, inbox(t, 3))

	_, err := c.ReadEmailBody(context.Background(), "INBOX", "99", "text/plain")
	var notFound *backend.EmailNotFoundError
	require.True(t, errors.As(err, &notFound), "got %v", err)
	assert.Equal(t, "99", notFound.UID)
	assert.False(t, backend.IsEmptyPart(err))
}

func TestReadEmailBodyEmptyPart(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	srv.Append(t, "INBOX", testutil.PlainMessage("Plain", "one"))
	srv.Append(t, "INBOX", testutil.HTMLMessage("Html only", "<p>two</p>"))

	c := connect(t, srv)

	_, err := c.ReadEmailBody(context.Background(), "INBOX", "2", "text/plain")
	var empty *backend.EmptyPartError
	require.True(t, errors.As(err, &empty), "got %v", err)
	assert.Equal(t, "2", empty.UID)
	assert.Equal(t, "text/plain", empty.MIME)
	assert.False(t, backend.IsNotFound(err))

	body, err := c.ReadEmailBody(context.Background(), "INBOX", "2", "text/html")
	require.NoError(t, err)
	assert.Contains(t, body, "<p>two</p>")
}

func TestReadEmailBodyExtractsRequestedType(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	srv.Append(t, "INBOX", testutil.AlternativeMessage("Both", "plain text", "<b>rich</b>"))

	c := connect(t, srv)

	body, err := c.ReadEmailBody(context.Background(), "INBOX", "1", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "plain text", strings.TrimSpace(body))

	// BODY[] is not a peek, so the server marks the message read.
	emails, err := c.ListEmails(context.Background(), "INBOX", "SEEN")
	require.NoError(t, err)
	assert.Len(t, emails, 1)
}

func TestReadEmailBodyMalformedMultipart(t *testing.T) {
	raw := "Subject: Broken\r\n" +
		"Content-Type: multipart/mixed; boundary=\"x\"\r\n\r\n" +
		"--x\r\nContent-Type: text/plain\r\n" +
		"no blank line and no closing boundary"

	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	srv.Append(t, "INBOX", testutil.PlainMessage("Fine", "ok"))
	uid := srv.Append(t, "INBOX", []byte(raw))

	c := connect(t, srv)

	_, err := c.ReadEmailBody(context.Background(), "INBOX", uid, "text/plain")
	var parseErr *backend.ParseError
	require.True(t, errors.As(err, &parseErr), "got %v", err)
	assert.Equal(t, uid, parseErr.UID)
	assert.False(t, backend.IsEmptyPart(err))

	// The session survives a bad message.
	body, err := c.ReadEmailBody(context.Background(), "INBOX", "1", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(body))
}

func TestReadEmailBodyRejectsInvalidUID(t *testing.T) {
	c := connect(t, inbox(t, 1))

	for _, uid := range []string{"", "abc", "0", "-1"} {
		_, err := c.ReadEmailBody(context.Background(), "INBOX", uid, "text/plain")
		assert.True(t, backend.IsProtocolError(err), "uid %q: got %v", uid, err)
	}
}

func TestListMailboxes(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		c := connect(t, testutil.NewIMAPServer(t))

		mailboxes, err := c.ListMailboxes(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, mailboxes)
		assert.Empty(t, mailboxes)
	})

	t.Run("several", func(t *testing.T) {
		srv := testutil.NewIMAPServer(t)
		srv.CreateMailbox(t, "INBOX")
		srv.CreateMailbox(t, "Archive")
		srv.CreateMailbox(t, "Archive/2024")

		c := connect(t, srv)

		mailboxes, err := c.ListMailboxes(context.Background())
		require.NoError(t, err)

		names := make([]string, 0, len(mailboxes))
		for _, m := range mailboxes {
			names = append(names, m.Name)
		}
		assert.ElementsMatch(t, []string{"INBOX", "Archive", "Archive/2024"}, names)

		for _, m := range mailboxes {
			if m.Name == "Archive/2024" {
				assert.Equal(t, []string{"Archive", "2024"}, m.Parts())
			}
		}
	})
}

func TestFailedSelectFallsBackToAuthenticated(t *testing.T) {
	c := connect(t, inbox(t, 2))
	ctx := context.Background()

	_, err := c.ListEmails(ctx, "INBOX", "ALL")
	require.NoError(t, err)
	assert.Equal(t, StateSelected, c.peekState())

	_, err = c.ListEmails(ctx, "Missing", "ALL")
	assert.True(t, backend.IsProtocolError(err), "got %v", err)
	assert.Equal(t, StateAuthenticated, c.peekState())

	emails, err := c.ListEmails(ctx, "INBOX", "ALL")
	require.NoError(t, err)
	assert.Len(t, emails, 2)
	assert.Equal(t, StateSelected, c.peekState())
}

func TestAddMessageResolvesFolderAlias(t *testing.T) {
	srv := testutil.NewIMAPServer(t)
	srv.CreateMailbox(t, "INBOX")
	srv.CreateMailbox(t, "Sent Items")

	cfg := &backend.AccountConfig{FolderAliases: map[string]string{"sent": "Sent Items"}}
	c := connect(t, srv, WithSettings(cfg.Settings()))
	ctx := context.Background()

	require.NoError(t, c.AddMessage(ctx, "sent", testutil.PlainMessage("Outgoing", "bye")))

	emails, err := c.ListEmails(ctx, "Sent", "SEEN")
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "Outgoing", emails[0].Envelope.Subject)

	err = c.AddMessage(ctx, "Nowhere", testutil.PlainMessage("Lost", "x"))
	assert.True(t, backend.IsProtocolError(err), "got %v", err)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	c := connect(t, inbox(t, 3))

	p := pool.New().WithErrors()
	for i := 0; i < 8; i++ {
		p.Go(func() error {
			emails, err := c.ListEmails(context.Background(), "INBOX", "ALL")
			if err != nil {
				return err
			}
			if len(emails) != 3 {
				return fmt.Errorf("got %d emails", len(emails))
			}
			_, err = c.ListMailboxes(context.Background())
			return err
		})
	}
	require.NoError(t, p.Wait())
}

func TestNewWrongPassword(t *testing.T) {
	srv := inbox(t, 0)

	_, err := New(context.Background(), srv.Config("wrong"), WithTLSConfig(srv.TLS.Client))
	assert.True(t, backend.IsAuthError(err), "got %v", err)
	assert.False(t, backend.IsTransportError(err))
}

func TestNewDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = New(context.Background(), &backend.ImapConfig{
		Host:    "127.0.0.1",
		Port:    addr.Port,
		Login:   "alice",
		Timeout: time.Second,
	})
	assert.True(t, backend.IsTransportError(err), "got %v", err)
}

func TestNewUntrustedCertificate(t *testing.T) {
	srv := inbox(t, 0)

	_, err := New(context.Background(), srv.Config(testutil.IMAPPassword))
	assert.True(t, backend.IsTransportError(err), "got %v", err)
}

func TestCancellationDiscardsSession(t *testing.T) {
	pair := testutil.NewTLSPair(t)
	addr := stallingServer(t, pair)

	c, err := New(context.Background(), &backend.ImapConfig{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Login:    "alice",
		Password: "secret",
	}, WithTLSConfig(pair.Client))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = c.ListMailboxes(ctx)
	assert.True(t, backend.IsTransportError(err), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateClosed, c.peekState())

	_, err = c.ListMailboxes(context.Background())
	assert.True(t, backend.IsTransportError(err), "got %v", err)
	assert.ErrorIs(t, err, errSessionClosed)
}

func TestTimeoutDiscardsSession(t *testing.T) {
	pair := testutil.NewTLSPair(t)
	addr := stallingServer(t, pair)

	c, err := New(context.Background(), &backend.ImapConfig{
		Host:     "127.0.0.1",
		Port:     addr.Port,
		Login:    "alice",
		Password: "secret",
		Timeout:  200 * time.Millisecond,
	}, WithTLSConfig(pair.Client))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.ListEmails(context.Background(), "INBOX", "ALL")
	assert.True(t, backend.IsTransportError(err), "got %v", err)
	assert.Equal(t, StateClosed, c.peekState())
}

func TestCanceledContextBeforeCall(t *testing.T) {
	c := connect(t, inbox(t, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListMailboxes(ctx)
	assert.True(t, backend.IsTransportError(err), "got %v", err)

	// The session was never used, so it survives.
	_, err = c.ListMailboxes(context.Background())
	assert.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	c := connect(t, inbox(t, 1))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.ListMailboxes(context.Background())
	assert.True(t, backend.IsTransportError(err), "got %v", err)
}

func TestStateTransitions(t *testing.T) {
	s := &session{state: StateDisconnected}
	require.Error(t, s.transition(StateSelected))
	require.NoError(t, s.transition(StateConnected))
	require.Error(t, s.transition(StateSelected))
	require.NoError(t, s.transition(StateAuthenticated))
	require.NoError(t, s.transition(StateSelected))
	require.NoError(t, s.transition(StateSelected))
	require.NoError(t, s.transition(StateAuthenticated))
	require.NoError(t, s.transition(StateClosed))
	require.Error(t, s.transition(StateConnected))
	assert.Equal(t, "closed", s.state.String())
}

func (c *Connector) peekState() State {
	s := <-c.slot
	defer func() { c.slot <- s }()
	return s.state
}

// stallingServer greets, accepts any LOGIN and never answers anything
// else.
func stallingServer(t *testing.T, pair *testutil.TLSPair) *net.TCPAddr {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", pair.Server)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				fmt.Fprint(conn, "* OK [CAPABILITY IMAP4rev1] ready\r\n")
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					fields := strings.Fields(line)
					if len(fields) >= 2 && strings.EqualFold(fields[1], "LOGIN") {
						fmt.Fprintf(conn, "%s OK LOGIN completed\r\n", fields[0])
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr)
}

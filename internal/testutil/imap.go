package testutil

import (
	"bytes"
	"crypto/tls"
	"net"
	"strconv"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"

	"github.com/nhle/postbox/internal/backend"
)

const (
	IMAPUser     = "alice"
	IMAPPassword = "secret"
)

// IMAPServer is an in-memory IMAP server listening on 127.0.0.1 over
// TLS, with a single user and no mailboxes.
type IMAPServer struct {
	User *imapmemserver.User
	TLS  *TLSPair
	Addr *net.TCPAddr
}

// NewIMAPServer starts a server that stops when the test completes.
func NewIMAPServer(t *testing.T) *IMAPServer {
	t.Helper()

	pair := NewTLSPair(t)

	mem := imapmemserver.New()
	user := imapmemserver.NewUser(IMAPUser, IMAPPassword)
	mem.AddUser(user)

	server := imapserver.New(&imapserver.Options{
		NewSession: func(*imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return mem.NewSession(), nil, nil
		},
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
			imap.CapIMAP4rev2: {},
		},
		InsecureAuth: true,
	})

	ln, err := tls.Listen("tcp", "127.0.0.1:0", pair.Server)
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return &IMAPServer{
		User: user,
		TLS:  pair,
		Addr: ln.Addr().(*net.TCPAddr),
	}
}

// Config returns connector settings pointing at the server.
func (s *IMAPServer) Config(password string) *backend.ImapConfig {
	return &backend.ImapConfig{
		Host:     s.Addr.IP.String(),
		Port:     s.Addr.Port,
		Login:    IMAPUser,
		Password: password,
	}
}

// CreateMailbox adds an empty mailbox.
func (s *IMAPServer) CreateMailbox(t *testing.T, name string) {
	t.Helper()
	if err := s.User.Create(name, nil); err != nil {
		t.Fatalf("creating mailbox %s: %v", name, err)
	}
}

// Append stores raw in mailbox and returns its UID as a string.
func (s *IMAPServer) Append(t *testing.T, mailbox string, raw []byte, flags ...imap.Flag) string {
	t.Helper()
	data, err := s.User.Append(mailbox, bytes.NewReader(raw), &imap.AppendOptions{Flags: flags})
	if err != nil {
		t.Fatalf("appending to %s: %v", mailbox, err)
	}
	return strconv.FormatUint(uint64(data.UID), 10)
}

package testutil

import (
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/nhle/postbox/internal/backend"
)

const (
	SMTPUser     = "alice"
	SMTPPassword = "secret"

	// RejectedRecipient is refused by the server with a 550.
	RejectedRecipient = "nobody@example.org"
)

// SMTPMessage is one accepted submission.
type SMTPMessage struct {
	From string
	To   []string
	Data []byte
}

// SMTPServer is a go-smtp server on 127.0.0.1 that requires PLAIN auth
// and records what it accepts.
type SMTPServer struct {
	TLS      *TLSPair
	Addr     *net.TCPAddr
	StartTLS bool

	mu       sync.Mutex
	messages []SMTPMessage
}

// NewSMTPServer starts a server speaking implicit TLS, or plain text
// with STARTTLS when startTLS is set.
func NewSMTPServer(t *testing.T, startTLS bool) *SMTPServer {
	t.Helper()

	srv := &SMTPServer{TLS: NewTLSPair(t), StartTLS: startTLS}

	s := smtp.NewServer(&smtpBackend{srv: srv})
	s.Domain = "localhost"
	s.AllowInsecureAuth = true
	s.TLSConfig = srv.TLS.Server

	var (
		ln  net.Listener
		err error
	)
	if startTLS {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	} else {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", srv.TLS.Server)
	}
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() { _ = s.Close() })

	srv.Addr = ln.Addr().(*net.TCPAddr)
	return srv
}

// Config returns sender settings pointing at the server.
func (s *SMTPServer) Config(password string) *backend.SmtpConfig {
	return &backend.SmtpConfig{
		Host:     s.Addr.IP.String(),
		Port:     s.Addr.Port,
		Login:    SMTPUser,
		Password: password,
		StartTLS: s.StartTLS,
	}
}

// Messages returns the submissions accepted so far.
func (s *SMTPServer) Messages() []SMTPMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SMTPMessage(nil), s.messages...)
}

type smtpBackend struct {
	srv *SMTPServer
}

func (b *smtpBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &smtpSession{srv: b.srv}, nil
}

type smtpSession struct {
	srv    *SMTPServer
	authed bool
	from   string
	to     []string
}

func (s *smtpSession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *smtpSession) Auth(string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != SMTPUser || password != SMTPPassword {
			return smtp.ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	if !s.authed {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if strings.EqualFold(to, RejectedRecipient) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.srv.mu.Lock()
	s.srv.messages = append(s.srv.messages, SMTPMessage{From: s.from, To: s.to, Data: data})
	s.srv.mu.Unlock()
	return nil
}

func (s *smtpSession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *smtpSession) Logout() error { return nil }

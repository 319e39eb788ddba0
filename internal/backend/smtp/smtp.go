// Package smtp is the SMTP sending backend. Each message is submitted
// over its own connection.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/message"
)

const defaultTimeout = 30 * time.Second

// Sender submits messages to an SMTP server.
type Sender struct {
	addr      string
	login     string
	password  string
	startTLS  bool
	timeout   time.Duration
	tlsConfig *tls.Config
	logger    *zap.Logger
}

var _ backend.MessageSender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the sender's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithTLSConfig overrides the TLS client configuration.
func WithTLSConfig(c *tls.Config) Option {
	return func(s *Sender) { s.tlsConfig = c.Clone() }
}

// New creates a sender for cfg. It does not connect.
func New(cfg *backend.SmtpConfig, opts ...Option) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}

	s := &Sender{
		addr:      cfg.Addr(),
		login:     cfg.Login,
		password:  cfg.Password,
		startTLS:  cfg.StartTLS,
		timeout:   cfg.Timeout,
		tlsConfig: &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify},
		logger:    zap.NewNop(),
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tlsConfig.ServerName == "" {
		s.tlsConfig.ServerName = cfg.Host
	}
	s.logger = s.logger.With(zap.String("kind", backend.KindSmtp.String()), zap.String("addr", s.addr))
	return s, nil
}

// Close is a no-op; connections do not outlive a send.
func (s *Sender) Close() error { return nil }

// SendMessage submits raw. The envelope comes from its headers and the
// Bcc header is stripped before submission.
func (s *Sender) SendMessage(ctx context.Context, raw []byte) error {
	sub, err := message.PrepareSubmission(raw)
	if err != nil {
		return fmt.Errorf("preparing message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// Abandon the exchange when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	if s.login != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.login, s.password)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &backend.TransportError{Op: "auth", Addr: s.addr, Err: ctxErr}
			}
			var smtpErr *smtp.SMTPError
			if errors.As(err, &smtpErr) {
				return &backend.AuthError{Login: s.login, Err: err}
			}
			return &backend.TransportError{Op: "auth", Addr: s.addr, Err: err}
		}
	}

	if err := c.SendMail(sub.From, sub.To, bytes.NewReader(sub.Data)); err != nil {
		return s.classify(ctx, "send", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("quit failed", zap.Error(err))
	}

	s.logger.Debug("sent message", zap.String("from", sub.From), zap.Int("recipients", len(sub.To)))
	return nil
}

func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	netDialer := &net.Dialer{Timeout: s.timeout}

	if !s.startTLS {
		dialer := &tls.Dialer{NetDialer: netDialer, Config: s.tlsConfig}
		conn, err := dialer.DialContext(ctx, "tcp", s.addr)
		if err != nil {
			return nil, &backend.TransportError{Op: "dial", Addr: s.addr, Err: err}
		}
		c := smtp.NewClient(conn)
		c.CommandTimeout = s.timeout
		c.SubmissionTimeout = s.timeout
		return c, nil
	}

	conn, err := netDialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, &backend.TransportError{Op: "dial", Addr: s.addr, Err: err}
	}
	c, err := smtp.NewClientStartTLS(conn, s.tlsConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &backend.TransportError{Op: "starttls", Addr: s.addr, Err: err}
	}
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	return c, nil
}

// classify keeps server replies as protocol errors and everything else,
// cancellation included, as transport errors.
func (s *Sender) classify(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &backend.TransportError{Op: op, Addr: s.addr, Err: ctxErr}
	}
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &backend.ProtocolError{Op: op, Err: err}
	}
	return &backend.TransportError{Op: op, Addr: s.addr, Err: err}
}

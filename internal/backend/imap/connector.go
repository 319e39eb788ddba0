// Package imap is the IMAP retrieval backend. A Connector owns one
// authenticated TLS session and runs every operation on it in turn.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/backend/query"
	"github.com/nhle/postbox/internal/message"
	"github.com/nhle/postbox/internal/model"
)

const (
	defaultTimeout = 30 * time.Second
	logoutTimeout  = 5 * time.Second
)

// Connector implements the retrieval capabilities over IMAP.
type Connector struct {
	addr     string
	login    string
	timeout  time.Duration
	settings *backend.AccountSettings
	logger   *zap.Logger

	// slot holds the session while no operation is using it.
	slot chan *session
}

var (
	_ backend.MailboxLister = (*Connector)(nil)
	_ backend.EmailLister   = (*Connector)(nil)
	_ backend.BodyReader    = (*Connector)(nil)
	_ backend.MessageAdder  = (*Connector)(nil)
)

// Option configures a Connector.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	settings  *backend.AccountSettings
	tlsConfig *tls.Config
}

// WithLogger sets the connector's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSettings sets the account whose folder aliases are applied to
// mailbox arguments.
func WithSettings(s *backend.AccountSettings) Option {
	return func(o *options) { o.settings = s }
}

// WithTLSConfig overrides the TLS client configuration.
func WithTLSConfig(c *tls.Config) Option {
	return func(o *options) { o.tlsConfig = c }
}

// New dials the server over TLS, waits for the greeting and logs in.
func New(ctx context.Context, cfg *backend.ImapConfig, opts ...Option) (*Connector, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Connector{
		addr:     cfg.Addr(),
		login:    cfg.Login,
		timeout:  timeout,
		settings: o.settings,
		logger:   o.logger.With(zap.String("kind", backend.KindImap.String()), zap.String("addr", cfg.Addr())),
		slot:     make(chan *session, 1),
	}

	tlsConfig := &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if o.tlsConfig != nil {
		tlsConfig = o.tlsConfig.Clone()
		if tlsConfig.ServerName == "" {
			tlsConfig.ServerName = cfg.Host
		}
	}

	s, err := c.connect(ctx, tlsConfig, cfg.Password)
	if err != nil {
		return nil, err
	}
	c.slot <- s

	c.logger.Debug("imap session ready", zap.String("login", cfg.Login))
	return c, nil
}

func (c *Connector) connect(ctx context.Context, tlsConfig *tls.Config, password string) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	s := &session{state: StateDisconnected}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: c.timeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, &backend.TransportError{Op: "dial", Addr: c.addr, Err: err}
	}

	s.client = imapclient.New(conn, &imapclient.Options{})
	if err := s.transition(StateConnected); err != nil {
		s.discard()
		return nil, err
	}

	if _, err := await(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.client.WaitGreeting()
	}); err != nil {
		s.discard()
		return nil, &backend.TransportError{Op: "greeting", Addr: c.addr, Err: err}
	}

	loginCmd := s.client.Login(c.login, password)
	if _, err := await(ctx, s, func() (struct{}, error) {
		return struct{}{}, loginCmd.Wait()
	}); err != nil {
		var imapErr *imap.Error
		authFailed := errors.As(err, &imapErr) && s.state != StateClosed
		s.discard()
		if authFailed {
			return nil, &backend.AuthError{Login: c.login, Err: err}
		}
		return nil, &backend.TransportError{Op: "login", Addr: c.addr, Err: err}
	}

	if err := s.transition(StateAuthenticated); err != nil {
		s.discard()
		return nil, err
	}
	return s, nil
}

// acquire takes the session out of the slot, waiting for any operation
// in flight. The returned ctx carries the operation timeout; the caller
// must call release with the session and cancel the context.
func (c *Connector) acquire(ctx context.Context, op string) (*session, context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, nil, &backend.TransportError{Op: op, Addr: c.addr, Err: err}
	}

	var s *session
	select {
	case s = <-c.slot:
	case <-ctx.Done():
		return nil, nil, nil, &backend.TransportError{Op: op, Addr: c.addr, Err: ctx.Err()}
	}

	if !s.authenticated() {
		c.slot <- s
		return nil, nil, nil, &backend.TransportError{Op: op, Addr: c.addr, Err: errSessionClosed}
	}

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return s, opCtx, cancel, nil
}

func (c *Connector) release(s *session, cancel context.CancelFunc) {
	cancel()
	c.slot <- s
}

// resolve maps folder aliases such as "sent" to mailbox names.
func (c *Connector) resolve(mailbox string) string {
	return c.settings.Folder(mailbox)
}

// selectMailbox re-targets the session at mailbox. A rejected SELECT
// leaves the session authenticated with no mailbox selected.
func (c *Connector) selectMailbox(ctx context.Context, s *session, mailbox string) error {
	cmd := s.client.Select(mailbox, nil)
	_, err := await(ctx, s, cmd.Wait)
	if err != nil {
		err = classify(s, "select "+mailbox, c.addr, err)
		if backend.IsProtocolError(err) && s.state == StateSelected {
			_ = s.transition(StateAuthenticated)
			s.mailbox = ""
		}
		return err
	}

	if err := s.transition(StateSelected); err != nil {
		return err
	}
	s.mailbox = mailbox
	return nil
}

// ListMailboxes lists every mailbox under the root namespace in server
// order.
func (c *Connector) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	s, ctx, cancel, err := c.acquire(ctx, "list")
	if err != nil {
		return nil, err
	}
	defer c.release(s, cancel)

	cmd := s.client.List("", "*", nil)
	list, err := await(ctx, s, cmd.Collect)
	if err != nil {
		return nil, classify(s, "list", c.addr, err)
	}

	mailboxes := make([]model.Mailbox, 0, len(list))
	for _, data := range list {
		mailboxes = append(mailboxes, mailboxFromList(data))
	}

	c.logger.Debug("listed mailboxes", zap.Int("count", len(mailboxes)))
	return mailboxes, nil
}

// ListEmails searches mailbox with q and returns summaries for the
// first backend.MaxSummaries matches in search order.
func (c *Connector) ListEmails(ctx context.Context, mailbox, q string) ([]model.Email, error) {
	criteria, err := query.Parse(q)
	if err != nil {
		return nil, &backend.ProtocolError{Op: "search", Err: err}
	}

	mailbox = c.resolve(mailbox)

	s, ctx, cancel, err := c.acquire(ctx, "search")
	if err != nil {
		return nil, err
	}
	defer c.release(s, cancel)

	if err := c.selectMailbox(ctx, s, mailbox); err != nil {
		return nil, err
	}

	searchCmd := s.client.UIDSearch(criteria, nil)
	data, err := await(ctx, s, searchCmd.Wait)
	if err != nil {
		return nil, classify(s, "search", c.addr, err)
	}

	uids := data.AllUIDs()
	if len(uids) == 0 {
		return []model.Email{}, nil
	}
	if len(uids) > backend.MaxSummaries {
		uids = uids[:backend.MaxSummaries]
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
	})
	bufs, err := await(ctx, s, fetchCmd.Collect)
	if err != nil {
		return nil, classify(s, "fetch", c.addr, err)
	}

	byUID := make(map[imap.UID]*imapclient.FetchMessageBuffer, len(bufs))
	for _, buf := range bufs {
		byUID[buf.UID] = buf
	}

	emails := make([]model.Email, 0, len(uids))
	for _, uid := range uids {
		buf, ok := byUID[uid]
		if !ok {
			// Expunged between SEARCH and FETCH.
			continue
		}
		emails = append(emails, emailFromBuffer(buf))
	}

	c.logger.Debug("listed emails",
		zap.String("mailbox", mailbox),
		zap.Int("matched", len(data.AllUIDs())),
		zap.Int("count", len(emails)),
	)
	return emails, nil
}

// ReadEmailBody fetches BODY[] of uid and returns its parts of the
// given MIME type joined together.
func (c *Connector) ReadEmailBody(ctx context.Context, mailbox, uid, mime string) (string, error) {
	n, err := strconv.ParseUint(uid, 10, 32)
	if err != nil || n == 0 {
		return "", &backend.ProtocolError{Op: "fetch", Err: fmt.Errorf("invalid uid %q", uid)}
	}

	mailbox = c.resolve(mailbox)

	s, ctx, cancel, err := c.acquire(ctx, "fetch")
	if err != nil {
		return "", err
	}
	defer c.release(s, cancel)

	if err := c.selectMailbox(ctx, s, mailbox); err != nil {
		return "", err
	}

	section := &imap.FetchItemBodySection{}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(n)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	bufs, err := await(ctx, s, fetchCmd.Collect)
	if err != nil {
		return "", classify(s, "fetch", c.addr, err)
	}

	var found *imapclient.FetchMessageBuffer
	for _, buf := range bufs {
		if buf.UID == imap.UID(n) {
			found = buf
			break
		}
	}
	if found == nil {
		return "", &backend.EmailNotFoundError{UID: uid}
	}

	parts, err := message.TextParts(found.FindBodySection(section), mime)
	if err != nil {
		return "", &backend.ParseError{UID: uid, Err: err}
	}
	if len(parts) == 0 {
		return "", &backend.EmptyPartError{UID: uid, MIME: mime}
	}

	return message.JoinParts(parts), nil
}

// AddMessage appends raw to mailbox with the \Seen flag.
func (c *Connector) AddMessage(ctx context.Context, mailbox string, raw []byte) error {
	mailbox = c.resolve(mailbox)

	s, ctx, cancel, err := c.acquire(ctx, "append")
	if err != nil {
		return err
	}
	defer c.release(s, cancel)

	cmd := s.client.Append(mailbox, int64(len(raw)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
	})
	_, err = await(ctx, s, func() (*imap.AppendData, error) {
		if _, err := cmd.Write(raw); err != nil {
			return nil, err
		}
		if err := cmd.Close(); err != nil {
			return nil, err
		}
		return cmd.Wait()
	})
	if err != nil {
		return classify(s, "append "+mailbox, c.addr, err)
	}

	c.logger.Debug("appended message", zap.String("mailbox", mailbox), zap.Int("size", len(raw)))
	return nil
}

// Close logs out and closes the connection. It waits for an operation
// in flight and is safe to call more than once.
func (c *Connector) Close() error {
	s := <-c.slot
	defer func() { c.slot <- s }()

	if s.state == StateClosed {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()

	cmd := s.client.Logout()
	_, err := await(ctx, s, func() (struct{}, error) {
		return struct{}{}, cmd.Wait()
	})
	s.discard()

	if err != nil {
		c.logger.Debug("logout failed", zap.Error(err))
	}
	return nil
}

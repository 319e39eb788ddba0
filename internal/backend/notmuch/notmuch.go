// Package notmuch is a retrieval backend driving the notmuch CLI.
// Mailboxes are named notmuch queries and UIDs are message ids.
package notmuch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/backend/query"
	"github.com/nhle/postbox/internal/message"
	"github.com/nhle/postbox/internal/model"
)

const inbox = "INBOX"

// defaultMailboxes is used when the configuration names none.
var defaultMailboxes = map[string]string{inbox: "tag:inbox"}

// Backend implements the retrieval capabilities with notmuch.
type Backend struct {
	run       Runner
	mailboxes map[string]string
	settings  *backend.AccountSettings
	logger    *zap.Logger
}

var (
	_ backend.MailboxLister = (*Backend)(nil)
	_ backend.EmailLister   = (*Backend)(nil)
	_ backend.BodyReader    = (*Backend)(nil)
	_ backend.MessageAdder  = (*Backend)(nil)
)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend's logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithSettings sets the account whose folder aliases apply.
func WithSettings(s *backend.AccountSettings) Option {
	return func(b *Backend) { b.settings = s }
}

// WithRunner replaces the notmuch executable.
func WithRunner(r Runner) Option {
	return func(b *Backend) { b.run = r }
}

// New creates a backend for cfg. No command runs until the first
// operation.
func New(cfg *backend.NotmuchConfig, opts ...Option) (*Backend, error) {
	mailboxes := cfg.Mailboxes
	if len(mailboxes) == 0 {
		mailboxes = defaultMailboxes
	}
	for name, q := range mailboxes {
		if strings.TrimSpace(q) == "" {
			return nil, fmt.Errorf("notmuch mailbox %s has an empty query", name)
		}
	}

	b := &Backend{
		run:       newExecRunner(cfg.Cmd, cfg.DatabasePath),
		mailboxes: mailboxes,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("kind", backend.KindNotmuch.String()))
	return b, nil
}

// Close is a no-op; every operation is its own process.
func (b *Backend) Close() error { return nil }

// ListMailboxes returns the configured mailboxes, INBOX first and the
// rest sorted by name.
func (b *Backend) ListMailboxes(_ context.Context) ([]model.Mailbox, error) {
	names := make([]string, 0, len(b.mailboxes))
	for name := range b.mailboxes {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if strings.EqualFold(names[i], inbox) != strings.EqualFold(names[j], inbox) {
			return strings.EqualFold(names[i], inbox)
		}
		return names[i] < names[j]
	})

	mailboxes := make([]model.Mailbox, 0, len(names))
	for _, name := range names {
		mailboxes = append(mailboxes, model.Mailbox{Name: name})
	}
	return mailboxes, nil
}

// mailboxQuery returns the canonical name and query of mailbox.
func (b *Backend) mailboxQuery(mailbox string) (string, string, error) {
	name := b.settings.Folder(mailbox)
	for candidate, q := range b.mailboxes {
		if strings.EqualFold(candidate, name) {
			return candidate, q, nil
		}
	}
	return "", "", fmt.Errorf("mailbox %s: %w", name, os.ErrNotExist)
}

// ListEmails returns the newest backend.MaxSummaries messages of
// mailbox matching q.
func (b *Backend) ListEmails(ctx context.Context, mailbox, q string) ([]model.Email, error) {
	criteria, err := query.Parse(q)
	if err != nil {
		return nil, &backend.ProtocolError{Op: "search", Err: err}
	}
	extra, err := translate(criteria)
	if err != nil {
		return nil, &backend.ProtocolError{Op: "search", Err: err}
	}

	name, base, err := b.mailboxQuery(mailbox)
	if err != nil {
		return nil, err
	}

	nmQuery := "(" + base + ")"
	if extra != "*" {
		nmQuery += " and (" + extra + ")"
	}

	out, err := b.run.Run(ctx, nil,
		"search", "--format=json", "--output=messages", "--sort=newest-first",
		"--limit="+strconv.Itoa(backend.MaxSummaries), nmQuery)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", name, err)
	}

	var ids []string
	if err := json.Unmarshal(bytes.TrimSpace(out), &ids); err != nil {
		return nil, &backend.ProtocolError{Op: "search", Err: fmt.Errorf("decoding notmuch output: %w", err)}
	}
	if len(ids) > backend.MaxSummaries {
		ids = ids[:backend.MaxSummaries]
	}

	emails := make([]model.Email, 0, len(ids))
	for _, id := range ids {
		raw, err := b.run.Run(ctx, nil, "show", "--format=raw", "id:"+quote(id))
		if err != nil {
			return nil, fmt.Errorf("reading message %s: %w", id, err)
		}
		env, err := message.ReadEnvelope(bytes.NewReader(raw))
		if err != nil {
			b.logger.Warn("bad header", zap.String("uid", id), zap.Error(err))
		}
		emails = append(emails, model.Email{UID: id, Envelope: env, InternalDate: env.Date})
	}

	b.logger.Debug("listed emails", zap.String("mailbox", name), zap.Int("count", len(emails)))
	return emails, nil
}

// ReadEmailBody extracts the parts of the given MIME type from the
// message with id uid, provided it belongs to mailbox.
func (b *Backend) ReadEmailBody(ctx context.Context, mailbox, uid, mime string) (string, error) {
	_, base, err := b.mailboxQuery(mailbox)
	if err != nil {
		return "", err
	}

	match := "id:" + quote(uid)
	out, err := b.run.Run(ctx, nil, "count", "("+base+") and "+match)
	if err != nil {
		return "", fmt.Errorf("counting message %s: %w", uid, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return "", &backend.ProtocolError{Op: "count", Err: fmt.Errorf("decoding notmuch output %q", out)}
	}
	if n == 0 {
		return "", &backend.EmailNotFoundError{UID: uid}
	}

	raw, err := b.run.Run(ctx, nil, "show", "--format=raw", match)
	if err != nil {
		return "", fmt.Errorf("reading message %s: %w", uid, err)
	}

	parts, err := message.TextParts(raw, mime)
	if err != nil {
		return "", &backend.ParseError{UID: uid, Err: err}
	}
	if len(parts) == 0 {
		return "", &backend.EmptyPartError{UID: uid, MIME: mime}
	}
	return message.JoinParts(parts), nil
}

// AddMessage inserts raw into the maildir folder named after mailbox,
// without the unread tag. INBOX maps to the database root.
func (b *Backend) AddMessage(ctx context.Context, mailbox string, raw []byte) error {
	name := b.settings.Folder(mailbox)

	args := []string{"insert", "--create-folder"}
	if !strings.EqualFold(name, inbox) {
		args = append(args, "--folder="+name)
	}
	args = append(args, "-unread")

	if _, err := b.run.Run(ctx, raw, args...); err != nil {
		return fmt.Errorf("inserting message into %s: %w", name, err)
	}

	b.logger.Debug("added message", zap.String("mailbox", name), zap.Int("size", len(raw)))
	return nil
}

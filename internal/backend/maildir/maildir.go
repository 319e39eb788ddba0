// Package maildir is the local Maildir retrieval backend. The root
// directory is INBOX; every sub-directory that is itself a maildir is
// another mailbox. Maildir++ names (".Sent") are listed without their
// leading dot.
package maildir

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-maildir"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/backend/query"
	"github.com/nhle/postbox/internal/message"
	"github.com/nhle/postbox/internal/model"
	"github.com/nhle/postbox/internal/store"
)

const (
	inbox           = "INBOX"
	defaultIDMapper = ".id-mapper.sqlite"
)

// Backend implements the retrieval capabilities over a Maildir tree.
type Backend struct {
	root     string
	ids      store.IDMapper
	ownsIDs  bool
	settings *backend.AccountSettings
	logger   *zap.Logger
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

// WithIDMapper uses ids instead of opening the configured SQLite file.
// The caller keeps ownership.
func WithIDMapper(ids store.IDMapper) Option {
	return func(b *Backend) { b.ids = ids }
}

// New opens the Maildir tree rooted at cfg.RootDir.
func New(cfg *backend.MaildirConfig, opts ...Option) (*Backend, error) {
	root, err := expandHome(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	if !isMaildir(root) {
		return nil, fmt.Errorf("opening maildir %s: not a maildir", root)
	}

	b := &Backend{root: root, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("kind", backend.KindMaildir.String()), zap.String("root", root))

	if b.ids == nil {
		path := cfg.IDMapperPath
		if path == "" {
			path = filepath.Join(root, defaultIDMapper)
		}
		ids, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("opening id mapper: %w", err)
		}
		b.ids = ids
		b.ownsIDs = true
	}

	return b, nil
}

// Close closes the id mapper when the backend opened it.
func (b *Backend) Close() error {
	if b.ownsIDs {
		return b.ids.Close()
	}
	return nil
}

// ListMailboxes returns INBOX followed by the sub-mailboxes sorted by
// name.
func (b *Backend) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, fmt.Errorf("reading maildir %s: %w", b.root, err)
	}

	mailboxes := []model.Mailbox{{Name: inbox}}
	var names []string
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || isReserved(e.Name()) {
			continue
		}
		if !isMaildir(filepath.Join(b.root, e.Name())) {
			continue
		}
		names = append(names, strings.TrimPrefix(e.Name(), "."))
	}
	sort.Strings(names)

	for _, name := range names {
		mailboxes = append(mailboxes, model.Mailbox{Name: name})
	}
	return mailboxes, nil
}

// dir maps a mailbox name (or alias) to its directory.
func (b *Backend) dir(mailbox string) (maildir.Dir, string, error) {
	name := b.settings.Folder(mailbox)
	if strings.EqualFold(name, inbox) {
		return maildir.Dir(b.root), inbox, nil
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", "", fmt.Errorf("invalid mailbox name %q", name)
	}

	for _, candidate := range []string{"." + name, name} {
		path := filepath.Join(b.root, candidate)
		if isMaildir(path) {
			return maildir.Dir(path), name, nil
		}
	}
	return "", "", fmt.Errorf("mailbox %s: %w", name, os.ErrNotExist)
}

// entry is one message loaded for search. Only the header is kept.
type entry struct {
	key    string
	header []byte
	date   time.Time
	cand   *query.Candidate
}

// ListEmails evaluates q against every message in mailbox and returns
// the newest backend.MaxSummaries matches, newest first.
func (b *Backend) ListEmails(ctx context.Context, mailbox, q string) ([]model.Email, error) {
	criteria, err := query.Parse(q)
	if err != nil {
		return nil, &backend.ProtocolError{Op: "search", Err: err}
	}

	dir, name, err := b.dir(mailbox)
	if err != nil {
		return nil, err
	}

	withBody := needsBody(criteria)

	var entries []*entry
	err = dir.Walk(func(msg *maildir.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := load(msg, withBody)
		if err != nil {
			b.logger.Warn("skipping unreadable message", zap.String("key", msg.Key()), zap.Error(err))
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking maildir %s: %w", name, err)
	}

	// Oldest first, so that sequence numbers and fresh ids grow with age.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].date.Equal(entries[j].date) {
			return entries[i].key < entries[j].key
		}
		return entries[i].date.Before(entries[j].date)
	})

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	ids, err := b.ids.MapIDs(ctx, name, keys)
	if err != nil {
		return nil, fmt.Errorf("mapping ids: %w", err)
	}

	emails := []model.Email{}
	for i := len(entries) - 1; i >= 0 && len(emails) < backend.MaxSummaries; i-- {
		e := entries[i]
		id := ids[e.key]
		e.cand.SeqNum = uint32(i + 1)
		e.cand.UID = uidOf(id)
		if !query.Match(criteria, e.cand) {
			continue
		}

		env, err := message.ReadEnvelope(bytes.NewReader(e.header))
		if err != nil {
			b.logger.Warn("bad header", zap.String("key", e.key), zap.Error(err))
		}
		emails = append(emails, model.Email{UID: id, Envelope: env, InternalDate: e.date})
	}

	b.logger.Debug("listed emails",
		zap.String("mailbox", name),
		zap.Int("scanned", len(entries)),
		zap.Int("count", len(emails)),
	)
	return emails, nil
}

// ReadEmailBody resolves uid through the id mapper and extracts the
// parts of the given MIME type.
func (b *Backend) ReadEmailBody(ctx context.Context, mailbox, uid, mime string) (string, error) {
	dir, name, err := b.dir(mailbox)
	if err != nil {
		return "", err
	}

	key, err := b.ids.Key(ctx, name, uid)
	if errors.Is(err, store.ErrNotFound) {
		return "", &backend.EmailNotFoundError{UID: uid}
	}
	if err != nil {
		return "", err
	}

	msg, err := dir.MessageByKey(key)
	if err != nil {
		var keyErr *maildir.KeyError
		if errors.As(err, &keyErr) || errors.Is(err, os.ErrNotExist) {
			if err := b.ids.Forget(ctx, name, []string{key}); err != nil {
				b.logger.Warn("forgetting stale id", zap.String("uid", uid), zap.Error(err))
			}
			return "", &backend.EmailNotFoundError{UID: uid}
		}
		return "", fmt.Errorf("reading message %s: %w", uid, err)
	}

	raw, err := readAll(msg)
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

// AddMessage delivers raw into mailbox, flagged as seen.
func (b *Backend) AddMessage(ctx context.Context, mailbox string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir, name, err := b.dir(mailbox)
	if err != nil {
		return err
	}

	msg, w, err := dir.Create([]maildir.Flag{maildir.FlagSeen})
	if err != nil {
		return fmt.Errorf("creating message in %s: %w", name, err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing message in %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("delivering message in %s: %w", name, err)
	}

	b.logger.Debug("added message", zap.String("mailbox", name), zap.String("key", msg.Key()))
	return nil
}

// load reads the header of msg, and the whole message only when the
// search needs body text.
func load(msg *maildir.Message, withBody bool) (*entry, error) {
	info, err := os.Stat(msg.Filename())
	if err != nil {
		return nil, err
	}

	var (
		header []byte
		body   string
	)
	if withBody {
		raw, err := readAll(msg)
		if err != nil {
			return nil, err
		}
		if header, err = headerOf(bytes.NewReader(raw)); err != nil {
			return nil, err
		}
		body = bodyText(raw)
	} else if header, err = readHeader(msg); err != nil {
		return nil, err
	}

	fields, err := message.HeaderFields(header)
	if err != nil {
		return nil, err
	}

	cand := &query.Candidate{
		Flags:        flagsOf(msg.Flags()),
		InternalDate: info.ModTime(),
		Size:         info.Size(),
		Header:       fields,
		Body:         body,
	}
	if env, err := message.ReadEnvelope(bytes.NewReader(header)); err == nil {
		cand.SentDate = env.Date
	}

	return &entry{key: msg.Key(), header: header, date: info.ModTime(), cand: cand}, nil
}

func readHeader(msg *maildir.Message) ([]byte, error) {
	rc, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return headerOf(rc)
}

// headerOf reads the header block of a message and re-serializes it,
// blank line included.
func headerOf(r io.Reader) ([]byte, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func readAll(msg *maildir.Message) ([]byte, error) {
	rc, err := msg.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// bodyText is the searchable text of a message: its plain parts, or its
// HTML parts when it has none.
func bodyText(raw []byte) string {
	for _, mime := range []string{"text/plain", "text/html"} {
		parts, err := message.TextParts(raw, mime)
		if err == nil && len(parts) > 0 {
			return message.JoinParts(parts)
		}
	}
	return ""
}

func needsBody(c *imap.SearchCriteria) bool {
	if len(c.Body) > 0 || len(c.Text) > 0 {
		return true
	}
	for i := range c.Not {
		if needsBody(&c.Not[i]) {
			return true
		}
	}
	for i := range c.Or {
		if needsBody(&c.Or[i][0]) || needsBody(&c.Or[i][1]) {
			return true
		}
	}
	return false
}

var maildirFlags = map[maildir.Flag]imap.Flag{
	maildir.FlagSeen:    imap.FlagSeen,
	maildir.FlagReplied: imap.FlagAnswered,
	maildir.FlagFlagged: imap.FlagFlagged,
	maildir.FlagDraft:   imap.FlagDraft,
	maildir.FlagTrashed: imap.FlagDeleted,
}

func flagsOf(flags []maildir.Flag) []imap.Flag {
	var out []imap.Flag
	for _, f := range flags {
		if mapped, ok := maildirFlags[f]; ok {
			out = append(out, mapped)
		}
	}
	return out
}

func uidOf(id string) imap.UID {
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0
	}
	return imap.UID(n)
}

func isMaildir(path string) bool {
	for _, sub := range []string{"cur", "new", "tmp"} {
		info, err := os.Stat(filepath.Join(path, sub))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

func isReserved(name string) bool {
	return name == "cur" || name == "new" || name == "tmp"
}

func expandHome(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("maildir root-dir is empty")
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/emersion/go-mbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/model"
	"github.com/nhle/postbox/internal/testutil"
)

// fixture is a local account: a maildir for retrieval and a shell
// command for sending.
type fixture struct {
	root   string
	outbox string
	config string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		root:   filepath.Join(dir, "Mail"),
		outbox: filepath.Join(dir, "outbox.eml"),
		config: filepath.Join(dir, "config.yaml"),
	}
	require.NoError(t, maildir.Dir(f.root).Init())
	require.NoError(t, maildir.Dir(filepath.Join(f.root, ".Sent")).Init())

	yaml := fmt.Sprintf(`accounts:
  local:
    default: true
    email: alice@example.org
    backend: maildir
    send-backend: sendmail
    maildir:
      root-dir: %s
    sendmail:
      cmd: cat > '%s'
  remote:
    email: alice@example.net
`, f.root, f.outbox)
	require.NoError(t, os.WriteFile(f.config, []byte(yaml), 0o600))
	return f
}

func (f *fixture) deliver(t *testing.T, raw []byte) {
	t.Helper()
	_, w, err := maildir.Dir(f.root).Create(nil)
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func (f *fixture) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return f.runContext(context.Background(), t, stdin, args...)
}

func (f *fixture) runContext(ctx context.Context, t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(strings.NewReader(stdin), &out)
	err := app.RunContext(ctx, append([]string{"postbox", "--config", f.config}, args...))
	return out.String(), err
}

func TestAccounts(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "", "accounts")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "alice@example.net")
}

func TestMailboxes(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "", "mailboxes")
	require.NoError(t, err)
	assert.Equal(t, "INBOX\nSent\n", out)

	out, err = f.run(t, "", "mailboxes", "--json")
	require.NoError(t, err)
	var mailboxes []model.Mailbox
	require.NoError(t, json.Unmarshal([]byte(out), &mailboxes))
	assert.Len(t, mailboxes, 2)
}

func TestEmailsAndRead(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, testutil.PlainMessage("Quarterly report", "numbers inside"))

	out, err := f.run(t, "", "emails")
	require.NoError(t, err)
	assert.Contains(t, out, "Quarterly report")
	assert.Contains(t, out, "Alice")

	out, err = f.run(t, "", "emails", "--json", "SUBJECT", "quarterly")
	require.NoError(t, err)
	var emails []model.Email
	require.NoError(t, json.Unmarshal([]byte(out), &emails))
	require.Len(t, emails, 1)

	out, err = f.run(t, "", "read", emails[0].UID)
	require.NoError(t, err)
	assert.Equal(t, "numbers inside\n", strings.ReplaceAll(out, "\r\n", "\n"))

	_, err = f.run(t, "", "read", "--mime", "text/html", emails[0].UID)
	assert.True(t, backend.IsEmptyPart(err), "got %v", err)

	_, err = f.run(t, "", "read", "42")
	assert.True(t, backend.IsNotFound(err), "got %v", err)

	_, err = f.run(t, "", "read")
	assert.ErrorContains(t, err, "missing uid")
}

func TestSendSavesCopy(t *testing.T) {
	f := newFixture(t)
	raw := string(testutil.PlainMessage("Outgoing", "see you"))

	_, err := f.run(t, raw, "send")
	require.NoError(t, err)

	sent, err := os.ReadFile(f.outbox)
	require.NoError(t, err)
	assert.Equal(t, raw, string(sent))

	out, err := f.run(t, "", "emails", "--mailbox", "sent", "SEEN")
	require.NoError(t, err)
	assert.Contains(t, out, "Outgoing")
}

func TestSendWithoutCopy(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, string(testutil.PlainMessage("Quiet", "x")), "send", "--no-copy")
	require.NoError(t, err)

	out, err := f.run(t, "", "emails", "--mailbox", "sent")
	require.NoError(t, err)
	assert.NotContains(t, out, "Quiet")
}

func TestSendWithBrokenMaildir(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.root))
	raw := string(testutil.PlainMessage("Still leaves", "x"))

	_, err := f.run(t, raw, "send", "--no-copy")
	require.NoError(t, err)
	sent, err := os.ReadFile(f.outbox)
	require.NoError(t, err)
	assert.Equal(t, raw, string(sent))

	require.NoError(t, os.Remove(f.outbox))
	_, err = f.run(t, raw, "send")
	assert.ErrorContains(t, err, "message sent, saving a copy failed")
	sent, err = os.ReadFile(f.outbox)
	require.NoError(t, err)
	assert.Equal(t, raw, string(sent))
}

func TestAccountWithoutBackends(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "", "--account", "remote", "mailboxes")
	assert.True(t, backend.IsCapabilityUnavailable(err), "got %v", err)

	_, err = f.run(t, "", "--account", "nobody", "mailboxes")
	assert.ErrorContains(t, err, "not found")
}

func TestImport(t *testing.T) {
	f := newFixture(t)

	path := filepath.Join(t.TempDir(), "archive.mbox")
	file, err := os.Create(path)
	require.NoError(t, err)
	w := mbox.NewWriter(file)
	for i := 1; i <= 3; i++ {
		mw, err := w.CreateMessage("alice@example.org", testutil.MessageDate)
		require.NoError(t, err)
		_, err = mw.Write(testutil.PlainMessage(fmt.Sprintf("Archived %d", i), "old news"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, file.Close())

	out, err := f.run(t, "", "import", "--mailbox", "sent", path)
	require.NoError(t, err)
	assert.Equal(t, "imported 3 messages into Sent\n", out)

	out, err = f.run(t, "", "emails", "--mailbox", "Sent", "SUBJECT", "archived")
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		assert.Contains(t, out, fmt.Sprintf("Archived %d", i))
	}

	_, err = f.run(t, "", "import")
	assert.ErrorContains(t, err, "missing mbox file")
}

func TestWatchPrintsInitialListing(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, testutil.PlainMessage("Fresh", "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := f.runContext(ctx, t, "", "watch", "--interval", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "Fresh")
}

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindForResolution(t *testing.T) {
	acct := &AccountConfig{
		Name:        "work",
		Backend:     KindImap,
		SendBackend: KindSmtp,
		Capabilities: map[Capability]Kind{
			CapListMailboxes: KindMaildir,
		},
	}

	assert.Equal(t, KindMaildir, acct.KindFor(CapListMailboxes))
	assert.Equal(t, KindImap, acct.KindFor(CapListEmails))
	assert.Equal(t, KindImap, acct.KindFor(CapReadEmailBody))
	assert.Equal(t, KindImap, acct.KindFor(CapAddMessage))
	assert.Equal(t, KindSmtp, acct.KindFor(CapSendMessage))
}

func TestKindForUnassigned(t *testing.T) {
	acct := &AccountConfig{Backend: KindImap}
	assert.Equal(t, KindNone, acct.KindFor(CapSendMessage))

	acct = &AccountConfig{SendBackend: KindSendmail}
	assert.Equal(t, KindNone, acct.KindFor(CapListMailboxes))
}

func TestSection(t *testing.T) {
	acct := &AccountConfig{
		Imap: &ImapConfig{Host: "imap.example.org"},
		Smtp: &SmtpConfig{Host: "smtp.example.org"},
	}

	imapSection := acct.Section(KindImap)
	require.NotNil(t, imapSection)
	assert.Equal(t, KindImap, imapSection.Kind())

	assert.Nil(t, acct.Section(KindMaildir))
	assert.Nil(t, acct.Section(KindSendmail))
	assert.Nil(t, acct.Section(KindNone))
}

func TestValidate(t *testing.T) {
	acct := &AccountConfig{Name: "a", Backend: "imap", SendBackend: "smtp"}
	assert.NoError(t, acct.Validate())

	acct = &AccountConfig{Name: "a", Backend: "pop3"}
	assert.Error(t, acct.Validate())

	acct = &AccountConfig{
		Name:         "a",
		Capabilities: map[Capability]Kind{"delete-everything": KindImap},
	}
	assert.Error(t, acct.Validate())
}

func TestSettingsFolderAliases(t *testing.T) {
	noCopy := false
	acct := &AccountConfig{
		Name:          "work",
		Email:         "me@example.org",
		FolderAliases: map[string]string{"Sent": "Sent Items"},
		SaveCopy:      &noCopy,
	}

	s := acct.Settings()
	assert.Equal(t, "work", s.Name)
	assert.False(t, s.SaveCopy)
	assert.Equal(t, "INBOX", s.Folder("inbox"))
	assert.Equal(t, "Sent Items", s.Folder("sent"))
	assert.Equal(t, "Drafts", s.Folder("DRAFTS"))
	assert.Equal(t, "Archive/2024", s.Folder("Archive/2024"))

	assert.True(t, (&AccountConfig{}).Settings().SaveCopy)

	var nilSettings *AccountSettings
	assert.Equal(t, "sent", nilSettings.Folder("sent"))
}

func TestAddrDefaults(t *testing.T) {
	assert.Equal(t, "imap.example.org:993", (&ImapConfig{Host: "imap.example.org"}).Addr())
	assert.Equal(t, "imap.example.org:143", (&ImapConfig{Host: "imap.example.org", Port: 143}).Addr())
	assert.Equal(t, "smtp.example.org:465", (&SmtpConfig{Host: "smtp.example.org"}).Addr())
	assert.Equal(t, "smtp.example.org:587", (&SmtpConfig{Host: "smtp.example.org", StartTLS: true}).Addr())
}

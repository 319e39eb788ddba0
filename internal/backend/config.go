package backend

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Config is the configuration of one backend kind. Exactly one variant
// backs each value; Kind reports which.
type Config interface {
	Kind() Kind
}

// ImapConfig configures the IMAP connector. The transport is always
// TLS; there is no plaintext mode.
type ImapConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Login              string        `mapstructure:"login" yaml:"login"`
	Password           string        `mapstructure:"password" yaml:"password"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify" yaml:"insecure-skip-verify"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func (*ImapConfig) Kind() Kind { return KindImap }

// Addr returns host:port, defaulting the port to 993.
func (c *ImapConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 993
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// MaildirConfig configures a local Maildir tree.
type MaildirConfig struct {
	RootDir string `mapstructure:"root-dir" yaml:"root-dir"`

	// IDMapperPath is the SQLite file mapping Maildir keys to short ids.
	// Defaults to a file inside RootDir.
	IDMapperPath string `mapstructure:"id-mapper-path" yaml:"id-mapper-path"`
}

func (*MaildirConfig) Kind() Kind { return KindMaildir }

// NotmuchConfig configures the notmuch CLI backend.
type NotmuchConfig struct {
	DatabasePath string `mapstructure:"database-path" yaml:"database-path"`

	// Mailboxes maps virtual mailbox names to notmuch queries.
	Mailboxes map[string]string `mapstructure:"mailboxes" yaml:"mailboxes"`

	// Cmd is the notmuch executable, "notmuch" when empty.
	Cmd string `mapstructure:"cmd" yaml:"cmd"`
}

func (*NotmuchConfig) Kind() Kind { return KindNotmuch }

// SmtpConfig configures SMTP submission. Implicit TLS is used unless
// StartTLS is set.
type SmtpConfig struct {
	Host               string        `mapstructure:"host" yaml:"host"`
	Port               int           `mapstructure:"port" yaml:"port"`
	Login              string        `mapstructure:"login" yaml:"login"`
	Password           string        `mapstructure:"password" yaml:"password"`
	StartTLS           bool          `mapstructure:"starttls" yaml:"starttls"`
	InsecureSkipVerify bool          `mapstructure:"insecure-skip-verify" yaml:"insecure-skip-verify"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func (*SmtpConfig) Kind() Kind { return KindSmtp }

// Addr returns host:port, defaulting the port to 465 (or 587 with
// STARTTLS).
func (c *SmtpConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 465
		if c.StartTLS {
			port = 587
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SendmailConfig configures delivery through a sendmail-compatible
// command.
type SendmailConfig struct {
	Cmd string `mapstructure:"cmd" yaml:"cmd"`
}

func (*SendmailConfig) Kind() Kind { return KindSendmail }

// AccountConfig is the per-account configuration as read from the
// accounts file. The core only reads it.
type AccountConfig struct {
	Name        string `mapstructure:"-" yaml:"-"`
	Email       string `mapstructure:"email" yaml:"email"`
	DisplayName string `mapstructure:"display-name" yaml:"display-name"`
	Default     bool   `mapstructure:"default" yaml:"default"`

	// Backend is the default kind for every non-sending capability.
	Backend Kind `mapstructure:"backend" yaml:"backend"`

	// SendBackend is the default kind for sending capabilities.
	SendBackend Kind `mapstructure:"send-backend" yaml:"send-backend"`

	// Capabilities pins individual capabilities to a kind, taking
	// precedence over Backend and SendBackend.
	Capabilities map[Capability]Kind `mapstructure:"capabilities" yaml:"capabilities"`

	// FolderAliases maps logical names (inbox, sent, drafts, trash) to
	// backend mailbox names.
	FolderAliases map[string]string `mapstructure:"folder-aliases" yaml:"folder-aliases"`

	// SaveCopy controls whether sent messages are added to the sent
	// folder. Defaults to true.
	SaveCopy *bool `mapstructure:"save-copy" yaml:"save-copy"`

	Imap     *ImapConfig     `mapstructure:"imap" yaml:"imap"`
	Maildir  *MaildirConfig  `mapstructure:"maildir" yaml:"maildir"`
	Notmuch  *NotmuchConfig  `mapstructure:"notmuch" yaml:"notmuch"`
	Smtp     *SmtpConfig     `mapstructure:"smtp" yaml:"smtp"`
	Sendmail *SendmailConfig `mapstructure:"sendmail" yaml:"sendmail"`
}

// KindFor resolves the kind responsible for a capability. An explicit
// entry in Capabilities wins; otherwise sending capabilities fall back
// to SendBackend and the others to Backend. KindNone means no backend
// is assigned.
func (a *AccountConfig) KindFor(c Capability) Kind {
	if k, ok := a.Capabilities[c]; ok && k != KindNone {
		return k
	}
	if c.Sending() {
		return a.SendBackend
	}
	return a.Backend
}

// Section returns the configuration section of the given kind, or nil
// when the account has none.
func (a *AccountConfig) Section(k Kind) Config {
	switch k {
	case KindImap:
		if a.Imap != nil {
			return a.Imap
		}
	case KindMaildir:
		if a.Maildir != nil {
			return a.Maildir
		}
	case KindNotmuch:
		if a.Notmuch != nil {
			return a.Notmuch
		}
	case KindSmtp:
		if a.Smtp != nil {
			return a.Smtp
		}
	case KindSendmail:
		if a.Sendmail != nil {
			return a.Sendmail
		}
	}
	return nil
}

// Validate checks that every kind and capability named by the account
// is known.
func (a *AccountConfig) Validate() error {
	for _, k := range []Kind{a.Backend, a.SendBackend} {
		if _, err := ParseKind(string(k)); err != nil {
			return fmt.Errorf("account %s: %w", a.Name, err)
		}
	}
	for c, k := range a.Capabilities {
		if !c.Valid() {
			return fmt.Errorf("account %s: unknown capability %q", a.Name, c)
		}
		if _, err := ParseKind(string(k)); err != nil {
			return fmt.Errorf("account %s: capability %s: %w", a.Name, c, err)
		}
	}
	return nil
}

// Settings derives the runtime account settings.
func (a *AccountConfig) Settings() *AccountSettings {
	folders := map[string]string{
		"inbox":  "INBOX",
		"sent":   "Sent",
		"drafts": "Drafts",
		"trash":  "Trash",
	}
	for alias, name := range a.FolderAliases {
		folders[strings.ToLower(alias)] = name
	}

	saveCopy := true
	if a.SaveCopy != nil {
		saveCopy = *a.SaveCopy
	}

	return &AccountSettings{
		Name:        a.Name,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		SaveCopy:    saveCopy,
		folders:     folders,
	}
}

// AccountSettings is the account as seen by backends at runtime.
type AccountSettings struct {
	Name        string
	Email       string
	DisplayName string
	SaveCopy    bool

	folders map[string]string
}

// Folder resolves a folder alias. Names that are not aliases are
// returned unchanged.
func (s *AccountSettings) Folder(name string) string {
	if s == nil {
		return name
	}
	if resolved, ok := s.folders[strings.ToLower(name)]; ok {
		return resolved
	}
	return name
}

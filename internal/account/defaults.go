package account

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/backend/imap"
	"github.com/nhle/postbox/internal/backend/maildir"
	"github.com/nhle/postbox/internal/backend/notmuch"
	"github.com/nhle/postbox/internal/backend/sendmail"
	"github.com/nhle/postbox/internal/backend/smtp"
)

// DefaultConstructors returns the production constructor of every kind.
func DefaultConstructors() map[backend.Kind]Constructor {
	return map[backend.Kind]Constructor{
		backend.KindImap:     typed(newImap),
		backend.KindMaildir:  typed(newMaildir),
		backend.KindNotmuch:  typed(newNotmuch),
		backend.KindSmtp:     typed(newSmtp),
		backend.KindSendmail: typed(newSendmail),
	}
}

// typed adapts a constructor taking its concrete configuration variant.
func typed[C backend.Config](f func(context.Context, C, *backend.AccountSettings, *zap.Logger) (backend.Backend, error)) Constructor {
	return func(ctx context.Context, cfg backend.Config, settings *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
		c, ok := cfg.(C)
		if !ok {
			return nil, fmt.Errorf("unexpected configuration %T", cfg)
		}
		return f(ctx, c, settings, logger)
	}
}

func newImap(ctx context.Context, cfg *backend.ImapConfig, settings *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
	c, err := imap.New(ctx, cfg, imap.WithSettings(settings), imap.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newMaildir(_ context.Context, cfg *backend.MaildirConfig, settings *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
	b, err := maildir.New(cfg, maildir.WithSettings(settings), maildir.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newNotmuch(_ context.Context, cfg *backend.NotmuchConfig, settings *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
	b, err := notmuch.New(cfg, notmuch.WithSettings(settings), notmuch.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func newSmtp(_ context.Context, cfg *backend.SmtpConfig, _ *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
	s, err := smtp.New(cfg, smtp.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newSendmail(_ context.Context, cfg *backend.SendmailConfig, _ *backend.AccountSettings, logger *zap.Logger) (backend.Backend, error) {
	s, err := sendmail.New(cfg, sendmail.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return s, nil
}

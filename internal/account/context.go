package account

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/model"
)

// Context routes capability calls to the backends a Builder wired. It
// belongs to one command run and must be closed when that run ends.
type Context struct {
	// ID identifies the build in log output.
	ID string

	mailboxes backend.MailboxLister
	emails    backend.EmailLister
	bodies    backend.BodyReader
	sender    backend.MessageSender
	adder     backend.MessageAdder

	settings  *backend.AccountSettings
	instances []backend.Backend
	logger    *zap.Logger
}

// register stores inst under capability c.
func (bc *Context) register(c backend.Capability, inst backend.Backend) error {
	var ok bool
	switch c {
	case backend.CapListMailboxes:
		bc.mailboxes, ok = inst.(backend.MailboxLister)
	case backend.CapListEmails:
		bc.emails, ok = inst.(backend.EmailLister)
	case backend.CapReadEmailBody:
		bc.bodies, ok = inst.(backend.BodyReader)
	case backend.CapSendMessage:
		bc.sender, ok = inst.(backend.MessageSender)
	case backend.CapAddMessage:
		bc.adder, ok = inst.(backend.MessageAdder)
	}
	if !ok {
		return fmt.Errorf("%T does not implement %s", inst, c)
	}
	return nil
}

// Settings returns the account settings the context was built with.
func (bc *Context) Settings() *backend.AccountSettings {
	return bc.settings
}

// Has reports whether capability c is wired.
func (bc *Context) Has(c backend.Capability) bool {
	switch c {
	case backend.CapListMailboxes:
		return bc.mailboxes != nil
	case backend.CapListEmails:
		return bc.emails != nil
	case backend.CapReadEmailBody:
		return bc.bodies != nil
	case backend.CapSendMessage:
		return bc.sender != nil
	case backend.CapAddMessage:
		return bc.adder != nil
	}
	return false
}

func unavailable(c backend.Capability) error {
	return &backend.CapabilityUnavailableError{Capability: c}
}

func (bc *Context) ListMailboxes(ctx context.Context) ([]model.Mailbox, error) {
	if bc.mailboxes == nil {
		return nil, unavailable(backend.CapListMailboxes)
	}
	return bc.mailboxes.ListMailboxes(ctx)
}

func (bc *Context) ListEmails(ctx context.Context, mailbox, query string) ([]model.Email, error) {
	if bc.emails == nil {
		return nil, unavailable(backend.CapListEmails)
	}
	return bc.emails.ListEmails(ctx, mailbox, query)
}

func (bc *Context) ReadEmailBody(ctx context.Context, mailbox, uid, mime string) (string, error) {
	if bc.bodies == nil {
		return "", unavailable(backend.CapReadEmailBody)
	}
	return bc.bodies.ReadEmailBody(ctx, mailbox, uid, mime)
}

func (bc *Context) SendMessage(ctx context.Context, raw []byte) error {
	if bc.sender == nil {
		return unavailable(backend.CapSendMessage)
	}
	return bc.sender.SendMessage(ctx, raw)
}

func (bc *Context) AddMessage(ctx context.Context, mailbox string, raw []byte) error {
	if bc.adder == nil {
		return unavailable(backend.CapAddMessage)
	}
	return bc.adder.AddMessage(ctx, mailbox, raw)
}

// Close closes every backend once. Capabilities are unavailable
// afterwards.
func (bc *Context) Close() error {
	var errs []error
	for _, inst := range bc.instances {
		if inst == nil {
			continue
		}
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	bc.instances = nil
	bc.mailboxes, bc.emails, bc.bodies, bc.sender, bc.adder = nil, nil, nil, nil, nil

	if len(errs) > 0 {
		bc.logger.Warn("closing backends", zap.Int("failed", len(errs)))
	}
	return errors.Join(errs...)
}

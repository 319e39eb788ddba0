// Package sendmail delivers messages by piping them to a
// sendmail-compatible command.
package sendmail

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
)

// DefaultCmd reads the recipients from the message headers.
const DefaultCmd = "/usr/sbin/sendmail -t -i"

// Sender runs the configured command once per message.
type Sender struct {
	cmd    string
	shell  string
	logger *zap.Logger
}

var _ backend.MessageSender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the sender's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithShell replaces the shell the command line is handed to.
func WithShell(path string) Option {
	return func(s *Sender) { s.shell = path }
}

// New creates a sender for cfg.
func New(cfg *backend.SendmailConfig, opts ...Option) (*Sender, error) {
	cmd := strings.TrimSpace(cfg.Cmd)
	if cmd == "" {
		cmd = DefaultCmd
	}
	s := &Sender{cmd: cmd, shell: "sh", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("kind", backend.KindSendmail.String()))
	return s, nil
}

// Close is a no-op.
func (s *Sender) Close() error { return nil }

// SendMessage writes raw to the command's standard input. A command
// that cannot start is a transport error; one that exits non-zero is a
// protocol error carrying its stderr.
func (s *Sender) SendMessage(ctx context.Context, raw []byte) error {
	cmd := exec.CommandContext(ctx, s.shell, "-c", s.cmd)
	cmd.Stdin = bytes.NewReader(raw)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &backend.TransportError{Op: "sendmail", Err: ctxErr}
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return &backend.ProtocolError{Op: "sendmail", Err: err}
			}
			return &backend.ProtocolError{Op: "sendmail", Err: errors.New(msg)}
		}
		return &backend.TransportError{Op: "sendmail", Err: err}
	}

	s.logger.Debug("sent message", zap.String("cmd", s.cmd), zap.Int("size", len(raw)))
	return nil
}

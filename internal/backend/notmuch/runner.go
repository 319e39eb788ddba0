package notmuch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes a notmuch command and returns its standard output.
type Runner interface {
	Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error)
}

// execRunner runs the notmuch binary.
type execRunner struct {
	cmd string
	env []string
}

func newExecRunner(cmd, databasePath string) *execRunner {
	if cmd == "" {
		cmd = "notmuch"
	}
	r := &execRunner{cmd: cmd}
	if databasePath != "" {
		r.env = append(os.Environ(), "NOTMUCH_DATABASE="+databasePath)
	}
	return r
}

func (r *execRunner) Run(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.cmd, args...)
	cmd.Env = r.env
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", r.cmd, args[0], err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", r.cmd, args[0], err)
	}
	return stdout.Bytes(), nil
}

package main

import (
	"io"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/account"
	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/config"
	"github.com/nhle/postbox/internal/logger"
)

// state is shared by every command of one run.
type state struct {
	stdin  io.Reader
	stdout io.Writer

	cfg     *config.Config
	account *backend.AccountConfig
	logger  *zap.Logger

	// builderOpts are appended to every Builder, letting tests swap
	// constructors.
	builderOpts []account.Option
}

func newApp(stdin io.Reader, stdout io.Writer, opts ...account.Option) *cli.App {
	st := &state{stdin: stdin, stdout: stdout, logger: zap.NewNop(), builderOpts: opts}

	return &cli.App{
		Name:   "postbox",
		Usage:  "read and send mail through pluggable backends",
		Writer: stdout,
		Flags:  []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "accounts file (default $POSTBOX_CONFIG or ~/.config/postbox/config.yaml)",
			},
			&cli.StringFlag{
				Name:    "account",
				Aliases: []string{"a"},
				Usage:   "account name (default: the default account)",
			},
		},
		Before:   st.setup,
		After:    st.teardown,
		Commands: []*cli.Command{
			accountsCommand(st),
			mailboxesCommand(st),
			emailsCommand(st),
			readCommand(st),
			sendCommand(st),
			importCommand(st),
			watchCommand(st),
		},
	}
}

func (st *state) setup(c *cli.Context) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}

	l, err := logger.New(env.Logger)
	if err != nil {
		return err
	}
	st.logger = l

	path := c.String("config")
	if path == "" {
		path = env.ConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	st.cfg = cfg
	return nil
}

func (st *state) teardown(*cli.Context) error {
	_ = st.logger.Sync()
	return nil
}

// open builds a backend context for the selected account wiring caps.
func (st *state) open(c *cli.Context, caps ...backend.Capability) (*account.Context, error) {
	if st.account == nil {
		acc, err := st.cfg.Account(c.String("account"))
		if err != nil {
			return nil, err
		}
		st.account = acc
	}

	opts := append([]account.Option{account.WithLogger(st.logger)}, st.builderOpts...)
	return account.NewBuilder(st.account, nil, opts...).Build(c.Context, caps...)
}

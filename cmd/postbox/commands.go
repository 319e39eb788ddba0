package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/emersion/go-mbox"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nhle/postbox/internal/backend"
	"github.com/nhle/postbox/internal/model"
	"github.com/nhle/postbox/internal/sync"
)

func mailboxFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "mailbox",
		Aliases: []string{"m"},
		Value:   "inbox",
		Usage:   "mailbox name or folder alias",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "print JSON instead of a table",
	}
}

func accountsCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "accounts",
		Usage: "list configured accounts",
		Action: func(c *cli.Context) error {
			w := tabwriter.NewWriter(st.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEMAIL\tBACKEND\tSEND\tDEFAULT")
			for _, name := range st.cfg.Names() {
				acc := st.cfg.Accounts[name]
				def := ""
				if acc.Default {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, acc.Email, acc.Backend, acc.SendBackend, def)
			}
			return w.Flush()
		},
	}
}

func mailboxesCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "mailboxes",
		Usage: "list mailboxes",
		Flags: []cli.Flag{jsonFlag()},
		Action: func(c *cli.Context) error {
			bc, err := st.open(c, backend.CapListMailboxes)
			if err != nil {
				return err
			}
			defer bc.Close()

			mailboxes, err := bc.ListMailboxes(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(st.stdout, mailboxes)
			}
			for _, m := range mailboxes {
				fmt.Fprintln(st.stdout, m.Name)
			}
			return nil
		},
	}
}

func emailsCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:      "emails",
		Usage:     fmt.Sprintf("list up to %d messages matching a search query", backend.MaxSummaries),
		ArgsUsage: "[query...]",
		Flags:     []cli.Flag{mailboxFlag(), jsonFlag()},
		Action: func(c *cli.Context) error {
			bc, err := st.open(c, backend.CapListEmails)
			if err != nil {
				return err
			}
			defer bc.Close()

			emails, err := bc.ListEmails(c.Context, c.String("mailbox"), queryArg(c))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return writeJSON(st.stdout, emails)
			}
			return writeEmails(st.stdout, emails)
		},
	}
}

func readCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "print the text of a message",
		ArgsUsage: "<uid>",
		Flags: []cli.Flag{
			mailboxFlag(),
			&cli.StringFlag{
				Name:  "mime",
				Value: "text/plain",
				Usage: "MIME type of the parts to print",
			},
		},
		Action: func(c *cli.Context) error {
			uid := c.Args().First()
			if uid == "" {
				return errors.New("read: missing uid")
			}

			bc, err := st.open(c, backend.CapReadEmailBody)
			if err != nil {
				return err
			}
			defer bc.Close()

			body, err := bc.ReadEmailBody(c.Context, c.String("mailbox"), uid, c.String("mime"))
			if err != nil {
				return err
			}
			fmt.Fprint(st.stdout, body)
			if !strings.HasSuffix(body, "\n") {
				fmt.Fprintln(st.stdout)
			}
			return nil
		},
	}
}

func sendCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "send the RFC 5322 message read from stdin",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-copy",
				Usage: "do not save a copy to the sent folder",
			},
		},
		Action: func(c *cli.Context) error {
			raw, err := io.ReadAll(st.stdin)
			if err != nil {
				return fmt.Errorf("reading message: %w", err)
			}

			bc, err := st.open(c, backend.CapSendMessage)
			if err != nil {
				return err
			}
			err = bc.SendMessage(c.Context, raw)
			save := bc.Settings().SaveCopy
			bc.Close()
			if err != nil {
				return err
			}
			if c.Bool("no-copy") || !save {
				return nil
			}

			// The copy is built only after delivery so a broken retrieval
			// backend cannot block sending.
			cc, err := st.open(c, backend.CapAddMessage)
			if err != nil {
				return fmt.Errorf("message sent, saving a copy failed: %w", err)
			}
			defer cc.Close()
			if !cc.Has(backend.CapAddMessage) {
				return nil
			}
			if err := cc.AddMessage(c.Context, "sent", raw); err != nil {
				return fmt.Errorf("message sent, saving a copy failed: %w", err)
			}
			return nil
		},
	}
}

func importCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "add every message of an mbox file to a mailbox",
		ArgsUsage: "<file.mbox>",
		Flags:     []cli.Flag{mailboxFlag()},
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return errors.New("import: missing mbox file")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			bc, err := st.open(c, backend.CapAddMessage)
			if err != nil {
				return err
			}
			defer bc.Close()

			mailbox := c.String("mailbox")
			r := mbox.NewReader(f)
			n := 0
			for {
				mr, err := r.NextMessage()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				raw, err := io.ReadAll(mr)
				if err != nil {
					return fmt.Errorf("reading message %d of %s: %w", n+1, path, err)
				}
				if err := bc.AddMessage(c.Context, mailbox, raw); err != nil {
					return fmt.Errorf("adding message %d: %w", n+1, err)
				}
				n++
			}

			fmt.Fprintf(st.stdout, "imported %d messages into %s\n", n, bc.Settings().Folder(mailbox))
			return nil
		},
	}
}

func watchCommand(st *state) *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "poll a mailbox and print messages as they arrive",
		ArgsUsage: "[query...]",
		Flags: []cli.Flag{
			mailboxFlag(),
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Minute,
				Usage: "time between polls",
			},
		},
		Action: func(c *cli.Context) error {
			bc, err := st.open(c, backend.CapListEmails)
			if err != nil {
				return err
			}
			defer bc.Close()

			p := sync.New(bc, c.String("mailbox"), queryArg(c),
				sync.WithInterval(c.Duration("interval")),
				sync.WithLogger(st.logger.With(zap.String("command", "watch"))),
			)
			return p.Run(c.Context, func(emails []model.Email) {
				if err := writeEmails(st.stdout, emails); err != nil {
					st.logger.Warn("writing summaries", zap.Error(err))
				}
			})
		},
	}
}

func queryArg(c *cli.Context) string {
	q := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if q == "" {
		return "ALL"
	}
	return q
}

func writeEmails(out io.Writer, emails []model.Email) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tDATE\tFROM\tSUBJECT")
	for _, e := range emails {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.UID,
			e.InternalDate.Local().Format("2006-01-02 15:04"),
			e.Envelope.Sender(),
			e.Envelope.Subject,
		)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

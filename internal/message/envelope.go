package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/nhle/postbox/internal/model"
)

// ReadEnvelope parses the header block of r into an Envelope. Only the
// header is consumed.
func ReadEnvelope(r io.Reader) (model.Envelope, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return model.Envelope{}, fmt.Errorf("reading header: %w", err)
	}
	return envelopeFromHeader(mail.Header{Header: message.Header{Header: h}}), nil
}

func envelopeFromHeader(h mail.Header) model.Envelope {
	env := model.Envelope{}

	if subject, err := h.Subject(); err == nil {
		env.Subject = subject
	} else {
		env.Subject = h.Get("Subject")
	}

	if id, err := h.MessageID(); err == nil {
		env.MessageID = id
	}

	if date, err := h.Date(); err == nil {
		env.Date = date
	}

	env.From = addressList(h, "From")
	env.To = addressList(h, "To")
	env.Cc = addressList(h, "Cc")

	return env
}

func addressList(h mail.Header, key string) []model.Address {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}

	addrs := make([]model.Address, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, model.Address{Name: a.Name, Addr: a.Address})
	}
	return addrs
}

// Submission is what an SMTP-style sender needs from a raw message.
type Submission struct {
	From string
	To   []string

	// Data is the message with its Bcc header removed.
	Data []byte
}

// PrepareSubmission derives the envelope sender and recipients from the
// headers of raw. The sender comes from Sender, falling back to From;
// recipients are the union of To, Cc and Bcc.
func PrepareSubmission(raw []byte) (*Submission, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	th, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}

	sub := &Submission{}

	for _, key := range []string{"Sender", "From"} {
		if list := addressList(h, key); len(list) > 0 {
			sub.From = list[0].Addr
			break
		}
	}
	if sub.From == "" {
		return nil, fmt.Errorf("message has no sender")
	}

	seen := make(map[string]bool)
	for _, key := range []string{"To", "Cc", "Bcc"} {
		for _, a := range addressList(h, key) {
			addr := strings.ToLower(a.Addr)
			if seen[addr] {
				continue
			}
			seen[addr] = true
			sub.To = append(sub.To, a.Addr)
		}
	}
	if len(sub.To) == 0 {
		return nil, fmt.Errorf("message has no recipients")
	}

	th.Del("Bcc")

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, th); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("copying body: %w", err)
	}
	sub.Data = buf.Bytes()

	return sub, nil
}

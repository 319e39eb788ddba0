package imap

import (
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/postbox/internal/model"
)

func mailboxFromList(data *imap.ListData) model.Mailbox {
	mbox := model.Mailbox{
		Name:  data.Mailbox,
		Delim: data.Delim,
	}
	for _, attr := range data.Attrs {
		mbox.Attrs = append(mbox.Attrs, string(attr))
	}
	return mbox
}

func emailFromBuffer(buf *imapclient.FetchMessageBuffer) model.Email {
	email := model.Email{
		UID:          strconv.FormatUint(uint64(buf.UID), 10),
		InternalDate: buf.InternalDate,
	}

	if env := buf.Envelope; env != nil {
		email.Envelope = model.Envelope{
			MessageID: env.MessageID,
			Subject:   env.Subject,
			From:      addressesFrom(env.From),
			To:        addressesFrom(env.To),
			Cc:        addressesFrom(env.Cc),
			Date:      env.Date,
		}
	}

	return email
}

func addressesFrom(list []imap.Address) []model.Address {
	if len(list) == 0 {
		return nil
	}
	out := make([]model.Address, 0, len(list))
	for _, a := range list {
		// Group syntax markers carry no address.
		if a.IsGroupStart() || a.IsGroupEnd() {
			continue
		}
		out = append(out, model.Address{Name: a.Name, Addr: a.Addr()})
	}
	return out
}

package message

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/textproto"
)

// HeaderFields returns the header of raw as a map from lower-cased
// field name to decoded values. Values that fail to
// decode are kept raw.
func HeaderFields(raw []byte) (map[string][]string, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	h := message.Header{Header: th}
	fields := make(map[string][]string, th.Len())
	for it := h.Fields(); it.Next(); {
		v, err := it.Text()
		if err != nil {
			v = it.Value()
		}
		k := strings.ToLower(it.Key())
		fields[k] = append(fields[k], v)
	}
	return fields, nil
}

// Package message holds the MIME helpers shared by backends: text part
// extraction, envelope parsing and submission envelopes.
package message

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// partSeparator joins consecutive text parts.
const partSeparator = "\n"

// TextParts parses raw as a MIME message and returns the decoded
// content of every inline leaf part whose media type is mimeType, in
// document order. An empty raw message has no parts. Parts with an
// unknown charset are returned undecoded rather than failing.
func TextParts(raw []byte, mimeType string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	want := strings.ToLower(strings.TrimSpace(mimeType))

	root, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("reading message: %w", err)
	}

	var parts []string
	walkErr := root.Walk(func(_ []int, ent *message.Entity, err error) error {
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}

		if ent.MultipartReader() != nil {
			return nil
		}

		if disp, _, dispErr := ent.Header.ContentDisposition(); dispErr == nil && disp == "attachment" {
			return nil
		}

		if mediaTypeOf(ent) != want {
			return nil
		}

		body, readErr := io.ReadAll(ent.Body)
		if readErr != nil {
			return fmt.Errorf("reading %s part: %w", want, readErr)
		}
		parts = append(parts, string(body))
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking message parts: %w", walkErr)
	}

	return parts, nil
}

// JoinParts concatenates text parts in order.
func JoinParts(parts []string) string {
	return strings.Join(parts, partSeparator)
}

// mediaTypeOf returns the lower-cased media type of an entity, with the
// RFC 2045 default of text/plain when the header is absent or invalid.
func mediaTypeOf(ent *message.Entity) string {
	t, _, err := ent.Header.ContentType()
	if err != nil || t == "" {
		return "text/plain"
	}
	return t
}

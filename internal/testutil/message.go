package testutil

import (
	"fmt"
	"strings"
	"time"
)

// MessageDate is the Date header of messages built by PlainMessage and
// HTMLMessage.
var MessageDate = time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC)

// PlainMessage builds a single-part text/plain message.
func PlainMessage(subject, body string) []byte {
	return buildMessage(subject, "text/plain", body)
}

// HTMLMessage builds a single-part text/html message.
func HTMLMessage(subject, body string) []byte {
	return buildMessage(subject, "text/html", body)
}

// AlternativeMessage builds a multipart/alternative message with a
// text/plain and a text/html part.
func AlternativeMessage(subject, text, html string) []byte {
	var sb strings.Builder
	writeHeader(&sb, subject)
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/alternative; boundary=\"b1\"\r\n\r\n")
	sb.WriteString("--b1\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	sb.WriteString(text + "\r\n")
	sb.WriteString("--b1\r\nContent-Type: text/html; charset=utf-8\r\n\r\n")
	sb.WriteString(html + "\r\n")
	sb.WriteString("--b1--\r\n")
	return []byte(sb.String())
}

func buildMessage(subject, contentType, body string) []byte {
	var sb strings.Builder
	writeHeader(&sb, subject)
	fmt.Fprintf(&sb, "Content-Type: %s; charset=utf-8\r\n\r\n", contentType)
	sb.WriteString(body + "\r\n")
	return []byte(sb.String())
}

func writeHeader(sb *strings.Builder, subject string) {
	sb.WriteString("From: Alice <alice@example.org>\r\n")
	sb.WriteString("To: Bob <bob@example.org>\r\n")
	fmt.Fprintf(sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(sb, "Date: %s\r\n", MessageDate.Format(time.RFC1123Z))
	fmt.Fprintf(sb, "Message-ID: <%s@example.org>\r\n", strings.ReplaceAll(strings.ToLower(subject), " ", "-"))
}

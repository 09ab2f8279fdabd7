package email

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"postroom/internal/domain/notification"
	"postroom/internal/infra/template"
)

// envelope is a message with every address parsed.
type envelope struct {
	From    mail.Address
	To      []*mail.Address
	CC      []*mail.Address
	BCC     []*mail.Address
	ReplyTo *mail.Address
}

// recipients returns the RCPT TO list: to, cc and bcc.
func (e *envelope) recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.CC)+len(e.BCC))
	for _, list := range [][]*mail.Address{e.To, e.CC, e.BCC} {
		for _, a := range list {
			out = append(out, a.Address)
		}
	}
	return out
}

// parseEnvelope validates the addresses of msg. defaultFrom is used when the
// message carries no sender of its own.
func parseEnvelope(msg *notification.EmailMessage, defaultFrom mail.Address) (*envelope, error) {
	env := &envelope{From: defaultFrom}

	if msg.From != "" {
		from, err := mail.ParseAddress(msg.From)
		if err != nil {
			return nil, fmt.Errorf("invalid from address %q: %w", msg.From, err)
		}
		env.From = *from
	}
	if env.From.Address == "" {
		return nil, errors.New("no sender address")
	}

	var err error
	if env.To, err = parseAddressList("to", msg.To); err != nil {
		return nil, err
	}
	if env.CC, err = parseAddressList("cc", msg.CC); err != nil {
		return nil, err
	}
	if env.BCC, err = parseAddressList("bcc", msg.BCC); err != nil {
		return nil, err
	}
	if len(env.To)+len(env.CC)+len(env.BCC) == 0 {
		return nil, errors.New("message has no recipients")
	}

	if msg.ReplyTo != "" {
		if env.ReplyTo, err = mail.ParseAddress(msg.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address %q: %w", msg.ReplyTo, err)
		}
	}
	return env, nil
}

func parseAddressList(field string, raw []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		a, err := mail.ParseAddress(r)
		if err != nil {
			return nil, fmt.Errorf("invalid %s address %q: %w", field, r, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// normalizeImportance maps free-form importance values onto low|normal|high.
func normalizeImportance(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high", "urgent":
		return "high"
	case "low", "non-urgent":
		return "low"
	case "normal":
		return "normal"
	}
	return ""
}

// newMessageID returns an RFC 5322 message id in the sender's domain.
func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// composeMIME renders msg as an RFC 5322 message. HTML bodies are sent as
// multipart/alternative with a plain-text rendition; other bodies as text/plain.
func composeMIME(env *envelope, msg *notification.EmailMessage, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	writeHeader := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}

	writeHeader("From", env.From.String())
	if len(env.To) > 0 {
		writeHeader("To", joinAddresses(env.To))
	}
	if len(env.CC) > 0 {
		writeHeader("Cc", joinAddresses(env.CC))
	}
	if env.ReplyTo != nil {
		writeHeader("Reply-To", env.ReplyTo.String())
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", now.Format(time.RFC1123Z))
	writeHeader("Message-ID", messageID)
	if imp := normalizeImportance(msg.Importance); imp != "" {
		writeHeader("Importance", imp)
	}
	writeHeader("MIME-Version", "1.0")

	isHTML := strings.EqualFold(msg.Body.ContentType, notification.EmailBodyContentType)
	if !isHTML {
		writeHeader("Content-Type", `text/plain; charset="utf-8"`)
		writeHeader("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQuotedPrintable(&buf, msg.Body.Content); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{`text/plain; charset="utf-8"`, template.StripHTML(msg.Body.Content)},
		{`text/html; charset="utf-8"`, msg.Body.Content},
	}
	for _, part := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("creating mime part: %w", err)
		}
		if err := writeQuotedPrintable(w, part.content); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing mime message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeQuotedPrintable(w io.Writer, s string) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write([]byte(s)); err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}
	if err := qp.Close(); err != nil {
		return fmt.Errorf("encoding body: %w", err)
	}
	return nil
}

func joinAddresses(list []*mail.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
)

// ErrNoRecipient is returned when a Message has no To address.
var ErrNoRecipient = errors.New("email: no recipient address")

// EmailSender delivers certificate email.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}

// Attachment is a file carried by a Message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a plain-text email with optional attachments.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []Attachment
}

// build converts m into a go-mail message from the given sender. Addresses
// are parsed, so header injection through To or From is rejected.
func (m Message) build(from string) (*mail.Msg, error) {
	to := strings.TrimSpace(m.To)
	if to == "" {
		return nil, ErrNoRecipient
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("email: from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("email: to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)

	for _, a := range m.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		if err := msg.AttachReader(a.Filename, bytes.NewReader(a.Data), mail.WithFileContentType(mail.ContentType(ct))); err != nil {
			return nil, fmt.Errorf("email: attach %s: %w", a.Filename, err)
		}
	}
	return msg, nil
}

// Bytes renders msg as an RFC 5322 message from the given sender. Messages
// with attachments are encoded as multipart/mixed.
func (m Message) Bytes(from string) ([]byte, error) {
	msg, err := m.build(from)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("email: render message: %w", err)
	}
	return buf.Bytes(), nil
}

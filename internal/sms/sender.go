// Package sms delivers short certificate notices by SMS or WhatsApp.
package sms

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoRecipient is returned when a Message has no To number.
	ErrNoRecipient = errors.New("sms: no recipient number")

	// ErrInvalidNumber is returned for numbers that are not E.164.
	ErrInvalidNumber = errors.New("sms: phone number must be in international +<country><number> form")
)

// Channel selects the transport a Message is sent over.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// Message is a text notice to one phone number.
type Message struct {
	To      string
	Body    string
	Channel Channel
}

// Sender delivers text messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// NormalizeNumber strips the separators people type into phone numbers and
// checks the result is E.164.
func NormalizeNumber(s string) (string, error) {
	n := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if n == "" {
		return "", ErrNoRecipient
	}
	if !e164.MatchString(n) {
		return "", ErrInvalidNumber
	}
	return n, nil
}

package sms

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// MessageCreator is the part of the Twilio REST API used to send messages.
// The Api field of a twilio.RestClient satisfies it.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// NewTwilioAPI returns the Twilio messages API for the given account.
func NewTwilioAPI(accountSID, authToken string) MessageCreator {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return client.Api
}

// TwilioSender sends SMS and WhatsApp messages through Twilio.
type TwilioSender struct {
	api    MessageCreator
	from   string
	logger *zap.Logger
}

// NewTwilioSender creates a TwilioSender sending from the given E.164 number.
func NewTwilioSender(api MessageCreator, from string, logger *zap.Logger) *TwilioSender {
	return &TwilioSender{api: api, from: from, logger: logger}
}

// Send delivers msg. WhatsApp numbers are addressed as "whatsapp:+<number>".
func (s *TwilioSender) Send(ctx context.Context, msg Message) error {
	to, err := NormalizeNumber(msg.To)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	from := s.from
	if msg.Channel == ChannelWhatsApp {
		to, from = "whatsapp:"+to, "whatsapp:"+from
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(msg.Body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio: send %s message: %w", channelName(msg.Channel), err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Info("text message queued",
		zap.String("channel", channelName(msg.Channel)),
		zap.String("sid", sid),
	)
	return nil
}

func channelName(c Channel) string {
	if c == "" {
		return string(ChannelSMS)
	}
	return string(c)
}

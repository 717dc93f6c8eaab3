package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSConfig carries the provider credentials, configured once per process,
// and the numeric source address.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// messageCreator is the one Twilio call the sender makes; tests substitute
// a fake so no provider traffic is involved.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMS delivers through the Twilio messaging API. Each record is an
// independent request, so SMS batches may dispatch concurrently.
type SMS struct {
	from string
	api  messageCreator
}

func NewSMS(cfg SMSConfig) (*SMS, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, fmt.Errorf("sms: account sid and auth token are required")
	}
	if strings.TrimSpace(cfg.FromNumber) == "" {
		return nil, fmt.Errorf("sms: from number is required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMS{from: cfg.FromNumber, api: client.Api}, nil
}

// newSMSWithAPI wires a pre-built API client; used by tests.
func newSMSWithAPI(from string, api messageCreator) *SMS {
	return &SMS{from: from, api: api}
}

func (s *SMS) Channel() Channel { return ChannelSMS }

func (s *SMS) DeliverOne(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Validated before the provider call; an empty body is a record fault,
	// not a provider rejection.
	if strings.TrimSpace(msg.Body) == "" {
		return ErrEmptyMessage
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.Address)
	params.SetFrom(s.from)
	params.SetBody(msg.Body)
	if _, err := s.api.CreateMessage(params); err != nil {
		return err
	}
	return nil
}

// Package smssvc sends text messages.
package smssvc

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/trezcool/fieldops/core"
)

// New returns the SMSService selected by conf.SMS.Backend.
func New(conf *core.Config, out *log.Logger) (core.SMSService, error) {
	switch conf.SMS.Backend {
	case "twilio":
		if conf.SMS.AccountSID == "" || conf.SMS.From == "" {
			return nil, errors.New("twilio sms backend requires an account sid and a sender")
		}
		return NewTwilioService(conf.SMS), nil
	case "console", "":
		return NewConsoleService(out), nil
	default:
		return nil, errors.Errorf("unknown sms backend %q", conf.SMS.Backend)
	}
}

type TwilioService struct {
	client *twilio.RestClient
	from   string
}

var _ core.SMSService = (*TwilioService)(nil)

func NewTwilioService(conf core.SMSConfig) *TwilioService {
	return &TwilioService{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: conf.AccountSID,
			Password: conf.AuthToken,
		}),
		from: conf.From,
	}
}

func (svc *TwilioService) Send(ctx context.Context, msg core.SMSMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(svc.from)
	params.SetBody(msg.Body)

	if _, err := svc.client.Api.CreateMessage(params); err != nil {
		return errors.Wrapf(err, "sending sms to %s", msg.To)
	}
	return nil
}

// ConsoleService logs messages instead of sending them.
type ConsoleService struct {
	out *log.Logger // nil disables output

	mu   sync.Mutex
	sent []core.SMSMessage
}

var _ core.SMSService = (*ConsoleService)(nil)

func NewConsoleService(out *log.Logger) *ConsoleService {
	return &ConsoleService{out: out}
}

func (svc *ConsoleService) Send(_ context.Context, msg core.SMSMessage) error {
	if msg.To == "" {
		return errors.New("sms recipient is empty")
	}
	if svc.out != nil {
		svc.out.Printf("SMS to %s: %s", msg.To, msg.Body)
	}
	svc.mu.Lock()
	svc.sent = append(svc.sent, msg)
	svc.mu.Unlock()
	return nil
}

func (svc *ConsoleService) Sent() []core.SMSMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]core.SMSMessage(nil), svc.sent...)
}

package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const sendGridEndpoint = "/v3/mail/send"

type SendGridSender struct {
	apiKey   string
	host     string
	from     string
	fromName string
}

func NewSendGridSender(apiKey, host, from, fromName string) *SendGridSender {
	return &SendGridSender{apiKey: apiKey, host: host, from: from, fromName: fromName}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(s.fromName, s.from)
	to := mail.NewEmail("", msg.To)
	body := mail.GetRequestBody(mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML))

	req := sendgrid.GetRequest(s.apiKey, sendGridEndpoint, s.host)
	req.Method = rest.Post
	req.Body = body
	rsp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if rsp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected message, status:%d, body:%s", rsp.StatusCode, rsp.Body)
	}
	return nil
}

package mailer

import (
	"fmt"
	"html"
	"time"

	"github.com/xxxsen/onboard/internal/model"
)

func subjectFor(flow string) string {
	switch flow {
	case model.FlowReset:
		return "Reset your password"
	case model.FlowFirstLogin:
		return "Confirm your first login"
	}
	return "Verify your email"
}

func minutes(ttl time.Duration) int {
	m := int(ttl / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

// CodeMessage carries a numeric code the user types back in.
func CodeMessage(to, flow, code string, ttl time.Duration) Message {
	text := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes(ttl))
	body := fmt.Sprintf("<p>Your verification code is <strong>%s</strong>.</p><p>It expires in %d minutes.</p>",
		html.EscapeString(code), minutes(ttl))
	return Message{
		To:      to,
		Subject: subjectFor(flow),
		Text:    text,
		HTML:    body,
	}
}

// LinkMessage carries a one-click verification link.
func LinkMessage(to, flow, link string, ttl time.Duration) Message {
	body := fmt.Sprintf(`<p><a href="%s">Click here to continue</a>.</p><p>The link expires in %d minutes.</p>`,
		html.EscapeString(link), minutes(ttl))
	return Message{
		To:      to,
		Subject: subjectFor(flow),
		Text:    fmt.Sprintf("Open %s to continue. The link expires in %d minutes.", link, minutes(ttl)),
		HTML:    body,
	}
}

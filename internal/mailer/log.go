package mailer

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// LogSender writes messages to the log instead of delivering them. Used
// for local development.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (LogSender) Send(ctx context.Context, msg Message) error {
	logutil.GetLogger(ctx).Info("mail not delivered, log provider in use",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}

// Package email delivers verification codes. SESMailer sends through Amazon
// SES; LogMailer writes to the log for development.
package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	dErrors "civic/pkg/domain-errors"
)

const defaultSubject = "Your verification code"

// SESClient is the part of *sesv2.Client the mailer needs.
type SESClient interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESMailer struct {
	client  SESClient
	from    string
	subject string
	logger  *slog.Logger
}

type Option func(*SESMailer)

func WithSubject(subject string) Option {
	return func(m *SESMailer) {
		if subject != "" {
			m.subject = subject
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *SESMailer) {
		m.logger = logger
	}
}

func NewSESMailer(client SESClient, from string, opts ...Option) *SESMailer {
	m := &SESMailer{client: client, from: from, subject: defaultSubject}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SESMailer) SendCode(ctx context.Context, to, code string) error {
	out, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(m.from),
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(m.subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body(code)), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNetwork, "failed to send verification email")
	}
	if m.logger != nil {
		m.logger.DebugContext(ctx, "verification email sent", "message_id", aws.ToString(out.MessageId))
	}
	return nil
}

func body(code string) string {
	return fmt.Sprintf("Your verification code is %s.\n\nIt expires shortly. If you did not request it, ignore this email.\n", code)
}

// LogMailer logs that a code was sent. The code itself is only logged at
// debug level.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendCode(ctx context.Context, to, code string) error {
	m.logger.InfoContext(ctx, "verification code issued", "to", to)
	m.logger.DebugContext(ctx, "verification code", "to", to, "code", code)
	return nil
}

package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESSender sends alerts through SES v2. Each message carries tags for the
// recipient role and session reference so bounces and complaints can be
// traced back to the conversation.
type SESSender struct {
	client sesAPI
	from   From
	logger *logging.Logger
}

var _ AlertSender = (*SESSender)(nil)

func NewSESSender(client sesAPI, from From, logger *logging.Logger) *SESSender {
	if client == nil {
		panic("notify: ses client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SESSender{client: client, from: from.withDefaults(), logger: logger}
}

func (s *SESSender) SendAlert(ctx context.Context, alert Alert) error {
	utf8 := aws.String("UTF-8")
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", s.from.Name, s.from.Email)),
		Destination: &types.Destination{
			ToAddresses: []string{fmt.Sprintf("%s <%s>", alert.Recipient.Name(), alert.Recipient.Address)},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(alert.Subject()), Charset: utf8},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(alert.Text()), Charset: utf8},
					Html: &types.Content{Data: aws.String(alert.HTML()), Charset: utf8},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("kind"), Value: aws.String("escalation")},
			{Name: aws.String("role"), Value: aws.String(tagValue(alert.Recipient.Role))},
			{Name: aws.String("session_ref"), Value: aws.String(tagValue(alert.SessionRef()))},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("notify: ses send: %w", err)
	}
	s.logger.Info("escalation sent via ses", "role", alert.Recipient.Role, "session_ref", alert.SessionRef(), "message_id", aws.ToString(out.MessageId))
	return nil
}

// tagValue keeps the characters SES accepts in tag values.
func tagValue(v string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.', r == '@':
			return r
		default:
			return '_'
		}
	}, v)
	if out == "" {
		return "none"
	}
	return out
}

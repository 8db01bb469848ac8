package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAlert() Alert {
	return Alert{
		Recipient:  Recipient{Role: "counselling", Address: "counsel@uni.edu"},
		SessionID:  "0f3c9a2e-1111-2222-3333-444455556666",
		TurnIndex:  2,
		Message:    "I'm having a <panic> attack",
		Reply:      "You're not alone. Let's breathe together.",
		Handlers:   []string{"motivator"},
		OccurredAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestAlertRendering(t *testing.T) {
	a := sampleAlert()

	assert.Equal(t, "0f3c9a2e", a.SessionRef())
	assert.Equal(t, "Ciro: student may need support (session 0f3c9a2e)", a.Subject())
	assert.Equal(t, "Counselling team", a.Recipient.Name())
	assert.Equal(t, "Residence life team", Recipient{Role: "residence_life"}.Name())
	assert.Equal(t, "Counselling team", Recipient{}.Name())

	text := a.Text()
	assert.True(t, strings.HasPrefix(text, "To the counselling team:"))
	assert.Contains(t, text, "Session: 0f3c9a2e-1111-2222-3333-444455556666")
	assert.Contains(t, text, "Answered by: motivator")
	assert.Contains(t, text, "I'm having a <panic> attack")

	page := a.HTML()
	assert.Contains(t, page, "I&#39;m having a &lt;panic&gt; attack")
	assert.NotContains(t, page, "<panic>")
}

func TestNewSendGridSenderRequiresKey(t *testing.T) {
	_, err := NewSendGridSender(" ", From{Email: "ciro@uni.edu"}, nil)
	assert.ErrorIs(t, err, ErrSenderNotConfigured)

	s, err := NewSendGridSender("SG.test", From{Email: "ciro@uni.edu"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ciro", s.from.Name)
}

func TestSendGridMessageCarriesEscalationShape(t *testing.T) {
	m := sendGridMessage(From{Email: "ciro@uni.edu", Name: "Ciro"}, sampleAlert())

	assert.Equal(t, "ciro@uni.edu", m.From.Address)
	assert.Equal(t, "Ciro: student may need support (session 0f3c9a2e)", m.Subject)
	require.Len(t, m.Personalizations, 1)
	p := m.Personalizations[0]
	require.Len(t, p.To, 1)
	assert.Equal(t, "counsel@uni.edu", p.To[0].Address)
	assert.Equal(t, "Counselling team", p.To[0].Name)
	assert.Equal(t, "0f3c9a2e", p.CustomArgs["session_ref"])
	assert.Equal(t, "counselling", p.CustomArgs["role"])
	assert.Equal(t, []string{"ciro-escalation"}, m.Categories)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "text/plain", m.Content[0].Type)
	assert.Equal(t, "text/html", m.Content[1].Type)
}

func TestStubSenderRecordsAlerts(t *testing.T) {
	s := NewStubSender(nil)
	require.NoError(t, s.SendAlert(context.Background(), sampleAlert()))
	require.Len(t, s.Sent, 1)
	assert.Equal(t, "counsel@uni.edu", s.Sent[0].Recipient.Address)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESSenderSendAlert(t *testing.T) {
	fake := &fakeSES{}
	sender := NewSESSender(fake, From{Email: "ciro@uni.edu"}, nil)

	require.NoError(t, sender.SendAlert(context.Background(), sampleAlert()))

	assert.Equal(t, "Ciro <ciro@uni.edu>", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"Counselling team <counsel@uni.edu>"}, fake.input.Destination.ToAddresses)
	body := fake.input.Content.Simple.Body
	assert.Contains(t, aws.ToString(body.Text.Data), "Ciro replied:")
	assert.Contains(t, aws.ToString(body.Html.Data), "<blockquote>")

	tags := map[string]string{}
	for _, tag := range fake.input.EmailTags {
		tags[aws.ToString(tag.Name)] = aws.ToString(tag.Value)
	}
	assert.Equal(t, map[string]string{"kind": "escalation", "role": "counselling", "session_ref": "0f3c9a2e"}, tags)
}

func TestSESSenderSendError(t *testing.T) {
	boom := errors.New("throttled")
	sender := NewSESSender(&fakeSES{err: boom}, From{Email: "ciro@uni.edu"}, nil)
	assert.ErrorIs(t, sender.SendAlert(context.Background(), sampleAlert()), boom)
}

func TestTagValue(t *testing.T) {
	assert.Equal(t, "residence_life", tagValue("residence life"))
	assert.Equal(t, "a.b-c_d@e", tagValue("a.b-c_d@e"))
	assert.Equal(t, "none", tagValue(""))
}

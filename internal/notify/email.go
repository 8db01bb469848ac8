package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/wolfman30/ciro-tutor/pkg/logging"
)

// ErrSenderNotConfigured is returned by constructors missing credentials.
var ErrSenderNotConfigured = errors.New("notify: sender not configured")

// DefaultRole is the staff role urgent turns go to when none is configured.
const DefaultRole = "counselling"

// Recipient is the staff mailbox that receives an escalation.
type Recipient struct {
	Role    string
	Address string
}

// Name is the display name for the role, e.g. "Counselling team".
func (r Recipient) Name() string {
	role := strings.TrimSpace(strings.ReplaceAll(r.Role, "_", " "))
	if role == "" {
		role = DefaultRole
	}
	return strings.ToUpper(role[:1]) + role[1:] + " team"
}

// Alert is one escalated exchange: the student's urgent message and the
// reply Ciro gave.
type Alert struct {
	Recipient  Recipient
	SessionID  string
	TurnIndex  int
	Message    string
	Reply      string
	Handlers   []string
	OccurredAt time.Time
}

// SessionRef is the short session reference staff quote back.
func (a Alert) SessionRef() string {
	if len(a.SessionID) > 8 {
		return a.SessionID[:8]
	}
	return a.SessionID
}

func (a Alert) Subject() string {
	return fmt.Sprintf("Ciro: student may need support (session %s)", a.SessionRef())
}

func (a Alert) occurred() time.Time {
	if a.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return a.OccurredAt
}

// Text renders the plain-text body.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "To the %s: a student message was flagged as possible distress.\n\n", strings.ToLower(a.Recipient.Name()))
	fmt.Fprintf(&b, "Session: %s\n", a.SessionID)
	fmt.Fprintf(&b, "Turn: %d\n", a.TurnIndex)
	fmt.Fprintf(&b, "Time: %s\n", a.occurred().Format(time.RFC1123))
	if len(a.Handlers) > 0 {
		fmt.Fprintf(&b, "Answered by: %s\n", strings.Join(a.Handlers, ", "))
	}
	fmt.Fprintf(&b, "\nStudent wrote:\n%s\n\n", a.Message)
	fmt.Fprintf(&b, "Ciro replied:\n%s\n", a.Reply)
	return b.String()
}

// HTML renders the same content with student text escaped.
func (a Alert) HTML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<p>To the %s: a student message was flagged as possible distress.</p>", html.EscapeString(strings.ToLower(a.Recipient.Name())))
	fmt.Fprintf(&b, "<p>Session <code>%s</code>, turn %d, %s</p>",
		html.EscapeString(a.SessionID), a.TurnIndex, html.EscapeString(a.occurred().Format(time.RFC1123)))
	fmt.Fprintf(&b, "<h4>Student wrote</h4><blockquote>%s</blockquote>", html.EscapeString(a.Message))
	fmt.Fprintf(&b, "<h4>Ciro replied</h4><blockquote>%s</blockquote>", html.EscapeString(a.Reply))
	return b.String()
}

// AlertSender delivers escalations. SendGrid, SES and the stub implement it.
type AlertSender interface {
	SendAlert(ctx context.Context, alert Alert) error
}

// From is the sender identity the mail transports share.
type From struct {
	Email string
	Name  string
}

func (f From) withDefaults() From {
	if strings.TrimSpace(f.Name) == "" {
		f.Name = "Ciro"
	}
	return f
}

// SendGridSender sends alerts through the SendGrid v3 API.
type SendGridSender struct {
	client *sendgrid.Client
	from   From
	logger *logging.Logger
}

var _ AlertSender = (*SendGridSender)(nil)

// NewSendGridSender needs an API key; without one it returns
// ErrSenderNotConfigured.
func NewSendGridSender(apiKey string, from From, logger *logging.Logger) (*SendGridSender, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: sendgrid api key missing", ErrSenderNotConfigured)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SendGridSender{
		client: sendgrid.NewSendClient(apiKey),
		from:   from.withDefaults(),
		logger: logger,
	}, nil
}

// sendGridMessage tags the mail with the escalation category and the
// session reference so staff can filter the SendGrid activity feed.
func sendGridMessage(from From, alert Alert) *mail.SGMailV3 {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(from.Name, from.Email))
	m.Subject = alert.Subject()

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(alert.Recipient.Name(), alert.Recipient.Address))
	p.SetCustomArg("session_ref", alert.SessionRef())
	p.SetCustomArg("role", alert.Recipient.Role)
	m.AddPersonalizations(p)

	m.AddContent(mail.NewContent("text/plain", alert.Text()), mail.NewContent("text/html", alert.HTML()))
	m.AddCategories("ciro-escalation")
	return m
}

func (s *SendGridSender) SendAlert(ctx context.Context, alert Alert) error {
	resp, err := s.client.SendWithContext(ctx, sendGridMessage(s.from, alert))
	if err != nil {
		return fmt.Errorf("notify: sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		s.logger.Error("sendgrid rejected escalation", "status", resp.StatusCode, "body", resp.Body, "session_ref", alert.SessionRef())
		return fmt.Errorf("notify: sendgrid returned status %d", resp.StatusCode)
	}
	s.logger.Info("escalation sent via sendgrid", "role", alert.Recipient.Role, "session_ref", alert.SessionRef())
	return nil
}

// StubSender logs instead of sending and keeps what it would have
// delivered.
type StubSender struct {
	logger *logging.Logger

	mu   sync.Mutex
	Sent []Alert
}

var _ AlertSender = (*StubSender)(nil)

func NewStubSender(logger *logging.Logger) *StubSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSender{logger: logger}
}

func (s *StubSender) SendAlert(ctx context.Context, alert Alert) error {
	s.mu.Lock()
	s.Sent = append(s.Sent, alert)
	s.mu.Unlock()
	s.logger.Info("stub sender: escalation not delivered", "role", alert.Recipient.Role, "session_ref", alert.SessionRef())
	return nil
}

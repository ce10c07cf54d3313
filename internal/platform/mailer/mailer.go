// Package mailer provides outbound email delivery with template rendering.
// Delivery failures are reported to the caller but never block the business
// operation that triggered them.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Sender is the interface for delivering email messages.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogSender writes outbound mail to the structured log instead of delivering
// it. Used in development and as a fallback when no SMTP relay is configured.
type LogSender struct {
	logger zerolog.Logger
	from   string
}

func NewLogSender(logger zerolog.Logger, from string) *LogSender {
	return &LogSender{logger: logger, from: from}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("from", s.from).
		Str("to", to).
		Str("subject", subject).
		Str("body", body).
		Msg("email")
	return nil
}

// Template defines a reusable email template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine manages email templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "appointment-confirmed",
			Subject: "Appointment Confirmed",
			Body:    "Dear {{patient_name}}, your appointment with Dr. {{doctor_name}} on {{date}} at {{time}} has been booked.",
		},
		{
			ID:      "appointment-cancelled",
			Subject: "Appointment Cancelled",
			Body:    "Dear {{patient_name}}, your appointment with Dr. {{doctor_name}} on {{date}} at {{time}} has been cancelled. Reason: {{reason}}.",
		},
		{
			ID:      "appointment-rescheduled",
			Subject: "Appointment Rescheduled",
			Body:    "Dear {{patient_name}}, your appointment with Dr. {{doctor_name}} has been moved to {{date}} at {{time}}.",
		},
		{
			ID:      "leave-approved",
			Subject: "Leave Request Approved",
			Body:    "Dear Dr. {{doctor_name}}, your {{leave_type}} leave from {{start_date}} to {{end_date}} has been approved.",
		},
		{
			ID:      "leave-rejected",
			Subject: "Leave Request Rejected",
			Body:    "Dear Dr. {{doctor_name}}, your {{leave_type}} leave from {{start_date}} to {{end_date}} was rejected. Reason: {{reason}}.",
		},
		{
			ID:      "doctor-blocked",
			Subject: "Account Suspended",
			Body:    "Dear Dr. {{doctor_name}}, your account has been suspended. Reason: {{reason}}. Contact administration for details.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// Mailer renders templates and hands the result to a Sender.
type Mailer struct {
	sender    Sender
	templates *TemplateEngine
}

func New(sender Sender, templates *TemplateEngine) *Mailer {
	return &Mailer{sender: sender, templates: templates}
}

// SendTemplate renders the named template and delivers it to the recipient.
func (m *Mailer) SendTemplate(ctx context.Context, templateID, to string, data map[string]string) error {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := m.sender.SendEmail(ctx, to, subject, body); err != nil {
		return fmt.Errorf("send %s to %s: %w", templateID, to, err)
	}
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockSender is a test double for Sender.
type MockSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

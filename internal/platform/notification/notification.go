// Package notification renders learner notifications from templates and
// delivers them by email with retries, keeping a record of every send.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Channel string

const ChannelEmail Channel = "email"

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// Notification is a single outbound message and its delivery state.
type Notification struct {
	ID         string            `json:"id"`
	Channel    Channel           `json:"channel"`
	Recipient  string            `json:"recipient"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	TemplateID string            `json:"template_id,omitempty"`
	Status     string            `json:"status"`
	Attempts   int               `json:"attempts"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	SentAt     *time.Time        `json:"sent_at,omitempty"`
}

// EmailSender delivers a rendered email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogSender writes emails to the log instead of delivering them. It is the
// sender used when no mail provider is configured.
type LogSender struct {
	From   string
	Logger zerolog.Logger
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("from", s.From).
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email not delivered: no mail provider configured")
	return nil
}

var (
	ErrNotFound  = errors.New("notification not found")
	ErrNotFailed = errors.New("notification is not in failed status")
)

// RetryPolicy controls how often a failed send is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // multiplied by the attempt number
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}
}

// Manager sends notifications and keeps them in memory for inspection.
type Manager struct {
	email     EmailSender
	templates *TemplateEngine
	retry     RetryPolicy
	logger    zerolog.Logger

	mu            sync.RWMutex
	notifications map[string]*Notification
}

func NewManager(email EmailSender, templates *TemplateEngine, retry RetryPolicy, logger zerolog.Logger) *Manager {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Manager{
		email:         email,
		templates:     templates,
		retry:         retry,
		logger:        logger,
		notifications: make(map[string]*Notification),
	}
}

// Send delivers n, retrying per the retry policy, and records the outcome.
// The returned error is the last delivery error.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Channel == "" {
		n.Channel = ChannelEmail
	}
	n.CreatedAt = time.Now().UTC()
	n.Status = StatusPending

	m.mu.Lock()
	m.notifications[n.ID] = n
	m.mu.Unlock()

	return m.deliver(ctx, n)
}

func (m *Manager) deliver(ctx context.Context, n *Notification) error {
	var err error
	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				m.finish(n, attempt-1, err)
				return err
			case <-time.After(m.retry.Backoff * time.Duration(attempt-1)):
			}
		}

		err = m.sendOnce(ctx, n)
		if err == nil {
			m.finish(n, attempt, nil)
			return nil
		}
		m.logger.Warn().Err(err).
			Str("notification_id", n.ID).
			Int("attempt", attempt).
			Msg("notification delivery failed")
	}
	m.finish(n, m.retry.MaxAttempts, err)
	return err
}

func (m *Manager) sendOnce(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	default:
		return fmt.Errorf("unsupported notification channel: %s", n.Channel)
	}
}

func (m *Manager) finish(n *Notification, attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.Attempts += attempts
	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
		return
	}
	now := time.Now().UTC()
	n.Status = StatusSent
	n.Error = ""
	n.SentAt = &now
}

// SendFromTemplate renders templateID with data and sends the result.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID, recipient string, data interface{}) (*Notification, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Channel:    ChannelEmail,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
	}
	return n, m.Send(ctx, n)
}

// Get returns a copy of the notification with the given id.
func (m *Manager) Get(id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	cp := *n
	return &cp, nil
}

// ListByRecipient returns up to limit notifications for recipient, newest first.
func (m *Manager) ListByRecipient(recipient string, limit int) []*Notification {
	m.mu.RLock()
	var out []*Notification
	for _, n := range m.notifications {
		if n.Recipient == recipient {
			cp := *n
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	status := ""
	if ok {
		status = n.Status
	}
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if status != StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, status)
	}
	return m.deliver(ctx, n)
}

// Stats counts notifications by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// NotifyQuizResult emails a learner their standard quiz outcome.
func (m *Manager) NotifyQuizResult(ctx context.Context, recipient string, r QuizResult) error {
	_, err := m.SendFromTemplate(ctx, TemplateQuizResult, recipient, r)
	return err
}

// NotifyInsightProfile emails a learner that their colour profile is ready.
func (m *Manager) NotifyInsightProfile(ctx context.Context, recipient string, r InsightResult) error {
	_, err := m.SendFromTemplate(ctx, TemplateInsightProfile, recipient, r)
	return err
}

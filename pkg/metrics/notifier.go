package metrics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/slack-go/slack"
)

// Severity is the notifier's escalation level, derived from the
// triggering error class and retry_count (spec.md §4.11).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// Notification is one event handed to every registered channel handler
// at or above its threshold.
type Notification struct {
	Severity   Severity
	Title      string
	Message    string
	MessageID  string
	MessageType string
	ErrorClass string
	RetryCount int
	Occurred   time.Time
}

// DeriveSeverity classifies a failure by error class and retry count:
// exhausted retries (dead-lettered) or a permanent/non-retryable class is
// critical, a retry in progress is a warning, anything else is info.
func DeriveSeverity(errorClass string, retryCount int, deadLettered bool) Severity {
	if deadLettered {
		return SeverityCritical
	}
	if retryCount > 0 {
		return SeverityWarning
	}
	return SeverityInfo
}

// Channel delivers a Notification. Implementations must treat delivery
// failures as non-fatal to the caller — Notifier.Notify already isolates
// each channel, but a Channel should not panic or block indefinitely.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier fans a Notification out to every registered channel at or
// above its configured severity threshold. Each channel dispatch is
// best-effort: a failing channel is logged and does not block, or fail,
// delivery to the others (spec.md §4.11).
type Notifier struct {
	channels  map[string]registeredChannel
	log       LoggerFn
}

type registeredChannel struct {
	channel   Channel
	threshold Severity
}

// NewNotifier builds an empty Notifier.
func NewNotifier(log LoggerFn) *Notifier {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &Notifier{channels: map[string]registeredChannel{}, log: log}
}

// Register adds a channel, delivering only notifications at or above
// threshold to it.
func (n *Notifier) Register(c Channel, threshold Severity) {
	n.channels[c.Name()] = registeredChannel{channel: c, threshold: threshold}
}

// Unregister removes a previously registered channel by name.
func (n *Notifier) Unregister(name string) {
	delete(n.channels, name)
}

// Notify delivers note to every channel whose threshold note.Severity
// meets. Each channel's Send runs independently; a failing channel is
// logged and never aborts delivery to the rest.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	for _, rc := range n.channels {
		if note.Severity < rc.threshold {
			continue
		}
		if err := rc.channel.Send(ctx, note); err != nil {
			n.log("warn", "notifier_channel_failed", map[string]any{
				"channel": rc.channel.Name(), "error": err.Error(),
			})
		}
	}
}

// LogChannel emits notifications through the module-wide LoggerFn
// convention rather than an external system.
type LogChannel struct {
	log LoggerFn
}

// NewLogChannel builds a LogChannel writing via log.
func NewLogChannel(log LoggerFn) *LogChannel {
	if log == nil {
		log = func(string, string, map[string]any) {}
	}
	return &LogChannel{log: log}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(_ context.Context, n Notification) error {
	level := "info"
	if n.Severity == SeverityWarning {
		level = "warn"
	} else if n.Severity == SeverityCritical {
		level = "error"
	}
	c.log(level, n.Title, map[string]any{
		"message": n.Message, "message_id": n.MessageID, "message_type": n.MessageType,
		"error_class": n.ErrorClass, "retry_count": n.RetryCount, "severity": n.Severity.String(),
	})
	return nil
}

// WebhookChannel POSTs a JSON payload to a generic HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a WebhookChannel posting to url.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("webhook: encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SlackChannel posts notifications to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
}

// NewSlackChannel builds a SlackChannel posting to a Slack incoming
// webhook URL.
func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(_ context.Context, n Notification) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("[%s] %s: %s (type=%s retry=%d)", n.Severity, n.Title, n.Message, n.MessageType, n.RetryCount),
	}
	return slack.PostWebhook(c.webhookURL, msg)
}

// EmailChannel sends notifications via SMTP.
type EmailChannel struct {
	addr     string
	auth     smtp.Auth
	from     string
	to       []string
}

// NewEmailChannel builds an EmailChannel delivering through the SMTP
// server at addr.
func NewEmailChannel(addr string, auth smtp.Auth, from string, to []string) *EmailChannel {
	return &EmailChannel{addr: addr, auth: auth, from: from, to: to}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Send(_ context.Context, n Notification) error {
	subject := fmt.Sprintf("Subject: [%s] %s\r\n", n.Severity, n.Title)
	body := fmt.Sprintf("%s\r\n\r\nmessage_id: %s\nmessage_type: %s\nerror_class: %s\nretry_count: %d\n",
		n.Message, n.MessageID, n.MessageType, n.ErrorClass, n.RetryCount)
	msg := []byte(subject + "\r\n" + body)
	return smtp.SendMail(c.addr, c.auth, c.from, c.to, msg)
}

// CustomChannel wraps a caller-supplied send function, for integrations
// the messenger has no built-in channel for.
type CustomChannel struct {
	name string
	fn   func(ctx context.Context, n Notification) error
}

// NewCustomChannel builds a Channel named name delegating to fn.
func NewCustomChannel(name string, fn func(ctx context.Context, n Notification) error) *CustomChannel {
	return &CustomChannel{name: name, fn: fn}
}

func (c *CustomChannel) Name() string { return c.name }

func (c *CustomChannel) Send(ctx context.Context, n Notification) error { return c.fn(ctx, n) }

package outbox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crewline/crewline/config"
	"github.com/crewline/crewline/errors"
	"github.com/crewline/crewline/internal/httpclient"
	"github.com/crewline/crewline/logger"
	"github.com/crewline/crewline/version"
)

// Sender delivers one notification to a tenant webhook URL
type Sender interface {
	Send(ctx context.Context, n *Notification, webhookURL string) error
}

// envelope is the JSON body a webhook endpoint receives
type envelope struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	TenantID  string          `json:"tenant_id"`
	SubjectID string          `json:"subject_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// WebhookSender POSTs notifications to tenant webhooks. Tenant URLs
// are untrusted input, so requests go through the SSRF-hardened
// client. With a signing secret configured, each request carries an
// HMAC-SHA256 signature of the body so receivers can verify origin.
type WebhookSender struct {
	client        *httpclient.SaferClient
	signingSecret string
}

// NewWebhookSender creates a sender from the outbox configuration
func NewWebhookSender(cfg config.OutboxConfig) *WebhookSender {
	timeout := time.Duration(cfg.WebhookTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSender{
		client:        httpclient.New(timeout),
		signingSecret: cfg.SigningSecret,
	}
}

// NewWebhookSenderWithClient creates a sender over a prepared client.
// Tests use this with httpclient.WrapClient to reach httptest servers.
func NewWebhookSenderWithClient(client *httpclient.SaferClient, signingSecret string) *WebhookSender {
	return &WebhookSender{client: client, signingSecret: signingSecret}
}

// Send delivers the notification. Any response outside 2xx is an error.
func (s *WebhookSender) Send(ctx context.Context, n *Notification, webhookURL string) error {
	body, err := json.Marshal(envelope{
		ID:        n.ID,
		Kind:      n.Kind,
		TenantID:  n.TenantID,
		SubjectID: n.SubjectID,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal notification %s", n.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "failed to build webhook request for %s", n.ID)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "crewline/"+version.Version)
	req.Header.Set("X-Crewline-Event", n.Kind)
	req.Header.Set("X-Crewline-Delivery", n.ID)
	if s.signingSecret != "" {
		mac := hmac.New(sha256.New, []byte(s.signingSecret))
		mac.Write(body)
		req.Header.Set("X-Crewline-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "failed to deliver %s notification %s", n.Kind, n.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		deliveryErr := errors.Newf("webhook returned status %d", resp.StatusCode)
		if len(snippet) > 0 {
			deliveryErr = errors.WithDetail(deliveryErr, string(snippet))
		}
		return deliveryErr
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// LogSender records deliveries in the log instead of sending them.
// serve falls back to it when webhook delivery is disabled.
type LogSender struct {
	log *zap.SugaredLogger
}

// NewLogSender creates a log-only sender
func NewLogSender(log *zap.SugaredLogger) *LogSender {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &LogSender{log: log}
}

// Send logs the delivery and reports success
func (s *LogSender) Send(_ context.Context, n *Notification, webhookURL string) error {
	s.log.Infow("Notification delivery (log only)",
		logger.FieldTenantID, n.TenantID,
		"kind", n.Kind,
		"subject_id", n.SubjectID,
		"webhook_url", webhookURL,
	)
	return nil
}

// Package channel implements the client for the external messaging provider
// that delivers WhatsApp, SMS, and email notifications.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rollwatch/rollwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// APIError carries the provider's HTTP failure details.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("channel API error: status %d: %s", e.Status, e.Body)
}

// Sender is the capability the notifier consumes.
type Sender interface {
	// Send delivers one message and returns the provider message id.
	Send(ctx context.Context, ch models.Channel, target, message string) (string, error)
}

// Client talks to the messaging provider. A bearer token is held across
// sends: seeded from a static API key when configured, otherwise acquired
// via the provider's login endpoints. The mutex guards the token because
// sends may run from concurrent notifier and test goroutines.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	username   string
	password   string
	logger     *logrus.Logger

	mu    sync.Mutex
	token string
}

// Ensure Client implements Sender at compile time.
var _ Sender = (*Client)(nil)

// NewClient creates a channel client. apiKey takes precedence over the
// username/password login flow.
func NewClient(baseURL, apiKey, username, password string, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		username:   username,
		password:   password,
		logger:     logger,
		token:      apiKey,
	}
}

// endpointsFor lists the endpoint variants to try in order for a channel.
// Providers have shuffled these paths across versions; the fallback keeps
// older deployments working.
func endpointsFor(ch models.Channel) []string {
	switch ch {
	case models.ChannelWhatsApp:
		return []string{"/api/v1/whatsapp/send", "/api/whatsapp/send"}
	case models.ChannelSMS:
		return []string{"/api/v1/sms/send", "/api/sms/send"}
	case models.ChannelEmail:
		return []string{"/api/v1/email/send", "/api/email/send"}
	default:
		return nil
	}
}

// Send delivers one message through the channel's endpoint variants.
// 401 re-authenticates once and retries the same endpoint; 400/404/415 move
// to the next variant; anything else fails the send.
func (c *Client) Send(ctx context.Context, ch models.Channel, target, message string) (string, error) {
	endpoints := endpointsFor(ch)
	if len(endpoints) == 0 {
		return "", fmt.Errorf("unsupported channel %q", ch)
	}

	if ch == models.ChannelWhatsApp || ch == models.ChannelSMS {
		target = digitsOnly(target)
	}
	if target == "" {
		return "", fmt.Errorf("no delivery target for channel %s", ch)
	}

	body := map[string]string{
		"to":      target,
		"message": message,
	}

	var lastErr error
	for _, endpoint := range endpoints {
		msgID, err := c.post(ctx, endpoint, body, true)
		if err == nil {
			return msgID, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case http.StatusBadRequest, http.StatusNotFound, http.StatusUnsupportedMediaType:
				c.logger.WithFields(logrus.Fields{
					"endpoint": endpoint,
					"status":   apiErr.Status,
				}).Debug("Endpoint variant rejected, trying next")
				continue
			}
		}
		break
	}
	return "", lastErr
}

// post sends one authenticated request; on 401 it re-authenticates once.
func (c *Client) post(ctx context.Context, endpoint string, body map[string]string,
	allowReauth bool) (string, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized && allowReauth && c.apiKey == "" {
		c.invalidateToken()
		return c.post(ctx, endpoint, body, false)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	return extractMessageID(data), nil
}

// ensureToken returns the current bearer token, acquiring one via the login
// endpoints when none is held.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	if c.username == "" || c.password == "" {
		return "", fmt.Errorf("channel client has no API key and no login credentials")
	}

	var lastErr error
	for _, endpoint := range []string{"/client-login", "/login"} {
		token, err := c.login(ctx, endpoint)
		if err == nil {
			c.token = token
			return token, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("channel login failed: %w", lastErr)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.apiKey == "" {
		c.token = ""
	}
}

func (c *Client) login(ctx context.Context, endpoint string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}
	for _, key := range []string{"token", "access_token", "jwt"} {
		if v, ok := parsed[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("login response carried no token")
}

// extractMessageID pulls the provider message id from whichever
// vendor-specific key is present.
func extractMessageID(data []byte) string {
	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return ""
	}
	for _, key := range []string{"message_id", "id", "externalId", "messageId"} {
		switch v := parsed[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

// digitsOnly strips everything but digits from a phone number.
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

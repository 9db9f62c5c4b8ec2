// Package sender delivers signed events to a webhook receiver, the way the
// IoT platform pushes them.
package sender

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"iothook/internal/security"

	"github.com/google/uuid"
)

// HeaderAPIKey carries the optional platform API key.
const HeaderAPIKey = "X-Api-Key"

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 5
)

// DefaultBackoff is the wait before each retry. The last entry repeats.
var DefaultBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
}

// ErrUnexpectedStatus is returned when the receiver still answers 5xx after
// the last retry.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Event is the standard event envelope.
type Event struct {
	EventID     string         `json:"event_id"`
	EventType   string         `json:"event_type"`
	DevicePhyID string         `json:"device_phy_id"`
	Timestamp   int64          `json:"timestamp"`
	Nonce       string         `json:"nonce"`
	Data        map[string]any `json:"data"`
}

// Response is the receiver's final answer.
type Response struct {
	StatusCode int
	Body       []byte
	Attempts   int
}

// Sender signs and posts events. The zero value is not usable; use New.
type Sender struct {
	Client  *http.Client
	APIKey  string // sent as X-Api-Key when set
	Secret  string
	Retries int
	Backoff []time.Duration
	Logger  *slog.Logger

	// Now and Nonce supply signing material; tests pin them.
	Now   func() time.Time
	Nonce func() string
}

// New creates a sender with the default timeout, retries and backoff.
func New(client *http.Client, apiKey, secret string) *Sender {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Sender{
		Client:  client,
		APIKey:  apiKey,
		Secret:  secret,
		Retries: DefaultRetries,
		Backoff: DefaultBackoff,
		Logger:  slog.Default(),
		Now:     time.Now,
		Nonce:   RandomNonce,
	}
}

// NewEvent builds an event with a fresh id, timestamp and nonce.
func (s *Sender) NewEvent(eventType, devicePhyID string, data map[string]any) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		EventID:     fmt.Sprintf("%s-%s-%s", eventType, devicePhyID, uuid.NewString()),
		EventType:   eventType,
		DevicePhyID: devicePhyID,
		Timestamp:   s.Now().Unix(),
		Nonce:       s.Nonce(),
		Data:        data,
	}
}

// Send posts e to endpoint.
func (s *Sender) Send(ctx context.Context, endpoint string, e Event) (*Response, error) {
	return s.SendJSON(ctx, endpoint, e)
}

// SendJSON marshals payload, signs it and POSTs it to endpoint.
//
// Network errors and 5xx answers are retried up to Retries times, waiting
// Backoff between attempts. Any other status is returned as is. Every attempt
// carries the same signature.
func (s *Sender) SendJSON(ctx context.Context, endpoint string, payload any) (*Response, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	timestamp := strconv.FormatInt(s.Now().Unix(), 10)
	nonce := s.Nonce()
	signature := security.Sign(s.Secret, strings.ToUpper(http.MethodPost), path, timestamp, nonce, body)

	var (
		resp    *Response
		lastErr error
	)
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			wait := s.Backoff[min(attempt-1, len(s.Backoff)-1)]
			s.Logger.Debug("Retrying webhook delivery", "endpoint", endpoint, "attempt", attempt, "backoff", wait)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(security.HeaderSignature, signature)
		req.Header.Set(security.HeaderTimestamp, timestamp)
		req.Header.Set(security.HeaderNonce, nonce)
		if s.APIKey != "" {
			req.Header.Set(HeaderAPIKey, s.APIKey)
		}

		resp, lastErr = s.do(req)
		if lastErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		resp.Attempts = attempt + 1
		if resp.StatusCode < 500 {
			return resp, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("delivery failed after %d attempts: %w", s.Retries+1, lastErr)
	}
	return resp, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
}

func (s *Sender) do(req *http.Request) (*Response, error) {
	httpResp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: httpResp.StatusCode, Body: body}, nil
}

// RandomNonce returns 8 random hex characters.
func RandomNonce() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

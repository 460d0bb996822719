package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	SignatureHeader = "X-Payflow-Signature"
	userAgent       = "Payflow-Webhook/1.0"
)

// Sender posts webhook payloads to merchant endpoints. Each destination host
// gets its own circuit breaker so one failing merchant does not slow the
// others down.
type Sender struct {
	client *http.Client
	secret []byte
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings gobreaker.Settings
}

type SenderOption func(*Sender)

func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) { s.client = c }
}

// WithBreaker overrides how many consecutive failures open a breaker and how
// long it stays open.
func WithBreaker(consecutiveFailures uint32, openFor time.Duration) SenderOption {
	return func(s *Sender) {
		s.settings.Timeout = openFor
		s.settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		}
	}
}

func NewSender(secret string, logger *zap.Logger, opts ...SenderOption) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sender{
		// Don't let slow merchants block the worker.
		client:   &http.Client{Timeout: 5 * time.Second},
		secret:   []byte(secret),
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.settings.OnStateChange = func(name string, from, to gobreaker.State) {
		s.logger.Warn("webhook circuit breaker changed state",
			zap.String("host", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return s
}

// Send posts payload, which must already be JSON, to target.
func (s *Sender) Send(ctx context.Context, target string, payload []byte) error {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", target)
	}

	_, err = s.breaker(u.Host).Execute(func() (any, error) {
		return nil, s.post(ctx, target, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("merchant %s is currently unavailable: %w", u.Host, err)
	}
	return err
}

func (s *Sender) post(ctx context.Context, target string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("merchant server returned error: %d", resp.StatusCode)
}

func (s *Sender) breaker(host string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[host]; ok {
		return b
	}
	settings := s.settings
	settings.Name = host
	b := gobreaker.NewCircuitBreaker(settings)
	s.breakers[host] = b
	return b
}

// Sign returns the signature header value for payload: "sha256=" followed by
// the hex HMAC-SHA256 of the body.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func Verify(secret, payload []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, payload)), []byte(signature))
}

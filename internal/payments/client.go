package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single cancellation call.
const DefaultTimeout = 30 * time.Second

const cancelPath = "/api/v1/payments/{paymentID}/cancel"

// Outcome is the classified result of one cancellation attempt.
type Outcome struct {
	Success bool
	// Detail explains a failure. Empty on success.
	Detail string
}

// Failure builds a failed outcome.
func Failure(detail string) Outcome {
	if detail == "" {
		detail = "unknown error"
	}
	return Outcome{Detail: detail}
}

// Canceler cancels one payment on the remote payment system.
type Canceler interface {
	Cancel(ctx context.Context, paymentID string) Outcome
}

// ClientConfig configures the remote cancellation API.
type ClientConfig struct {
	BaseURL  string
	Login    string
	Password string
	// Token switches authentication from basic credentials to a bearer token.
	Token   string
	Timeout time.Duration
}

// Client calls the payment system's cancel endpoint. It never retries.
type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

// NewClient returns a Client for cfg.
func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		rc.SetAuthToken(cfg.Token)
	} else {
		rc.SetBasicAuth(cfg.Login, cfg.Password)
	}
	return &Client{
		http: rc,
		log:  log.With().Str("component", "payments_client").Logger(),
	}
}

// Cancel posts a cancel request for paymentID and classifies the result.
// Only HTTP 200 counts as success.
func (c *Client) Cancel(ctx context.Context, paymentID string) Outcome {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("paymentID", paymentID).
		Post(cancelPath)
	if err != nil {
		if isTimeout(err) {
			c.log.Error().Str("payment_id", paymentID).Msg("cancel request timed out")
			return Failure("timeout")
		}
		c.log.Error().Err(err).Str("payment_id", paymentID).Msg("cancel request failed")
		return Failure(err.Error())
	}
	if resp.StatusCode() == http.StatusOK {
		c.log.Info().Str("payment_id", paymentID).Msg("payment canceled")
		return Outcome{Success: true}
	}
	detail := fmt.Sprintf("API returned status %d: %s", resp.StatusCode(), compactBody(resp.Body()))
	c.log.Error().Str("payment_id", paymentID).Str("detail", detail).Msg("cancel rejected")
	return Failure(detail)
}

// compactBody renders JSON bodies on one line and leaves anything else as text.
func compactBody(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.String()
	}
	return strings.TrimSpace(string(body))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Package checkoutapi is the HTTP client for the remote checkout service:
// session creation, payment status polling and the paid notification.
package checkoutapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"

	"storefront/internal/adapter"
	"storefront/internal/model"
)

const (
	pathCheckout       = "/checkout"
	pathPaymentStatus  = "/payment-status"
	pathPaymentSuccess = "/payment-success"

	userAgent = "Storefront/1.0"

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 1 << 20
)

// Config configures the client.
type Config struct {
	BaseURL     string        // e.g. https://api.example.com/prod
	APIKey      string        // optional, sent as X-Api-Key
	PollTimeout time.Duration // bound on a single status poll
	Transport   http.RoundTripper
	Timeout     time.Duration // overall request timeout for session creation
}

// Client talks to the remote checkout service. It never retries.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewClient creates a checkout service client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfg.Transport,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		pollTimeout: pollTimeout,
		logger:      logger,
	}
}

// === Session Creation ===

// CreateSession issues POST /checkout once.
func (c *Client) CreateSession(ctx context.Context, body *model.SessionRequest) (*model.Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, pathCheckout, nil, body)
	if err != nil {
		return nil, fmt.Errorf("creating checkout request: %w", err)
	}
	key, err := idempotencyKey(body.ClientID)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Idempotency-Key", key)

	var session model.Session
	if err := c.do(req, "create session", &session); err != nil {
		return nil, err
	}

	// Untrusted until it passes the format check.
	if err := model.ValidateClientSecret(session.ClientSecret); err != nil {
		return nil, err
	}
	if session.JobID == "" || session.OrderID == "" {
		return nil, model.NewProtocolError(errors.New("session response missing jobId or orderId"))
	}
	if session.ClientID == "" {
		session.ClientID = body.ClientID
	}

	c.logger.Info("checkout session created",
		"job_id", session.JobID,
		"order_id", session.OrderID,
		"client_id", session.ClientID,
	)
	return &session, nil
}

// === Status Polling ===

// PollStatus issues GET /payment-status once, bounded by the poll timeout.
func (c *Client) PollStatus(ctx context.Context, clientID, orderID string) (model.PaymentStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	query := url.Values{}
	query.Set("clientId", clientID)
	query.Set("orderId", orderID)

	req, err := c.newRequest(ctx, http.MethodGet, pathPaymentStatus, query, nil)
	if err != nil {
		return model.PaymentUnknown, fmt.Errorf("creating status request: %w", err)
	}

	var resp model.StatusResponse
	if err := c.do(req, "payment status", &resp); err != nil {
		var ce *model.CheckoutError
		if errors.As(err, &ce) && errors.Is(err, model.ErrAPI) &&
			(ce.StatusCode == http.StatusUnauthorized || ce.StatusCode == http.StatusForbidden) {
			return model.PaymentUnknown, model.NewAuthorizationError(ce.StatusCode)
		}
		return model.PaymentUnknown, err
	}

	status := ClassifyStatus(resp)
	c.logger.Debug("payment status polled",
		"order_id", orderID,
		"remote_status", resp.Status,
		"status", status,
	)
	return status, nil
}

// ClassifyStatus maps a status response to a PaymentStatus.
//
// The service reports success=true once the payment is complete or the bank
// has accepted it for processing; both settle the checkout for this client.
// Expired orders are the cleanup job's verdict on abandoned payments.
func ClassifyStatus(resp model.StatusResponse) model.PaymentStatus {
	if resp.Success {
		return model.PaymentPaid
	}
	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "PAYMENT_COMPLETE", "PROCESSING", "PAID", "SUCCEEDED":
		return model.PaymentPaid
	case "FAILED", "PAYMENT_FAILED", "CANCELED", "CANCELLED", "EXPIRED":
		return model.PaymentFailed
	case "PENDING", "":
		return model.PaymentPending
	default:
		return model.PaymentUnknown
	}
}

// === Paid Notification ===

// NotifyPaid issues POST /payment-success once.
func (c *Client) NotifyPaid(ctx context.Context, job model.CheckoutJob) error {
	body := &model.PaidNotice{OrderID: job.OrderID, JobID: job.JobID, ClientID: job.ClientID}
	req, err := c.newRequest(ctx, http.MethodPost, pathPaymentSuccess, nil, body)
	if err != nil {
		return fmt.Errorf("creating payment-success request: %w", err)
	}
	return c.do(req, "payment success", nil)
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	return req, nil
}

// do executes the request and decodes the response into result.
// op names the operation in NetworkError messages.
func (c *Client) do(req *http.Request, op string, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return model.NewNetworkError(op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, body)
	}

	if result == nil {
		return nil
	}
	if len(body) == 0 {
		return model.NewProtocolError(errors.New("empty response body"))
	}
	if err := json.Unmarshal(body, result); err != nil {
		return model.NewProtocolError(fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

// parseError converts a non-2xx response into an APIError carrying the
// server-provided message verbatim.
func parseError(statusCode int, body []byte) error {
	var errResp model.ErrorResponse
	json.Unmarshal(body, &errResp) // Best effort parse

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Error
	}
	return model.NewAPIError(statusCode, msg)
}

// idempotencyKey returns a fresh Idempotency-Key header value of the form
// "<clientID>:<uuid>", serialized as an RFC 8941 string item.
func idempotencyKey(clientID string) (string, error) {
	raw := uuid.NewString()
	if clientID != "" {
		raw = clientID + ":" + raw
	}
	key, err := httpsfv.Marshal(httpsfv.NewItem(raw))
	if err != nil {
		return "", fmt.Errorf("encoding idempotency key: %w", err)
	}
	return key, nil
}

var _ adapter.Gateway = (*Client)(nil)

package checkoutapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/model"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "key_123", PollTimeout: 200 * time.Millisecond}, logger)
}

func sessionRequest() *model.SessionRequest {
	return &model.SessionRequest{
		Items: model.NewSessionItems([]model.LineItem{
			{ProductID: 1, Name: "Poster", UnitPrice: decimal.RequireFromString("10.05"), Quantity: 2},
		}),
		CustomerEmail: "shopper@example.com",
		ClientID:      "client_abc",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCreateSession_Success(t *testing.T) {
	var got model.SessionRequest
	var idemKey, apiKey string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/checkout" {
			t.Errorf("request = %s %s, want POST /checkout", r.Method, r.URL.Path)
		}
		idemKey = r.Header.Get("Idempotency-Key")
		apiKey = r.Header.Get("X-Api-Key")
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]string{
			"jobId":        "job_1",
			"orderId":      "order_1",
			"clientId":     "client_abc",
			"clientSecret": "pi_123_secret_456",
		})
	})

	session, err := c.CreateSession(context.Background(), sessionRequest())
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.JobID != "job_1" || session.OrderID != "order_1" {
		t.Errorf("session = %+v", session)
	}
	if session.ClientSecret != "pi_123_secret_456" {
		t.Errorf("ClientSecret = %q", session.ClientSecret)
	}
	if got.CustomerEmail != "shopper@example.com" || got.ClientID != "client_abc" {
		t.Errorf("request body = %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 2 {
		t.Fatalf("request items = %+v", got.Items)
	}
	if got.Items[0].UnitAmount != 1005 {
		t.Errorf("unitAmount = %d, want 1005", got.Items[0].UnitAmount)
	}
	if !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.05")) {
		t.Errorf("price = %s, want 10.05", got.Items[0].UnitPrice)
	}
	if apiKey != "key_123" {
		t.Errorf("X-Api-Key = %q, want key_123", apiKey)
	}

	item, err := httpsfv.UnmarshalItem([]string{idemKey})
	if err != nil {
		t.Fatalf("Idempotency-Key %q is not a structured item: %v", idemKey, err)
	}
	s, ok := item.Value.(string)
	if !ok {
		t.Fatalf("Idempotency-Key value = %#v, want string", item.Value)
	}
	suffix, found := strings.CutPrefix(s, "client_abc:")
	if !found {
		t.Errorf("Idempotency-Key = %q, want client_abc: prefix", s)
	}
	if _, err := uuid.Parse(suffix); err != nil {
		t.Errorf("Idempotency-Key suffix %q is not a uuid: %v", suffix, err)
	}
}

func TestCreateSession_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		raw      string
		wantKind error
		wantMsg  string
	}{
		{
			name:     "server error carries message",
			status:   http.StatusInternalServerError,
			body:     map[string]string{"message": "inventory service unavailable"},
			wantKind: model.ErrAPI,
			wantMsg:  "inventory service unavailable",
		},
		{
			name:     "error field fallback",
			status:   http.StatusBadRequest,
			body:     map[string]string{"error": "items required"},
			wantKind: model.ErrAPI,
			wantMsg:  "items required",
		},
		{
			name:     "no body falls back to status text",
			status:   http.StatusBadGateway,
			raw:      "<html>bad gateway</html>",
			wantKind: model.ErrAPI,
			wantMsg:  "Bad Gateway",
		},
		{
			name:     "missing client secret",
			status:   http.StatusOK,
			body:     map[string]string{"jobId": "j", "orderId": "o", "clientId": "c"},
			wantKind: model.ErrProtocol,
			wantMsg:  "invalid payment session",
		},
		{
			name:     "wrong secret prefix",
			status:   http.StatusOK,
			body:     map[string]string{"jobId": "j", "orderId": "o", "clientSecret": "cs_test_123"},
			wantKind: model.ErrProtocol,
			wantMsg:  "invalid payment session",
		},
		{
			name:     "missing order id",
			status:   http.StatusOK,
			body:     map[string]string{"jobId": "j", "clientSecret": "pi_123"},
			wantKind: model.ErrProtocol,
			wantMsg:  "invalid payment session",
		},
		{
			name:     "undecodable success body",
			status:   http.StatusOK,
			raw:      "not json",
			wantKind: model.ErrProtocol,
			wantMsg:  "invalid payment session",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.raw != "" {
					w.WriteHeader(tt.status)
					io.WriteString(w, tt.raw)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			_, err := c.CreateSession(context.Background(), sessionRequest())
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("error = %v, want kind %v", err, tt.wantKind)
			}
			if got := model.Message(err); got != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestCreateSession_NoRetry(t *testing.T) {
	calls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "try later"})
	})

	c.CreateSession(context.Background(), sessionRequest())

	if calls != 1 {
		t.Errorf("requests = %d, want exactly 1", calls)
	}
}

func TestCreateSession_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: base}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := c.CreateSession(context.Background(), sessionRequest())
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		want     model.PaymentStatus
		wantKind error
	}{
		{"payment complete", 200, model.StatusResponse{Success: true, Status: "PAYMENT_COMPLETE"}, model.PaymentPaid, nil},
		{"processing", 200, model.StatusResponse{Success: true, Status: "PROCESSING"}, model.PaymentPaid, nil},
		{"paid without success flag", 200, model.StatusResponse{Status: "PAID"}, model.PaymentPaid, nil},
		{"pending", 200, model.StatusResponse{Status: "PENDING"}, model.PaymentPending, nil},
		{"expired", 200, model.StatusResponse{Status: "EXPIRED"}, model.PaymentFailed, nil},
		{"unrecognized", 200, model.StatusResponse{Status: "ON_HOLD"}, model.PaymentUnknown, nil},
		{"forbidden", 403, map[string]string{"error": "Unauthorized access to order"}, model.PaymentUnknown, model.ErrAuthorization},
		{"unauthorized", 401, map[string]string{"error": "missing key"}, model.PaymentUnknown, model.ErrAuthorization},
		{"not found", 404, map[string]string{"error": "Order not found"}, model.PaymentUnknown, model.ErrAPI},
		{"server error", 500, map[string]string{"error": "boom"}, model.PaymentUnknown, model.ErrAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/payment-status" {
					t.Errorf("path = %s, want /payment-status", r.URL.Path)
				}
				q := r.URL.Query()
				if q.Get("clientId") != "client_abc" || q.Get("orderId") != "order_1" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				writeJSON(w, tt.status, tt.body)
			})

			got, err := c.PollStatus(context.Background(), "client_abc", "order_1")
			if tt.wantKind == nil && err != nil {
				t.Fatalf("PollStatus() error = %v", err)
			}
			if tt.wantKind != nil && !errors.Is(err, tt.wantKind) {
				t.Fatalf("PollStatus() error = %v, want kind %v", err, tt.wantKind)
			}
			if got != tt.want {
				t.Errorf("PollStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPollStatus_Timeout(t *testing.T) {
	release := make(chan struct{})
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	start := time.Now()
	_, err := c.PollStatus(context.Background(), "client_abc", "order_1")
	if !errors.Is(err, model.ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("poll blocked for %v, want bounded by poll timeout", elapsed)
	}
}

func TestNotifyPaid(t *testing.T) {
	var got model.PaidNotice
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/payment-success" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	job := model.CheckoutJob{JobID: "job_1", OrderID: "order_1", ClientID: "client_abc"}
	if err := c.NotifyPaid(context.Background(), job); err != nil {
		t.Fatalf("NotifyPaid() error = %v", err)
	}
	if got.OrderID != "order_1" || got.JobID != "job_1" || got.ClientID != "client_abc" {
		t.Errorf("notice = %+v", got)
	}
}

func TestClassifyStatus_CaseInsensitive(t *testing.T) {
	if got := ClassifyStatus(model.StatusResponse{Status: " payment_complete "}); got != model.PaymentPaid {
		t.Errorf("ClassifyStatus() = %s, want PAID", got)
	}
	if got := ClassifyStatus(model.StatusResponse{}); got != model.PaymentPending {
		t.Errorf("ClassifyStatus(empty) = %s, want PENDING", got)
	}
}

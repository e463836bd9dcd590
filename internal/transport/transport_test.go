package transport

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		kind    Kind
		wantErr bool
	}{
		{Standard, false},
		{"", false},
		{Chrome, false},
		{"firefox", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			rt, err := New(tt.kind, 5*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.kind, err, tt.wantErr)
			}
			if !tt.wantErr && rt == nil {
				t.Error("New() returned nil round tripper")
			}
		})
	}
}

func TestChromeTransport_PlainHTTP(t *testing.T) {
	// Non-TLS requests bypass the fingerprinting dial entirely.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewChromeTransport(5 * time.Second), Timeout: 5 * time.Second}
	resp, err := client.Post(srv.URL, "text/plain", bytes.NewBufferString("ping"))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()

	got, _ := io.ReadAll(resp.Body)
	if string(got) != "ping" {
		t.Errorf("body = %q, want %q", got, "ping")
	}
}

func TestCanonicalAddr(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://api.example.com/checkout", "api.example.com:443"},
		{"https://api.example.com:8443/checkout", "api.example.com:8443"},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, tt.url, nil)
		if got := canonicalAddr(req); got != tt.want {
			t.Errorf("canonicalAddr(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestRewind(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://example.com", bytes.NewReader([]byte("body")))
	io.ReadAll(req.Body) // consumed by a failed attempt

	retry, err := rewind(req)
	if err != nil {
		t.Fatalf("rewind() error = %v", err)
	}
	got, _ := io.ReadAll(retry.Body)
	if string(got) != "body" {
		t.Errorf("rewound body = %q, want %q", got, "body")
	}

	noReplay, _ := http.NewRequest(http.MethodPost, "https://example.com", io.NopCloser(bytes.NewReader([]byte("x"))))
	noReplay.GetBody = nil
	if _, err := rewind(noReplay); err == nil {
		t.Error("rewind() without GetBody should fail")
	}
}

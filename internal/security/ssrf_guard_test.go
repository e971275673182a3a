package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected custom Transport")
	}
}

func TestValidateURL_PublicURL(t *testing.T) {
	guard := NewSSRFGuard()
	for _, u := range []string{
		"https://example.com",
		"http://seva.example.org/about",
		"https://8.8.8.8/",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) returned error: %v", u, err)
			}
		})
	}
}

func TestValidateURL_Rejected(t *testing.T) {
	guard := NewSSRFGuard()
	for _, u := range []string{
		"",
		"ftp://example.com",
		"javascript:alert(1)",
		"https://",
		"http://localhost:8080",
		"http://api.localhost/",
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://192.168.0.10/",
		"http://169.254.169.254/latest/meta-data/",
		"http://[::1]/",
		"http://[fd00::1]/",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err == nil {
				t.Errorf("ValidateURL(%q) should fail", u)
			}
		})
	}
}

// httptestサーバーは127.0.0.1で起動されるため、到達確認は拒否されること
func TestCheckReachable_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewSSRFGuard()
	if err := guard.CheckReachable(context.Background(), ts.URL, 2*time.Second); err == nil {
		t.Fatal("expected error for loopback address, got nil")
	}
}

func TestFetchStatus_ReportsStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	status, err := fetchStatus(context.Background(), ts.Client(), http.MethodHead, ts.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", status)
	}
}

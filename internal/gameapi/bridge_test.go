package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"jordanella.com/pogo-fleet/internal/geo"
)

func newBridgeServer(t *testing.T, handler func(req bridgeRequest) (int, interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" {
			t.Errorf("Expected /rpc path, got %s", r.URL.Path)
		}
		var req bridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode bridge request: %v", err)
		}
		status, body := handler(req)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
}

func TestBridgeClientInvoke(t *testing.T) {
	var seen bridgeRequest
	srv := newBridgeServer(t, func(req bridgeRequest) (int, interface{}) {
		seen = req
		return http.StatusOK, map[string]interface{}{
			"status":  StatusOK,
			"species": []int{16, 19},
		}
	})
	defer srv.Close()

	client, err := NewBridgeClient(BridgeConfig{BaseURL: srv.URL, HashEndpoints: []string{"primary"}},
		Credentials{Username: "ash", Password: "pikachu", Provider: "ptc"})
	if err != nil {
		t.Fatalf("Failed to create bridge client: %v", err)
	}
	defer client.Close()

	pos := geo.NewPosition(10, 20)
	resp, err := client.Invoke(context.Background(), Request{Action: ActionGetMapObjects, Position: &pos})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}

	if len(resp.Species) != 2 {
		t.Errorf("Expected 2 species, got %d", len(resp.Species))
	}
	if seen.Username != "ash" || seen.Action != ActionGetMapObjects {
		t.Errorf("Unexpected request: %+v", seen)
	}
	if seen.Password != "" {
		t.Error("Password should only be sent on login")
	}
	if seen.HashEndpoint != "primary" {
		t.Errorf("Expected primary hash endpoint, got %q", seen.HashEndpoint)
	}
}

func TestBridgeClientLoginSendsCredentials(t *testing.T) {
	var seen bridgeRequest
	srv := newBridgeServer(t, func(req bridgeRequest) (int, interface{}) {
		seen = req
		return http.StatusOK, map[string]interface{}{"status": StatusOK}
	})
	defer srv.Close()

	client, _ := NewBridgeClient(BridgeConfig{BaseURL: srv.URL}, Credentials{Username: "misty", Password: "water", Provider: "google"})
	if _, err := client.Invoke(context.Background(), Request{Action: ActionLogin}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if seen.Password != "water" || seen.Provider != "google" {
		t.Errorf("Expected credentials on login, got %+v", seen)
	}
}

func TestBridgeClientErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   interface{}
		want   error
	}{
		{"hashing timeout", http.StatusOK, map[string]string{"error": "hashing_timeout"}, ErrHashingTimeout},
		{"quota", http.StatusOK, map[string]string{"error": "hashing_quota"}, ErrHashingQuotaExceeded},
		{"banned", http.StatusOK, map[string]string{"error": "banned"}, ErrAccountBanned},
		{"forbidden", http.StatusForbidden, map[string]string{}, ErrIPBanned},
		{"too many requests", http.StatusTooManyRequests, map[string]string{}, ErrServerThrottled},
		{"bad gateway", http.StatusBadGateway, map[string]string{}, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newBridgeServer(t, func(req bridgeRequest) (int, interface{}) {
				return tt.status, tt.body
			})
			defer srv.Close()

			client, _ := NewBridgeClient(BridgeConfig{BaseURL: srv.URL}, Credentials{Username: "brock"})
			_, err := client.Invoke(context.Background(), Request{Action: ActionEncounter})
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestBridgeClientMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	client, _ := NewBridgeClient(BridgeConfig{BaseURL: srv.URL}, Credentials{Username: "brock"})
	_, err := client.Invoke(context.Background(), Request{Action: ActionGetPlayer})
	if !errors.Is(err, ErrEncoding) {
		t.Errorf("Expected ErrEncoding, got %v", err)
	}
}

func TestBridgeClientSwitchHashingEndpoint(t *testing.T) {
	client, _ := NewBridgeClient(BridgeConfig{BaseURL: "http://bridge", HashEndpoints: []string{"a", "b"}}, Credentials{})

	if client.HashEndpoint() != "a" {
		t.Errorf("Expected endpoint a, got %s", client.HashEndpoint())
	}
	if !client.SwitchHashingEndpoint() {
		t.Fatal("Expected switch to alternate endpoint to succeed")
	}
	if client.HashEndpoint() != "b" {
		t.Errorf("Expected endpoint b, got %s", client.HashEndpoint())
	}
	if client.SwitchHashingEndpoint() {
		t.Error("Expected no endpoint left after b")
	}
}

func TestBridgeClientInvalidProxy(t *testing.T) {
	_, err := NewBridgeClient(BridgeConfig{BaseURL: "http://bridge"}, Credentials{Proxy: "://bad"})
	if err == nil {
		t.Error("Expected error for invalid proxy URL")
	}
}

func TestCheckResponse(t *testing.T) {
	if err := CheckResponse(&Response{Status: StatusEmptyResponse}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
	if err := CheckResponse(&Response{Status: StatusThrottled}); !errors.Is(err, ErrServerThrottled) {
		t.Errorf("Expected ErrServerThrottled, got %v", err)
	}
	if err := CheckResponse(&Response{Status: StatusOK}); err != nil {
		t.Errorf("Expected nil for OK status, got %v", err)
	}
	if err := CheckResponse(nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse for nil response, got %v", err)
	}
}

func TestAccountErrorUnwrap(t *testing.T) {
	err := NewAccountError("ash", ActionLogin, ErrTooManyLoginAttempts)
	if !errors.Is(err, ErrTooManyLoginAttempts) {
		t.Error("AccountError should unwrap to its cause")
	}
	if !IsAccountHealth(err) {
		t.Error("Expected account health classification")
	}
	if IsSilentRetryable(err) {
		t.Error("Account error must not be silently retryable")
	}
}

package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"jordanella.com/pogo-fleet/internal/geo"
)

// BridgeConfig configures the JSON RPC bridge that speaks the game protocol
type BridgeConfig struct {
	BaseURL        string
	HashEndpoints  []string // first is primary, rest are alternates
	HashKey        string
	RequestTimeout time.Duration
}

// bridge error codes mapped onto the error taxonomy
var bridgeErrors = map[string]error{
	"hashing_timeout":         ErrHashingTimeout,
	"unexpected_hash":         ErrUnexpectedHashResponse,
	"hashing_offline":         ErrHashingOffline,
	"hashing_quota":           ErrHashingQuotaExceeded,
	"throttled":               ErrServerThrottled,
	"transport":               ErrTransport,
	"encoding":                ErrEncoding,
	"empty_response":          ErrEmptyResponse,
	"bad_credentials":         ErrBadCredentials,
	"banned":                  ErrAccountBanned,
	"too_many_login_attempts": ErrTooManyLoginAttempts,
	"login_failed":            ErrLoginSequenceFail,
	"warned":                  ErrWarnedAccount,
	"ip_banned":               ErrIPBanned,
}

type bridgeRequest struct {
	Action       Action                 `json:"action"`
	Username     string                 `json:"username"`
	Password     string                 `json:"password,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	Position     *geo.Position          `json:"position,omitempty"`
	Params       map[string]interface{} `json:"params,omitempty"`
	HashEndpoint string                 `json:"hash_endpoint,omitempty"`
	HashKey      string                 `json:"hash_key,omitempty"`
}

type bridgeResponse struct {
	Response
	Error string `json:"error,omitempty"`
}

// BridgeClient implements Client over HTTP
type BridgeClient struct {
	mu        sync.Mutex
	cfg       BridgeConfig
	creds     Credentials
	http      *http.Client
	hashIndex int
}

// NewBridgeClient creates a client for one account, routing through the
// account's proxy when set
func NewBridgeClient(cfg BridgeConfig, creds Credentials) (*BridgeClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bridge base URL is required")
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	if creds.Proxy != "" {
		proxyURL, err := url.Parse(creds.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", creds.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &BridgeClient{
		cfg:   cfg,
		creds: creds,
		http:  &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// BridgeFactory creates BridgeClients
type BridgeFactory struct {
	Config BridgeConfig
}

// NewClient implements ClientFactory
func (f BridgeFactory) NewClient(ctx context.Context, creds Credentials) (Client, error) {
	return NewBridgeClient(f.Config, creds)
}

// HashEndpoint returns the endpoint currently in use
func (c *BridgeClient) HashEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.HashEndpoints) == 0 {
		return ""
	}
	return c.cfg.HashEndpoints[c.hashIndex]
}

// SwitchHashingEndpoint implements HashingSwitcher
func (c *BridgeClient) SwitchHashingEndpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hashIndex+1 >= len(c.cfg.HashEndpoints) {
		return false
	}
	c.hashIndex++
	return true
}

// Invoke implements Client
func (c *BridgeClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	body := bridgeRequest{
		Action:       req.Action,
		Username:     c.creds.Username,
		Position:     req.Position,
		Params:       req.Params,
		HashEndpoint: c.HashEndpoint(),
		HashKey:      c.cfg.HashKey,
	}
	if req.Action == ActionLogin {
		body.Password = c.creds.Password
		body.Provider = c.creds.Provider
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", ErrEncoding)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/rpc"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s: %w: %v", req.Action, ErrTransport, err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusForbidden:
		return nil, ErrIPBanned
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrServerThrottled
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("%s: %w: bridge returned %d", req.Action, ErrTransport, httpResp.StatusCode)
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", req.Action, ErrTransport, err)
	}

	var decoded bridgeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", req.Action, ErrEncoding, err)
	}

	if decoded.Error != "" {
		if mapped, ok := bridgeErrors[decoded.Error]; ok {
			return &decoded.Response, mapped
		}
		return &decoded.Response, errors.New(decoded.Error)
	}

	return &decoded.Response, nil
}

// Close implements Client
func (c *BridgeClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

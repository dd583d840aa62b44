package mock

import (
	"context"
	"sync"

	"jordanella.com/pogo-fleet/internal/gameapi"
)

// Result is one scripted outcome
type Result struct {
	Response *gameapi.Response
	Err      error
}

// Client is a scripted gameapi.Client. Enqueued results for an action are
// consumed in order; once exhausted the default handler answers.
type Client struct {
	mu         sync.Mutex
	username   string
	scripts    map[gameapi.Action][]Result
	calls      []gameapi.Request
	alternates int
	switches   int
	closed     bool

	// Default answers actions with no scripted result left
	Default func(req gameapi.Request) (*gameapi.Response, error)
}

// NewClient creates a mock client that answers StatusOK by default
func NewClient(username string) *Client {
	return &Client{
		username: username,
		scripts:  make(map[gameapi.Action][]Result),
		Default: func(req gameapi.Request) (*gameapi.Response, error) {
			return &gameapi.Response{Status: gameapi.StatusOK}, nil
		},
	}
}

// Username returns the account this client was created for
func (c *Client) Username() string {
	return c.username
}

// Enqueue scripts the next result for an action
func (c *Client) Enqueue(action gameapi.Action, resp *gameapi.Response, err error) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[action] = append(c.scripts[action], Result{Response: resp, Err: err})
	return c
}

// EnqueueError scripts n consecutive failures for an action
func (c *Client) EnqueueError(action gameapi.Action, err error, n int) *Client {
	for i := 0; i < n; i++ {
		c.Enqueue(action, nil, err)
	}
	return c
}

// SetAlternateEndpoints sets how many hashing endpoint switches succeed
func (c *Client) SetAlternateEndpoints(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alternates = n
}

// Invoke implements gameapi.Client
func (c *Client) Invoke(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, req)
	queue := c.scripts[req.Action]
	if len(queue) > 0 {
		next := queue[0]
		c.scripts[req.Action] = queue[1:]
		c.mu.Unlock()
		return next.Response, next.Err
	}
	handler := c.Default
	c.mu.Unlock()

	return handler(req)
}

// SwitchHashingEndpoint implements gameapi.HashingSwitcher
func (c *Client) SwitchHashingEndpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.switches >= c.alternates {
		return false
	}
	c.switches++
	return true
}

// Close implements gameapi.Client
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Calls returns every request seen, in order
func (c *Client) Calls() []gameapi.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]gameapi.Request, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount counts requests for one action
func (c *Client) CallCount(action gameapi.Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Action == action {
			n++
		}
	}
	return n
}

// Switches returns how many hashing endpoint switches happened
func (c *Client) Switches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.switches
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory hands out one mock Client per username
type Factory struct {
	mu      sync.Mutex
	clients map[string]*Client
	created []string

	// Setup runs on every client the factory creates
	Setup func(c *Client)
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{clients: make(map[string]*Client)}
}

// Client returns the client for username, creating it if needed
func (f *Factory) Client(username string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clientLocked(username)
}

func (f *Factory) clientLocked(username string) *Client {
	c, ok := f.clients[username]
	if !ok {
		c = NewClient(username)
		if f.Setup != nil {
			f.Setup(c)
		}
		f.clients[username] = c
	}
	return c
}

// NewClient implements gameapi.ClientFactory
func (f *Factory) NewClient(ctx context.Context, creds gameapi.Credentials) (gameapi.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, creds.Username)
	return f.clientLocked(creds.Username), nil
}

// Created lists usernames in the order clients were requested
func (f *Factory) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.created))
	copy(out, f.created)
	return out
}

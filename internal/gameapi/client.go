package gameapi

import (
	"context"

	"jordanella.com/pogo-fleet/internal/geo"
)

// Response status codes used by the pipeline
const (
	StatusOK            = 1
	StatusBadRequest    = 3
	StatusThrottled     = 52
	StatusRedirect      = 53
	StatusEmptyResponse = 100
)

// Credentials identify the game login behind a client
type Credentials struct {
	Username string
	Password string
	Provider string // "ptc" or "google"
	Proxy    string // proxy URL, empty for direct
}

// Request is a single named RPC
type Request struct {
	Action   Action
	Position *geo.Position
	Params   map[string]interface{}
}

// Pokemon is one creature held in the inventory
type Pokemon struct {
	ID      uint64  `json:"id"`
	Species int     `json:"species"`
	CP      int     `json:"cp"`
	IV      float64 `json:"iv"`
}

// Inventory is the last known inventory snapshot
type Inventory struct {
	Items   map[int]int        `json:"items"`   // item id -> count
	Candy   map[int]int        `json:"candy"`   // species family -> candy
	Pokemon map[uint64]Pokemon `json:"pokemon"` // pokemon id -> data
}

// NewInventory creates an empty inventory
func NewInventory() *Inventory {
	return &Inventory{
		Items:   make(map[int]int),
		Candy:   make(map[int]int),
		Pokemon: make(map[uint64]Pokemon),
	}
}

// Clone creates a deep copy of the inventory
func (inv *Inventory) Clone() *Inventory {
	if inv == nil {
		return nil
	}
	clone := NewInventory()
	for k, v := range inv.Items {
		clone.Items[k] = v
	}
	for k, v := range inv.Candy {
		clone.Candy[k] = v
	}
	for k, v := range inv.Pokemon {
		clone.Pokemon[k] = v
	}
	return clone
}

// Response is the structured answer to a Request
type Response struct {
	Status     int                    `json:"status"`
	Warned     bool                   `json:"warned"`
	CaptchaURL string                 `json:"captcha_url,omitempty"`
	Species    []int                  `json:"species,omitempty"` // species seen by a scan
	Level      int                    `json:"level,omitempty"`
	Inventory  *Inventory             `json:"inventory,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// HasCaptcha reports whether the server asked for a challenge
func (r *Response) HasCaptcha() bool {
	return r != nil && r.CaptchaURL != ""
}

// CheckResponse converts status codes with transport meaning into errors.
// Status 100 with no payload is always treated as a retryable transient.
func CheckResponse(resp *Response) error {
	if resp == nil {
		return ErrEmptyResponse
	}

	switch resp.Status {
	case StatusThrottled:
		return ErrServerThrottled
	case StatusEmptyResponse:
		if len(resp.Payload) == 0 && len(resp.Species) == 0 && resp.Inventory == nil {
			return ErrEmptyResponse
		}
	}
	return nil
}

// Client invokes actions against the game server for one logged-in account
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
	Close() error
}

// HashingSwitcher is implemented by clients that can fail over to an
// alternate hashing endpoint
type HashingSwitcher interface {
	// SwitchHashingEndpoint moves to the next endpoint, false if none is left
	SwitchHashingEndpoint() bool
}

// ClientFactory creates a client for a set of credentials
type ClientFactory interface {
	NewClient(ctx context.Context, creds Credentials) (Client, error)
}

// ClientFactoryFunc adapts a function to ClientFactory
type ClientFactoryFunc func(ctx context.Context, creds Credentials) (Client, error)

// NewClient implements ClientFactory
func (f ClientFactoryFunc) NewClient(ctx context.Context, creds Credentials) (Client, error) {
	return f(ctx, creds)
}

package pipeline

import (
	"fmt"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/apitiming"
	"jordanella.com/pogo-fleet/internal/captcha"
	"jordanella.com/pogo-fleet/internal/clock"
	"jordanella.com/pogo-fleet/internal/events"
	"jordanella.com/pogo-fleet/internal/gameapi"
)

// Variant selects which recovery capabilities a session carries
type Variant struct {
	Name       string
	Replace    bool // swap in a replacement account on health failures
	BlindCheck bool // run the shadowban heuristic on scans
}

// Canonical variants
var (
	// FullReplacement papers over every account-health failure
	FullReplacement = Variant{Name: "full", Replace: true, BlindCheck: true}

	// ReadOnly records health failures and surfaces them to the caller
	ReadOnly = Variant{Name: "read_only"}

	// ScanOnly is ReadOnly plus shadowban detection, for scanner workers
	ScanOnly = Variant{Name: "scan_only", BlindCheck: true}
)

// ParseVariant looks up a canonical variant by name
func ParseVariant(name string) (Variant, error) {
	for _, v := range []Variant{FullReplacement, ReadOnly, ScanOnly} {
		if v.Name == name {
			return v, nil
		}
	}
	return Variant{}, fmt.Errorf("unknown pipeline variant %q", name)
}

// Config holds the per-stage settings
type Config struct {
	Travel TravelConfig
	Retry  RetryConfig
	Blind  BlindConfig
}

// DefaultConfig returns the default settings for every stage
func DefaultConfig() Config {
	return Config{
		Travel: DefaultTravelConfig(),
		Retry:  DefaultRetryConfig(),
		Blind:  DefaultBlindConfig(),
	}
}

// Builder assembles sessions. The chain order, outermost first, is
// ban_check, captcha, blind_check, login, travel, retry, delay, then the client.
type Builder struct {
	config   Config
	factory  gameapi.ClientFactory
	accounts AccountSource
	timings  *apitiming.Table
	clock    clock.Clock
	solver   captcha.Solver
	eventBus events.EventBus
	observer Observer
}

// NewBuilder creates a builder
func NewBuilder(factory gameapi.ClientFactory, accounts AccountSource, timings *apitiming.Table, config Config) *Builder {
	return &Builder{
		config:   config,
		factory:  factory,
		accounts: accounts,
		timings:  timings,
		clock:    clock.New(),
		observer: nopObserver{},
	}
}

// SetClock replaces the clock used by every stage
func (b *Builder) SetClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// SetSolver sets the captcha solver
func (b *Builder) SetSolver(s captcha.Solver) *Builder {
	b.solver = s
	return b
}

// SetEventBus publishes abandoned actions on bus
func (b *Builder) SetEventBus(bus events.EventBus) *Builder {
	b.eventBus = bus
	return b
}

// SetObserver reports measurements to o
func (b *Builder) SetObserver(o Observer) *Builder {
	if o == nil {
		o = nopObserver{}
	}
	b.observer = o
	return b
}

// Build wraps acc in a session of the given variant
func (b *Builder) Build(acc *accountpool.Account, variant Variant) *Session {
	s := newSession(acc, b.accounts, b.factory)
	s.eventBus = b.eventBus
	s.observer = b.observer

	delay := NewDelay(b.timings, b.clock)
	delay.observer = b.observer

	travel := NewTravel(b.config.Travel, b.clock)
	travel.observer = b.observer
	if acc.Position != nil {
		travel.SetPosition(*acc.Position, b.clock.Now())
	}

	retry := NewRetry(b.config.Retry, b.clock, s.hashingSwitcher)
	retry.observer = b.observer

	stages := []Stage{
		NewBanCheck(s, variant.Replace),
		NewCaptcha(s, b.solver),
	}
	if variant.BlindCheck {
		stages = append(stages, NewBlindCheck(s, b.config.Blind, variant.Replace))
	}
	stages = append(stages, NewLoginGate(s), travel, retry, delay)

	s.stages = stages
	s.chain = Chain(InvokerFunc(s.call), stages...)
	return s
}

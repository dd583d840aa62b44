package pipeline

import (
	"context"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// BlindConfig configures the shadowban heuristic
type BlindConfig struct {
	// Threshold is how many consecutive scans may miss every reference
	// species; the next one triggers
	Threshold int

	// ReferenceSpecies are common species hidden from shadowbanned accounts
	ReferenceSpecies []int
}

// DefaultBlindConfig returns a threshold of 120 over the common species
func DefaultBlindConfig() BlindConfig {
	return BlindConfig{
		Threshold: 120,
		ReferenceSpecies: []int{
			16, 19, 23, 27, 29, 32, 41, 43, 46, 48, 54, 60, 69, 72, 74, 77,
			81, 98, 118, 120, 129, 161, 165, 167, 177, 183, 187, 191, 194,
			198, 209, 218,
		},
	}
}

// BlindCheck counts consecutive scans without a reference species
type BlindCheck struct {
	session   *Session
	threshold int
	reference map[int]bool
	replace   bool
	logger    *logging.Logger

	misses int
}

// NewBlindCheck creates the shadowban stage for session
func NewBlindCheck(session *Session, config BlindConfig, replace bool) *BlindCheck {
	reference := make(map[int]bool, len(config.ReferenceSpecies))
	for _, id := range config.ReferenceSpecies {
		reference[id] = true
	}
	return &BlindCheck{
		session:   session,
		threshold: config.Threshold,
		reference: reference,
		replace:   replace,
		logger:    logging.NewLogger("BlindCheck"),
	}
}

// Name implements Stage
func (b *BlindCheck) Name() string { return "blind_check" }

// Misses returns the current run of scans without a reference species
func (b *BlindCheck) Misses() int {
	return b.misses
}

func (b *BlindCheck) sawReference(species []int) bool {
	for _, id := range species {
		if b.reference[id] {
			return true
		}
	}
	return false
}

// Wrap implements Stage
func (b *BlindCheck) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		resp, err := next.Invoke(ctx, req)
		if err != nil || resp == nil || !req.Action.IsScan() {
			return resp, err
		}

		if b.sawReference(resp.Species) {
			b.misses = 0
			return resp, nil
		}

		b.misses++
		if b.misses <= b.threshold {
			return resp, nil
		}

		username := b.session.Username()
		b.misses = 0
		b.logger.WarnWithContext("Account appears blinded", map[string]interface{}{
			"account": username,
			"scans":   b.threshold + 1,
		})

		if b.replace {
			if _, rerr := b.session.replace(ctx, accountpool.TransitionBlinded); rerr != nil {
				return resp, rerr
			}
			return resp, nil
		}

		b.session.mark(ctx, accountpool.TransitionBlinded)
		return resp, gameapi.NewAccountError(username, req.Action, gameapi.ErrAccountBlinded)
	})
}

// Reset clears the miss counter
func (b *BlindCheck) Reset() {
	b.misses = 0
}

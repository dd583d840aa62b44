package pipeline

import (
	"context"
	"errors"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// MaxReplacements bounds how many accounts one call may burn through
const MaxReplacements = 3

// Classify maps a call outcome to the account-health transition it implies.
// The returned cause is surfaced when the transition is not papered over by
// a replacement. An empty transition means the outcome is not a health
// failure.
func Classify(resp *gameapi.Response, err error) (accountpool.Transition, error) {
	switch {
	case errors.Is(err, gameapi.ErrTooManyLoginAttempts):
		return accountpool.TransitionPermBanned, err
	case errors.Is(err, gameapi.ErrAccountBanned):
		return accountpool.TransitionTempBanned, err
	case errors.Is(err, gameapi.ErrLoginSequenceFail):
		return accountpool.TransitionLoginFailed, err
	case errors.Is(err, gameapi.ErrIPBanned):
		return accountpool.TransitionIPBanned, err
	case errors.Is(err, gameapi.ErrWarnedAccount):
		return accountpool.TransitionWarned, err
	case err == nil && resp != nil && resp.Warned:
		return accountpool.TransitionWarned, gameapi.ErrWarnedAccount
	}
	return "", nil
}

// BanCheck records account-health failures against the pool. With
// replacement enabled it swaps in another account and retries the call
// once per replacement; otherwise it surfaces an *gameapi.AccountError.
type BanCheck struct {
	session *Session
	replace bool
	logger  *logging.Logger
}

// NewBanCheck creates the detector stage for session
func NewBanCheck(session *Session, replace bool) *BanCheck {
	return &BanCheck{
		session: session,
		replace: replace,
		logger:  logging.NewLogger("BanCheck"),
	}
}

// Name implements Stage
func (b *BanCheck) Name() string { return "ban_check" }

// Wrap implements Stage
func (b *BanCheck) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		resp, err := next.Invoke(ctx, req)
		transition, cause := Classify(resp, err)
		if transition == "" {
			return resp, err
		}

		if b.replace {
			for i := 0; i < MaxReplacements; i++ {
				b.logger.WarnWithContext("Account health failure, replacing", map[string]interface{}{
					"account":    b.session.Username(),
					"action":     string(req.Action),
					"transition": string(transition),
				})
				if _, rerr := b.session.replace(ctx, transition); rerr != nil {
					return nil, rerr
				}

				resp, err = next.Invoke(ctx, req)
				transition, cause = Classify(resp, err)
				if transition == "" {
					return resp, err
				}
			}
		}

		username := b.session.Username()
		b.logger.WarnWithContext("Account health failure", map[string]interface{}{
			"account":    username,
			"action":     string(req.Action),
			"transition": string(transition),
		})
		b.session.mark(ctx, transition)
		return resp, gameapi.NewAccountError(username, req.Action, cause)
	})
}

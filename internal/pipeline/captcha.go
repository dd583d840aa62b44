package pipeline

import (
	"context"
	"errors"
	"fmt"

	"jordanella.com/pogo-fleet/internal/captcha"
	"jordanella.com/pogo-fleet/internal/gameapi"
	"jordanella.com/pogo-fleet/internal/logging"
)

// Captcha hands challenges to a solver, verifies the token and retries the
// original call once
type Captcha struct {
	session *Session
	solver  captcha.Solver
	logger  *logging.Logger
}

// NewCaptcha creates the captcha stage. A nil solver surfaces every
// challenge as ErrCaptchaRequired.
func NewCaptcha(session *Session, solver captcha.Solver) *Captcha {
	return &Captcha{
		session: session,
		solver:  solver,
		logger:  logging.NewLogger("Captcha"),
	}
}

// Name implements Stage
func (c *Captcha) Name() string { return "captcha" }

func challengeURL(resp *gameapi.Response, err error) (string, bool) {
	if resp.HasCaptcha() {
		return resp.CaptchaURL, true
	}
	return "", errors.Is(err, gameapi.ErrCaptchaRequired)
}

// Wrap implements Stage
func (c *Captcha) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		resp, err := next.Invoke(ctx, req)
		url, required := challengeURL(resp, err)
		if !required {
			return resp, err
		}

		username := c.session.Username()
		if url == "" || c.solver == nil {
			return resp, gameapi.NewAccountError(username, req.Action, gameapi.ErrCaptchaRequired)
		}

		c.logger.InfoWithContext("Captcha challenge", map[string]interface{}{
			"account": username,
			"action":  string(req.Action),
		})
		token, serr := c.solver.Solve(ctx, captcha.Challenge{Username: username, URL: url})
		if serr != nil {
			return nil, gameapi.NewAccountError(username, req.Action,
				fmt.Errorf("%w: %w", gameapi.ErrCaptchaRequired, serr))
		}

		verify := gameapi.Request{
			Action: gameapi.ActionVerifyChallenge,
			Params: map[string]interface{}{"token": token},
		}
		if _, verr := next.Invoke(ctx, verify); verr != nil {
			return nil, fmt.Errorf("failed to verify captcha for %s: %w", username, verr)
		}

		c.logger.InfoWithContext("Captcha solved", map[string]interface{}{"account": username})
		resp, err = next.Invoke(ctx, req)
		if _, again := challengeURL(resp, err); again {
			return resp, gameapi.NewAccountError(username, req.Action, gameapi.ErrCaptchaRequired)
		}
		return resp, err
	})
}

package pipeline

import (
	"context"

	"jordanella.com/pogo-fleet/internal/gameapi"
)

// LoginGate logs the held account in before its first action. It sits above
// the pacing stages so the login is delayed and recorded like any other call.
type LoginGate struct {
	session *Session
}

// NewLoginGate creates the login stage for session
func NewLoginGate(session *Session) *LoginGate {
	return &LoginGate{session: session}
}

// Name implements Stage
func (g *LoginGate) Name() string { return "login" }

// Wrap implements Stage
func (g *LoginGate) Wrap(next Invoker) Invoker {
	return InvokerFunc(func(ctx context.Context, req gameapi.Request) (*gameapi.Response, error) {
		if req.Action != gameapi.ActionLogin && !g.session.isLoggedIn() {
			login := gameapi.Request{Action: gameapi.ActionLogin, Position: g.session.Account().Position}
			if resp, err := next.Invoke(ctx, login); err != nil {
				return resp, err
			}
		}
		return next.Invoke(ctx, req)
	})
}

package gameapi

import (
	"errors"
	"fmt"
)

// Transient errors, recovered by the resilience layer
var (
	ErrHashingTimeout         = errors.New("hashing service timed out")
	ErrUnexpectedHashResponse = errors.New("unexpected hashing service response")
	ErrHashingOffline         = errors.New("hashing service offline")
	ErrHashingQuotaExceeded   = errors.New("hashing quota exceeded")
	ErrServerThrottled        = errors.New("throttled by game server")
	ErrTransport              = errors.New("transport error")
	ErrEncoding               = errors.New("response encoding error")
	ErrEmptyResponse          = errors.New("empty response (status 100)")
)

// Fatal credential error, never retried
var ErrBadCredentials = errors.New("bad or expired credentials")

// Account-health errors, recorded and either replaced or surfaced
var (
	ErrAccountBanned        = errors.New("account temporarily banned")
	ErrTooManyLoginAttempts = errors.New("too many login attempts")
	ErrLoginSequenceFail    = errors.New("login sequence failed")
	ErrWarnedAccount        = errors.New("account carries a warning flag")
	ErrIPBanned             = errors.New("ip banned by game server")
	ErrAccountBlinded       = errors.New("account appears shadowbanned")
	ErrCaptchaRequired      = errors.New("captcha challenge required")
)

// AccountError ties an account-health error to the account and action that
// produced it
type AccountError struct {
	Username string
	Action   Action
	Err      error
}

// NewAccountError wraps err with account context
func NewAccountError(username string, action Action, err error) *AccountError {
	return &AccountError{Username: username, Action: action, Err: err}
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s on %s: %v", e.Username, e.Action, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

// IsHashingFailure reports whether err is a hashing outage (not quota)
func IsHashingFailure(err error) bool {
	return errors.Is(err, ErrHashingTimeout) ||
		errors.Is(err, ErrUnexpectedHashResponse) ||
		errors.Is(err, ErrHashingOffline)
}

// IsSilentRetryable reports transport-level hiccups that are retried without
// log noise
func IsSilentRetryable(err error) bool {
	return errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrEncoding) ||
		errors.Is(err, ErrEmptyResponse)
}

// IsAccountHealth reports whether err describes the state of the account
// rather than the network
func IsAccountHealth(err error) bool {
	return errors.Is(err, ErrAccountBanned) ||
		errors.Is(err, ErrTooManyLoginAttempts) ||
		errors.Is(err, ErrLoginSequenceFail) ||
		errors.Is(err, ErrWarnedAccount) ||
		errors.Is(err, ErrIPBanned) ||
		errors.Is(err, ErrAccountBlinded) ||
		errors.Is(err, ErrCaptchaRequired)
}

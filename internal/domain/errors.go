package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrAuthentication = errors.New("authentication error")
	ErrRateLimit      = errors.New("rate limited")
	ErrNetwork        = errors.New("network error")
	ErrPersistence    = errors.New("persistence error")
)

// RateLimitError is a rate-limit failure that may know when the limit resets.
type RateLimitError struct {
	Reset time.Time
	Err   error
}

func (e *RateLimitError) Error() string {
	if e.Reset.IsZero() {
		return fmt.Sprintf("rate limited: %v", e.Err)
	}

	return fmt.Sprintf("rate limited until %s: %v", e.Reset.UTC().Format(time.RFC3339), e.Err)
}

func (e *RateLimitError) Unwrap() []error {
	return []error{ErrRateLimit, e.Err}
}

// IsRecoverable reports whether the poll cycle may simply be retried later.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrNetwork)
}

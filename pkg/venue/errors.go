package venue

import (
	"errors"
	"fmt"
)

// ErrNotSupported is returned by variants lacking a capability.
var ErrNotSupported = errors.New("capability not supported by venue")

// VenueError is a non-success response from an external venue. Body carries
// the venue's raw error payload.
type VenueError struct {
	Venue      string
	StatusCode int
	Body       string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Venue, e.StatusCode, e.Body)
}

// AuthError reports a failed credential exchange.
type AuthError struct {
	Venue string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Venue, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

package gcal

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Error classes the reconciler reacts to. Returned errors wrap one of these
// sentinels together with the originating error, so both errors.Is and
// errors.As (for *googleapi.Error) work. Failures that match none of them are
// transport, parse, or server errors and are always fatal for a run.
var (
	// ErrUnauthenticated means the token is missing, expired without a
	// usable refresh token, or was rejected by Google.
	ErrUnauthenticated = errors.New("google calendar: unauthenticated")

	// ErrNotFound means the referenced event no longer exists.
	ErrNotFound = errors.New("google calendar: event not found")

	// ErrRateLimited means Google throttled the request.
	ErrRateLimited = errors.New("google calendar: rate limited")
)

// rateLimitReasons are the googleapi error reasons Google uses for throttling.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// classify wraps err with op and, when it recognises the failure, one of the
// package sentinels.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthenticated, err)
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case gerr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	case gerr.Code == http.StatusForbidden && hasRateLimitReason(gerr):
		return fmt.Errorf("%s: %w: %w", op, ErrRateLimited, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}

package forge

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoReleases is returned when a repository has no eligible published release.
var ErrNoReleases = errors.New("repository has no eligible releases")

// AssetSelectionError reports that the asset filter matched no asset or more
// than one. The resolver never silently picks an arbitrary asset.
type AssetSelectionError struct {
	// Repository is the owner/name slug the selection ran for.
	Repository string
	// Pattern is the configured asset filter, empty when none was given.
	Pattern string
	// Matches are the asset names that matched the filter.
	Matches []string
}

// Error implements the error interface.
func (e *AssetSelectionError) Error() string {
	pattern := e.Pattern
	if pattern == "" {
		pattern = "<none>"
	}

	if len(e.Matches) == 0 {
		return fmt.Sprintf("%s: no asset matches pattern %s", e.Repository, pattern)
	}

	return fmt.Sprintf("%s: pattern %s is ambiguous, matches %v", e.Repository, pattern, e.Matches)
}

// ForgeUnavailableError reports a failed forge request. 5xx responses and
// network-level failures are transient; 4xx responses are permanent.
type ForgeUnavailableError struct {
	// Repository is the owner/name slug of the failed request.
	Repository string
	// StatusCode is the HTTP status of the response, 0 for network failures.
	StatusCode int
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ForgeUnavailableError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: forge unreachable: %v", e.Repository, e.Err)
	}

	return fmt.Sprintf("%s: forge responded %d: %v", e.Repository, e.StatusCode, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *ForgeUnavailableError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying.
func (e *ForgeUnavailableError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= http.StatusInternalServerError
}

// RateLimitedError reports that the forge signaled throttling.
type RateLimitedError struct {
	// Repository is the owner/name slug of the throttled request.
	Repository string
	// RetryAfter is the wait the forge suggested, 0 when it gave none.
	RetryAfter time.Duration
	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Repository, e.RetryAfter)
	}

	return fmt.Sprintf("%s: rate limited", e.Repository)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// Transient reports that throttling is retryable.
func (e *RateLimitedError) Transient() bool {
	return true
}

// RetryDelay returns the forge-provided wait hint for the retry loop.
func (e *RateLimitedError) RetryDelay() time.Duration {
	return e.RetryAfter
}

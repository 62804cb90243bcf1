package ratelimit

import "errors"

var (
	// ErrRateLimitExceeded is a soft denial, returned alongside the denied
	// Result; the caller may retry after the window rolls over.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrSecurityBlocked is a hard denial tied to an active security block,
	// returned alongside the denied Result.
	ErrSecurityBlocked = errors.New("security block active")

	// ErrStoreUnavailable marks a counter-store failure. The limiter fails
	// open on it; it must never surface to a caller as a denial.
	ErrStoreUnavailable = errors.New("counter store unavailable")

	// ErrInvalidIdentifier marks a malformed identifier. Callers fall back
	// to an IP-derived identifier instead of failing the request.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

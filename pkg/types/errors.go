package types

import "errors"

// Error taxonomy shared by both services. Callers match with errors.Is;
// storage and transport failures are wrapped so the original cause stays
// inspectable.
var (
	// ErrInvalidURL means canonicalization failed: unparseable input,
	// missing scheme/host, or a scheme other than http(s).
	ErrInvalidURL = errors.New("invalid url")

	// ErrInvalidCode means a resolve input violates the code alphabet or
	// length. Surfaced to clients as a 404-equivalent.
	ErrInvalidCode = errors.New("invalid short code")

	// ErrNotFound means no live row exists for a syntactically valid code.
	ErrNotFound = errors.New("link not found")

	// ErrGone means a matching row exists but fails the liveness predicate
	// (expired, deactivated, or over its click limit).
	ErrGone = errors.New("link gone")

	// ErrCodeTaken means a caller-supplied custom code conflicts with an
	// existing live row.
	ErrCodeTaken = errors.New("code already taken")

	// ErrCollisionUnresolved means every salt produced a colliding code.
	// Logged as an invariant event, never retried.
	ErrCollisionUnresolved = errors.New("short code collision unresolved")

	// ErrStorageUnavailable wraps transport-level storage failures.
	// Retryable by the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStorageConflict wraps constraint violations the caller did not
	// anticipate.
	ErrStorageConflict = errors.New("storage conflict")

	// ErrDeadlineExceeded means an operation ran past its deadline.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrEventPublishFailed means the click producer could not accept an
	// event after backoff. Counted, never surfaced on the redirect path.
	ErrEventPublishFailed = errors.New("event publish failed")
)

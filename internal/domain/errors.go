package domain

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrStoreUnavailable marks transient credential-store faults. The
	// whole before/after access cycle is safe to retry.
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// ErrStoreConflict is returned by a conditional credential write that
	// lost an optimistic-concurrency race. Callers retry the cycle once.
	ErrStoreConflict = errors.New("credential store write conflict")

	// ErrAuthorityResolution is fatal to the current login attempt: the
	// tenant's discovery document could not be fetched or parsed.
	ErrAuthorityResolution = errors.New("authority resolution failed")

	// ErrUntrustedIssuer rejects a token whose issuer claim does not match
	// the expected per-tenant issuer prefix.
	ErrUntrustedIssuer = errors.New("untrusted token issuer")

	// ErrSilentAuthFailed means no valid cached or refreshable token
	// exists; the caller falls back to interactive login.
	ErrSilentAuthFailed = errors.New("silent token acquisition failed")

	// ErrUpstreamAPI marks a non-2xx answer from the resource-management
	// or directory APIs. Authorization decisions treat it as not-authorized.
	ErrUpstreamAPI = errors.New("upstream api error")
)

// Package relayerr defines the closed set of error kinds the relay's
// components fail with, per the error handling design: each kind maps to
// a retry policy for background workers and an HTTP status code for
// request handlers.
package relayerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error classifications used across the relay.
type Kind int

const (
	// KindInternal covers logic bugs; handlers respond 500 and log at error level.
	KindInternal Kind = iota
	// KindTransientNetwork covers outbound HTTP and DB connect failures; retry with backoff.
	KindTransientNetwork
	// KindTimeout covers any I/O timeout; treated the same as KindTransientNetwork.
	KindTimeout
	// KindSignatureMissing means the inbound request had no Signature header.
	KindSignatureMissing
	// KindSignatureMalformed means the Signature header could not be parsed.
	KindSignatureMalformed
	// KindSignatureStale means the Date header fell outside the allowed skew.
	KindSignatureStale
	// KindDigestMismatch means the computed body digest didn't match the Digest header.
	KindDigestMismatch
	// KindSignatureInvalid means RSA verification of the signing string failed.
	KindSignatureInvalid
	// KindBlocked means the request's origin host is on the blocklist.
	KindBlocked
	// KindNotWhitelisted means restricted mode is on and the host isn't whitelisted.
	KindNotWhitelisted
	// KindMalformed covers JSON/IRI parsing failures; handlers respond 400.
	KindMalformed
	// KindKeyRotation means verification failed after a cache hit; callers should evict and retry once.
	KindKeyRotation
	// KindKeyOwnerMismatch means a fetched actor's publicKey.owner didn't match its id.
	KindKeyOwnerMismatch
	// KindNotFound means a fetch or lookup came back empty (DB miss, or remote 404/410).
	KindNotFound
	// KindConflict means a DB unique-constraint violation; callers treat this as success for idempotency.
	KindConflict
	// KindSerialization means a DB serialization failure (safe to retry the transaction).
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindTransientNetwork:
		return "transient_network"
	case KindTimeout:
		return "timeout"
	case KindSignatureMissing:
		return "signature_missing"
	case KindSignatureMalformed:
		return "signature_malformed"
	case KindSignatureStale:
		return "signature_stale"
	case KindDigestMismatch:
		return "digest_mismatch"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindBlocked:
		return "blocked"
	case KindNotWhitelisted:
		return "not_whitelisted"
	case KindMalformed:
		return "malformed"
	case KindKeyRotation:
		return "key_rotation"
	case KindKeyOwnerMismatch:
		return "key_owner_mismatch"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSerialization:
		return "serialization"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error that supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds a *Error around an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err is not
// (or does not wrap) a *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Retryable reports whether a worker should retry the job that produced err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindTimeout, KindConflict, KindSerialization:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a Kind to the status code an HTTP handler should return.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindSignatureMissing, KindSignatureMalformed, KindSignatureStale,
		KindDigestMismatch, KindSignatureInvalid:
		return 401
	case KindBlocked, KindNotWhitelisted:
		return 403
	case KindMalformed:
		return 400
	case KindNotFound:
		return 404
	case KindTransientNetwork, KindTimeout:
		return 503
	default:
		return 500
	}
}

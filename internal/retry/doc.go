// Package retry implements a bounded-attempt backoff loop used by the
// resolver and fetcher for transient forge failures.
//
// The loop is an explicit state machine with injectable sleep and jitter
// sources so attempt limits and delays are testable deterministically.
package retry

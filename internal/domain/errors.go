package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the bond core. All of these are synchronous,
// recoverable failures owned by the caller; none are retried internally.
var (
	// Validation.
	ErrMaturityNotSupported = errors.New("maturity not supported")
	ErrTokenNotAllowed      = errors.New("token not allowed for bonding")
	ErrStrategyNotApproved  = errors.New("strategy not approved")
	ErrInvalidArrayLength   = errors.New("array lengths do not match")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrZeroAddress          = errors.New("zero address")
	ErrEmptyStrategyList    = errors.New("empty strategy list")

	// Authorization.
	ErrNotBondOwner  = errors.New("caller does not own bond")
	ErrNotAuthorized = errors.New("not authorized")
	ErrNotAdmin      = errors.New("caller is not admin")

	// State / sequencing.
	ErrNoSuchBond       = errors.New("no such bond")
	ErrBondNotMatured   = errors.New("bond not matured")
	ErrAlreadyRequested = errors.New("withdrawal already requested")
	ErrAlreadySettled   = errors.New("bond already settled")

	// SettlementNotFinalized is the umbrella for "the external backend has not
	// released the funds yet". The two adapter-specific variants wrap it so
	// callers can match either the generic kind or the precise one.
	ErrSettlementNotFinalized = errors.New("settlement not finalized")
	ErrNotYetFinalized        = fmt.Errorf("%w: no finalizing report yet", ErrSettlementNotFinalized)
	ErrDelayNotElapsed        = fmt.Errorf("%w: withdrawal delay not elapsed", ErrSettlementNotFinalized)

	// BackendInconsistency marks responses from an external yield backend that
	// contradict our own records (unknown handle, claimed-but-never-claimed,
	// zero payout on a finalized request). Never folded into
	// ErrSettlementNotFinalized: "just wait longer" must not mask real
	// protocol failures.
	ErrBackendInconsistency = errors.New("backend returned inconsistent state")

	// Infrastructure.
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock already held")
	ErrContextDone = errors.New("context cancelled")
)

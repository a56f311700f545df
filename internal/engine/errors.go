package engine

import "errors"

// The closed error taxonomy surfaced by mutations and queries. Callers match
// with errors.Is; the API layer maps each to an HTTP status.
var (
	// ErrInvalidParams covers quantity/price/stop/expiry violations detected
	// at validation.
	ErrInvalidParams = errors.New("invalid_params")

	// ErrPairUnknown is returned by queries against a pair no order has ever
	// been accepted for. Pairs come into existence on first valid submission.
	ErrPairUnknown = errors.New("pair_unknown")

	// ErrNotFound is returned when an order id does not exist.
	ErrNotFound = errors.New("not_found")

	// ErrForbidden is returned when cancel/modify is requested by a user
	// other than the order's submitter.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyTerminal is returned when cancel/modify targets an order in
	// a terminal status.
	ErrAlreadyTerminal = errors.New("already_terminal")

	// ErrEngineClosed is returned for any mutation after Stop.
	ErrEngineClosed = errors.New("engine_closed")
)

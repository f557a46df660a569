package auction

import "errors"

var (
	// ErrNotStarted marks a purchase attempted before the auction window opens.
	ErrNotStarted = errors.New("auction: not started")
	// ErrSupplyCapReached marks a purchase that would exceed the total supply cap.
	ErrSupplyCapReached = errors.New("auction: supply cap reached")
	// ErrBuyerCapReached marks a purchase that would exceed the per-buyer cap.
	ErrBuyerCapReached = errors.New("auction: per-buyer cap reached")
	// ErrInsufficientPayment marks an attached payment below the computed cost.
	ErrInsufficientPayment = errors.New("auction: insufficient payment")
	// ErrUnauthorized marks an operator-only operation invoked by another caller.
	ErrUnauthorized = errors.New("auction: unauthorized")
	// ErrAlreadyBound marks a second attempt to bind the issuance authority.
	ErrAlreadyBound = errors.New("auction: issuance authority already bound")
	// ErrAuthorityUnbound marks a purchase delegated against an unbound authority.
	ErrAuthorityUnbound = errors.New("auction: issuance authority not bound")
	// ErrInvalidAmount marks a zero purchase amount.
	ErrInvalidAmount = errors.New("auction: amount must be positive")

	errNilState = errors.New("auction engine: state not configured")
)

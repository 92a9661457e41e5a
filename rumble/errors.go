package rumble

import "errors"

// Every operation surfaces one of these unmodified so callers can react to
// the specific kind (state-guard violation vs arithmetic fault vs transfer
// failure). Nothing is retried internally.
var (
	ErrInvalidDeposit       = errors.New("deposit amount must be positive")
	ErrRoundNotIdle         = errors.New("round is not idle")
	ErrRoundNotOpen         = errors.New("round is not open for deposits")
	ErrRoundNotFound        = errors.New("round not found")
	ErrRoundAlreadySettled  = errors.New("round is already settled")
	ErrRoundNotSettled      = errors.New("round is not settled")
	ErrNoDeposits           = errors.New("no deposits found")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrDivisionByZero       = errors.New("division by zero")
	ErrWinnerTransferFailed = errors.New("winner transfer failed")
)

package domain

import "github.com/pkg/errors"

// Every failure leaves state unchanged. ErrBatchWindowNotElapsed and
// ErrPriceBandExceeded are retryable; the rest are terminal for that call.
var (
	ErrRiskLimitExceeded     = errors.New("risk limit exceeded")
	ErrDustOrder             = errors.New("order below minimum size")
	ErrMarketPaused          = errors.New("market is paused")
	ErrBatchWindowNotElapsed = errors.New("batch window not elapsed")
	ErrBatchWindowClosed     = errors.New("batch window closed")
	ErrPriceBandExceeded     = errors.New("clearing price outside allowed band")
	ErrAlreadyCancelled      = errors.New("order already cancelled")
	ErrAlreadyFilled         = errors.New("order already filled")
	ErrAlreadyClaimed        = errors.New("order settlement already claimed")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidParams         = errors.New("invalid params")

	ErrBatchMismatch = errors.New("order does not belong to batch")
	ErrNoMarket      = errors.New("market not found")
	ErrNoOrder       = errors.New("order not found")
	ErrNoBatch       = errors.New("batch not found")
	ErrNoFill        = errors.New("order fill not found")

	ErrLessAmount = errors.New("insufficient funds")
)

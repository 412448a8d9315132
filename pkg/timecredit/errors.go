package timecredit

import "errors"

var (
	// ErrInsufficientBalance is returned when a session is started with no spendable credit
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidRatio is returned for a non-positive earn ratio
	ErrInvalidRatio = errors.New("invalid earn ratio")

	// ErrInvalidAmount is returned for negative amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrKeyNotFound is returned by stores when a key has never been written
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreUnavailable is returned when the durable store is unavailable
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSchedulerUnavailable is returned when no alarm scheduler is provided
	ErrSchedulerUnavailable = errors.New("alarm scheduler unavailable")

	// ErrEngineClosed is returned by entry points after Close
	ErrEngineClosed = errors.New("engine closed")
)

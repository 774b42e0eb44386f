package calculator

import "errors"

var (
	// ErrInvalidQuantity is returned when the order quantity is negative or above the configured limit.
	ErrInvalidQuantity = errors.New("order quantity must be a non-negative integer")
	// ErrNoPackSizes is returned when there are no pack sizes to solve against.
	ErrNoPackSizes = errors.New("no pack sizes configured")
	// ErrInvalidPackSizes is returned when a pack size is not a positive integer.
	ErrInvalidPackSizes = errors.New("pack sizes must be positive integers")
	// ErrTooManyPackSizes is returned when more distinct pack sizes are supplied than the configured limit.
	ErrTooManyPackSizes = errors.New("too many pack sizes")
)

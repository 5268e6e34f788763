package store

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUnknownField is returned for a blueprint field name the schema does
	// not define.
	ErrUnknownField = errors.New("store: unknown blueprint field")

	// ErrInvalidDriver is returned by the factory for an unrecognized driver.
	ErrInvalidDriver = errors.New("store: invalid driver")

	// ErrInvalidConfig is returned when a driver's required options are
	// missing.
	ErrInvalidConfig = errors.New("store: invalid configuration")
)

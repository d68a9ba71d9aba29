package veml7700

import "errors"

var (
	// ErrTransport wraps any failed bus transaction.
	ErrTransport = errors.New("veml7700: bus transaction failed")
	// ErrInvalidArgument is returned when a sub-field value is out of its legal range.
	ErrInvalidArgument = errors.New("veml7700: value out of range")
	// ErrNotInitialized is returned when the bus is absent or the register cache was never synchronized.
	ErrNotInitialized = errors.New("veml7700: not initialized")
	// ErrUnexpectedDevice is returned when the device ID register does not identify a VEML7700.
	ErrUnexpectedDevice = errors.New("veml7700: unexpected device id")
)

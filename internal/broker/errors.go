package broker

import "github.com/pkg/errors"

var (
	ErrNoQuote     = errors.New("no quote for instrument")
	errNonPositive = errors.New("non-positive value from feed")
)

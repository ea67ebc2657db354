package rules

import "errors"

var (
	ErrUnsupportedPlatform = errors.New("unsupported_platform")
	ErrEmptyFile           = errors.New("empty_settlement_file")
	ErrMissingOrdersFile   = errors.New("missing_orders_file")
)

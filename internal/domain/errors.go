package domain

import "errors"

var (
	ErrMissingSource              = errors.New("no source file defined")
	ErrInvalidBlur                = errors.New("invalid blur")
	ErrInvalidDimension           = errors.New("invalid dimension")
	ErrSourceUnavailable          = errors.New("source unavailable")
	ErrUnsupportedOrCorruptImage  = errors.New("unsupported or corrupt image")
	ErrInvalidTransformParameters = errors.New("invalid transform parameters")
)

const (
	KindMissingSource              = "MissingSource"
	KindInvalidBlur                = "InvalidBlur"
	KindInvalidDimension           = "InvalidDimension"
	KindSourceUnavailable          = "SourceUnavailable"
	KindUnsupportedOrCorruptImage  = "UnsupportedOrCorruptImage"
	KindInvalidTransformParameters = "InvalidTransformParameters"
	KindInternal                   = "Internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrMissingSource, KindMissingSource},
	{ErrInvalidBlur, KindInvalidBlur},
	{ErrInvalidDimension, KindInvalidDimension},
	{ErrSourceUnavailable, KindSourceUnavailable},
	{ErrUnsupportedOrCorruptImage, KindUnsupportedOrCorruptImage},
	{ErrInvalidTransformParameters, KindInvalidTransformParameters},
}

// KindOf returns the taxonomy name of err, or KindInternal when err does not
// wrap one of the package sentinels.
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsValidation reports whether err was produced before any I/O happened.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindMissingSource, KindInvalidBlur, KindInvalidDimension, KindInvalidTransformParameters:
		return true
	default:
		return false
	}
}

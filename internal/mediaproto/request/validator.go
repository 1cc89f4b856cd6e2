package request

import (
	"strconv"

	protoerrors "github.com/alxayo/mediasrv/internal/errors"
)

// Validator rejects ill-formed field values before the catalog is ever
// consulted, converting shape errors to BAD_REQUEST without further I/O.
type Validator struct{}

// NewValidator constructs a Validator. It carries no state.
func NewValidator() *Validator { return &Validator{} }

// HexID checks that s has even length and consists only of lowercase hex
// digits.
func (Validator) HexID(s string) error {
	if len(s) == 0 || len(s)%2 != 0 {
		return protoerrors.NewBadRequestError("validate.hexID", nil)
	}
	for _, r := range s {
		if !isHexLower(r) {
			return protoerrors.NewBadRequestError("validate.hexID", nil)
		}
	}
	return nil
}

func isHexLower(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
}

// NonNegativeInt checks that s parses as an integer >= 0.
func (Validator) NonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, protoerrors.NewBadRequestError("validate.nonNegativeInt", nil)
	}
	return n, nil
}

// PositiveInt checks that s parses as an integer > 0.
func (Validator) PositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, protoerrors.NewBadRequestError("validate.positiveInt", nil)
	}
	return n, nil
}

// Package companykey validates the 8-character company identifier used to
// key every entity in the pipeline. The key is the first segment of the
// national tax number (CNPJ básico).
package companykey

import "errors"

const Length = 8

var (
	ErrEmpty   = errors.New("company key is empty")
	ErrLength  = errors.New("company key must be 8 characters")
	ErrInvalid = errors.New("company key must be numeric")
)

// Validate reports whether key is a well-formed company key.
func Validate(key string) error {
	if key == "" {
		return ErrEmpty
	}
	if len(key) != Length {
		return ErrLength
	}
	for _, c := range key {
		if c < '0' || c > '9' {
			return ErrInvalid
		}
	}
	return nil
}

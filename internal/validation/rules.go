// Package validation provides custom validation rules for the application.
package validation

import (
	"regexp"
	"strings"
	"unicode"

	validation "github.com/jellydator/validation"

	apperrors "github.com/fieldops/resilience/internal/errors"
)

const maxKeyLength = 255

var (
	// slugRegex matches service and queue names such as "tax_authority" or "sms-gateway".
	slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,62}$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// Slug validates lowercase identifiers used for service and queue names.
var Slug = validation.NewStringRuleWithError(
	func(s string) bool {
		return slugRegex.MatchString(s)
	},
	validation.NewError("validation_slug", "must be lowercase letters, digits, '_' or '-' (max 63)"),
)

// IdempotencyKey validates a client supplied idempotency key: printable, no surrounding
// whitespace, at most 255 bytes.
var IdempotencyKey = validation.NewStringRuleWithError(
	func(s string) bool {
		if s == "" || len(s) > maxKeyLength || s != strings.TrimSpace(s) {
			return false
		}
		for _, r := range s {
			if !unicode.IsPrint(r) {
				return false
			}
		}
		return true
	},
	validation.NewError("validation_idempotency_key", "must be 1-255 printable characters without surrounding whitespace"),
)

// NoWhitespace validates that string doesn't contain leading/trailing whitespace
var NoWhitespace = validation.NewStringRuleWithError(
	func(s string) bool {
		return s == strings.TrimSpace(s)
	},
	validation.NewError("validation_no_whitespace", "must not contain leading or trailing whitespace"),
)

// NotBlank validates that a string is not empty after trimming whitespace
var NotBlank = validation.NewStringRuleWithError(
	func(s string) bool {
		return strings.TrimSpace(s) != ""
	},
	validation.NewError("validation_not_blank", "must not be blank"),
)

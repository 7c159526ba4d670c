package validator

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	slugRegex     = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Required rejects strings that are empty after trimming whitespace.
func Required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Key: "required", Message: "field is required"},
	}
}

func MaxLen(field, value string, n int) Rule {
	return Rule{
		Check: func() bool { return utf8.RuneCountInString(value) <= n },
		Error: ValidationError{Field: field, Key: "max_length", Message: fmt.Sprintf("must be at most %d characters long", n)},
	}
}

// Slug accepts lowercase letters, digits and single inner hyphens.
func Slug(field, value string) Rule {
	return Rule{
		Check: func() bool { return slugRegex.MatchString(value) },
		Error: ValidationError{Field: field, Key: "slug", Message: "must contain only lowercase letters, numbers and hyphens"},
	}
}

func OneOf[T comparable](field string, value T, allowed ...T) Rule {
	return Rule{
		Check: func() bool {
			for _, a := range allowed {
				if value == a {
					return true
				}
			}
			return false
		},
		Error: ValidationError{Field: field, Key: "one_of", Message: fmt.Sprintf("must be one of %v", allowed)},
	}
}

func UUID(field, value string) Rule {
	return Rule{
		Check: func() bool {
			_, err := uuid.Parse(value)
			return err == nil && len(value) == 36
		},
		Error: ValidationError{Field: field, Key: "uuid", Message: "must be a valid UUID"},
	}
}

func Positive[T ~int | ~int32 | ~int64 | ~float64](field string, value T) Rule {
	return Rule{
		Check: func() bool { return value > 0 },
		Error: ValidationError{Field: field, Key: "positive", Message: "must be greater than zero"},
	}
}

func Between[T ~int | ~int64](field string, value, lo, hi T) Rule {
	return Rule{
		Check: func() bool { return value >= lo && value <= hi },
		Error: ValidationError{Field: field, Key: "range", Message: fmt.Sprintf("must be between %v and %v", lo, hi)},
	}
}

// CurrencyCode checks the ISO 4217 shape (three uppercase letters).
func CurrencyCode(field, value string) Rule {
	return Rule{
		Check: func() bool { return currencyRegex.MatchString(value) },
		Error: ValidationError{Field: field, Key: "currency", Message: "must be a three-letter ISO 4217 code"},
	}
}

// Check wraps an arbitrary predicate.
func Check(field, key, message string, ok bool) Rule {
	return Rule{
		Check: func() bool { return ok },
		Error: ValidationError{Field: field, Key: key, Message: message},
	}
}

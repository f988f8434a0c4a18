package scanning

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"
)

// Violations maps a field path to a violation code
type Violations map[string]string

// Empty reports whether no field was rejected
func (v Violations) Empty() bool { return len(v) == 0 }

// ValidationError is returned when a receipt does not satisfy the schema
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for field := range e.Violations {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Violations[field]))
	}
	return "invalid receipt: " + strings.Join(parts, ", ")
}

// Required rejects blank strings
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v[field] = "required"
	}
}

// PositiveFloat rejects zero and negative values
func PositiveFloat(field string, val float64, v Violations) {
	if val <= 0 {
		v[field] = "must_be_positive"
	}
}

// NonNegativeFloat rejects negative values
func NonNegativeFloat(field string, val float64, v Violations) {
	if val < 0 {
		v[field] = "must_not_be_negative"
	}
}

// MinItems rejects lists shorter than minItems
func MinItems(field string, n, minItems int, v Violations) {
	if n < minItems {
		v[field] = "too_few_items"
	}
}

// OneOf rejects values outside the allowed set
func OneOf(field, value string, allowed []string, v Violations) {
	if !slices.Contains(allowed, value) {
		v[field] = "invalid_choice"
	}
}

// Pattern rejects values that do not match re
func Pattern(field, value string, re *regexp.Regexp, v Violations) {
	if !re.MatchString(value) {
		v[field] = "invalid_format"
	}
}

// Layout checks that value parses with the given time layout
func Layout(field, value, layout string, v Violations) {
	if _, err := time.Parse(layout, value); err != nil {
		v[field] = "invalid_format"
	}
}

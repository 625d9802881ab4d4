package tools

import (
	"fmt"
	"strconv"
	"strings"
)

// the vendor feeds mark missing values with the literal string "NULL"
const nullSentinel = "NULL"

func isNull(value *string) bool {
	return value == nil || *value == nullSentinel
}

// Int parses the given raw value as an integer. Nil input and the NULL
// sentinel coerce to nil without error.
func Int(value *string) (*int64, error) {
	if isNull(value) {
		return nil, nil
	}

	i, err := strconv.ParseInt(strings.TrimSpace(*value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q as an integer: %w", *value, err)
	}

	return &i, nil
}

// Float parses the given raw value as a float.
func Float(value *string) (*float64, error) {
	if isNull(value) {
		return nil, nil
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(*value), 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q as a float: %w", *value, err)
	}

	return &f, nil
}

// Str returns the given raw value with the NULL sentinel coerced to nil.
func Str(value *string) *string {
	if isNull(value) {
		return nil
	}

	return value
}

// List splits the given raw value on separator. Nil input and the NULL
// sentinel coerce to an empty list.
func List(value *string, separator string) []string {
	if isNull(value) {
		return []string{}
	}

	return strings.Split(strings.TrimSpace(*value), separator)
}

// TitleCase normalises a street address so that every word starts with an
// upper case letter followed by lower case letters.
func TitleCase(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == nullSentinel {
		return nil
	}

	words := strings.Split(strings.TrimSpace(*value), " ")
	result := make([]string, 0, len(words))

	for _, word := range words {
		if word == "" {
			continue
		}
		runes := []rune(word)
		result = append(result, strings.ToUpper(string(runes[0]))+strings.ToLower(string(runes[1:])))
	}

	normalised := strings.Join(result, " ")
	return &normalised
}

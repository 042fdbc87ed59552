package location

import (
	"errors"
	"strings"
	"unicode"

	"github.com/kjstillabower/weather-gateway/internal/models"
)

// ErrEmpty is returned when the query is empty or whitespace-only after trim.
var ErrEmpty = errors.New("city name is required")

// ErrTooShort is returned when the query length is below the minimum.
var ErrTooShort = errors.New("city name too short")

// ErrTooLong is returned when the query length exceeds the maximum.
var ErrTooLong = errors.New("city name too long")

// ErrInvalidChars is returned when the query contains disallowed characters.
var ErrInvalidChars = errors.New("city name contains invalid characters")

// ErrInvalidUnit is returned for a temperature unit other than C, F or K.
var ErrInvalidUnit = errors.New("temperature unit must be C, F or K")

// Canonicalize turns a raw city query plus temperature unit into the cache/
// limiter key. The function is pure: equal inputs always yield equal keys.
// It trims, lowercases, collapses runs of internal whitespace, normalizes an
// optional ",CC" country suffix, and appends the unit so that the same city
// queried in different units occupies distinct cache entries.
func Canonicalize(raw string, unit models.TemperatureUnit, minLen, maxLen int) (string, error) {
	if !unit.Valid() {
		return "", ErrInvalidUnit
	}
	s, err := validate(raw, minLen, maxLen)
	if err != nil {
		return "", err
	}

	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = collapseSpaces(strings.TrimSpace(p))
	}
	key := strings.ToLower(strings.Join(parts, ","))
	return key + ":" + string(unit), nil
}

// validate trims the input, enforces length bounds (in runes) and restricts
// to letters (Unicode), digits, space, comma, hyphen.
func validate(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrTooLong
	}
	for _, c := range r {
		if !isAllowedRune(c) {
			return "", ErrInvalidChars
		}
	}
	return s, nil
}

// CityFromKey returns the city portion of a canonical key (everything before
// the unit suffix). Used when building the upstream query string.
func CityFromKey(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[:i]
	}
	return key
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isAllowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-':
		return true
	}
	return false
}

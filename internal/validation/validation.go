package validation

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/example/ride-passenger/internal/apperrors"
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phoneRegex = regexp.MustCompile(`^\+?[\d\s\-()]{10,15}$`)
)

const (
	minPasswordLen = 6
	maxInputLen    = 1000
)

func Email(email string) error {
	if !emailRegex.MatchString(email) {
		return apperrors.Validation("INVALID_EMAIL", "Please enter a valid email address")
	}
	return nil
}

func Phone(phone string) error {
	if !phoneRegex.MatchString(phone) {
		return apperrors.Validation("INVALID_PHONE", "Please enter a valid phone number")
	}
	return nil
}

func Password(password string) error {
	if len(password) < minPasswordLen {
		return apperrors.Validation("WEAK_PASSWORD", fmt.Sprintf("Password must be at least %d characters long", minPasswordLen))
	}
	return nil
}

// Coordinates accepts latitude in [-90, 90] and longitude in [-180, 180],
// boundaries included.
func Coordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return apperrors.Validation("INVALID_LATITUDE", "Invalid latitude. Must be between -90 and 90")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return apperrors.Validation("INVALID_LONGITUDE", "Invalid longitude. Must be between -180 and 180")
	}
	return nil
}

// Rating accepts integers in [1, 5]. Integral floats count as integers;
// strings and other kinds are rejected.
func Rating(v any) error {
	score, ok := IntegerValue(v)
	if !ok || score < 1 || score > 5 {
		return apperrors.Validation("INVALID_RATING", "Rating must be an integer between 1 and 5")
	}
	return nil
}

// IntegerValue extracts an integral value from numeric kinds.
func IntegerValue(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

// RideDistance checks km against the serviceable range.
func RideDistance(km, min, max float64) error {
	if km < min {
		return apperrors.Validation("DISTANCE_TOO_SHORT", fmt.Sprintf("Distance is too short. Minimum distance is %gkm", min))
	}
	if km > max {
		return apperrors.Validation("DISTANCE_TOO_LONG", fmt.Sprintf("Distance is too long. Maximum distance is %gkm", max))
	}
	return nil
}

func NotEmpty(value, field string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.Validation("REQUIRED", fmt.Sprintf("%s is required", field))
	}
	return nil
}

// SanitizeInput strips angle brackets, trims and caps free text.
func SanitizeInput(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxInputLen {
		s = string([]rune(s)[:maxInputLen])
	}
	return s
}

package validation

import (
	"strings"

	gberrors "github.com/vnykmshr/goboot/pkg/common/errors"
)

// ValidatePositive rejects values below 1, such as a respawn burst.
func ValidatePositive(module, field string, value int) error {
	if value <= 0 {
		return gberrors.NewValidationError(module, field, value, "must be positive").
			WithHint("value must be greater than 0")
	}
	return nil
}

// ValidateNonNegativeInt rejects negative counts. Worker targets, depth
// limits and preload worker counts use it.
func ValidateNonNegativeInt(module, field string, value int) error {
	if value < 0 {
		return gberrors.NewValidationError(module, field, value, "must be non-negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNonNegative rejects negative rates and durations in seconds.
func ValidateNonNegative(module, field string, value float64) error {
	if value < 0 {
		return gberrors.NewValidationError(module, field, value, "cannot be negative").
			WithHint("use 0 or a positive value")
	}
	return nil
}

// ValidateNotEmpty rejects an empty string.
func ValidateNotEmpty(module, field string, value string) error {
	if value == "" {
		return gberrors.NewValidationError(module, field, value, "cannot be empty").
			WithHint("provide a non-empty " + field)
	}
	return nil
}

// ValidateMountPath requires a mount path with at least one non-empty
// segment. Separators are '.', '/' and '\'.
func ValidateMountPath(module, field, path string) error {
	trimmed := strings.Trim(path, `./\`)
	if strings.TrimSpace(trimmed) == "" {
		return gberrors.NewValidationError(module, field, path, "has no path segments").
			WithHint(`use a dotted path such as "api.handlers"`)
	}
	return nil
}

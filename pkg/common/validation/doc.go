// Package validation provides common validation utilities for arguments
// and configuration values across the goboot library.
//
// Every helper returns a *errors.ValidationError that unwraps to
// errors.ErrInvalidConfiguration, so callers can test with errors.Is.
package validation

package validation

import (
	"fmt"
	"net/url"
	"time"
)

// BaseValidator provides field checks shared by the task validators
type BaseValidator struct{}

// ValidateHTTPURL checks that raw is an absolute http or https URL.
func (v *BaseValidator) ValidateHTTPURL(field, raw string) ValidationErrors {
	var errors ValidationErrors

	if raw == "" {
		errors = append(errors, ValidationError{
			Field:   field,
			Message: "URL cannot be empty",
		})
		return errors
	}

	parsedURL, err := url.Parse(raw)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   field,
			Message: "invalid URL",
		})
		return errors
	}

	// Validate scheme
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, ValidationError{
			Field:   field,
			Message: "URL scheme must be either http or https",
		})
	}
	if parsedURL.Host == "" {
		errors = append(errors, ValidationError{
			Field:   field,
			Message: "URL host cannot be empty",
		})
	}

	return errors
}

func (v *BaseValidator) ValidatePositiveDuration(field string, d time.Duration) ValidationErrors {
	if d > 0 {
		return nil
	}
	return ValidationErrors{{
		Field:   field,
		Message: fmt.Sprintf("must be positive, got %s", d),
	}}
}

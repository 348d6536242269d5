package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers sessioncore-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("store_backend", validateStoreBackend); err != nil {
		return fmt.Errorf("failed to register store_backend validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateStoreBackend accepts file, sqlite and memory.
func validateStoreBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case BackendFile, BackendSQLite, BackendMemory:
		return true
	}
	return false
}

// validateDuration accepts a positive Go duration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validatePasscodeStorage(); err != nil {
		return err
	}
	return nil
}

// validatePasscodeStorage rejects a passcode gate over memory storage: the
// enrolled hash would vanish with the process.
func (c *Config) validatePasscodeStorage() error {
	if c.Biometric.Mode == "passcode" && c.Storage.Backend == BackendMemory {
		return errors.New("biometric: passcode mode needs a persistent storage backend, not memory")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "store_backend":
		return fmt.Sprintf("%s must be one of: file sqlite memory", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration like \"30s\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}

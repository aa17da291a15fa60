package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/admitgate/internal/domain/ratelimit"
)

// RegisterCustomValidators registers admitgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"duration":      validateDuration,
		"redis_url":     validateRedisURL,
		"route_prefix":  validateRoutePrefix,
		"store_backend": validateStoreBackend,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateDuration accepts positive time.ParseDuration strings ("500ms", "15m").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateRedisURL accepts redis:// and rediss:// URLs with a host.
func validateRedisURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "redis" || u.Scheme == "rediss") && u.Host != ""
}

// validateRoutePrefix requires an absolute URL path.
func validateRoutePrefix(fl validator.FieldLevel) bool {
	return strings.HasPrefix(fl.Field().String(), "/")
}

// validateStoreBackend accepts "auto", "durable" or "ephemeral".
func validateStoreBackend(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "auto", "durable", "ephemeral":
		return true
	}
	return false
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Store.Backend == "durable" && c.Store.RedisURL == "" {
		return errors.New("store: backend 'durable' requires redis_url (or REDIS_URL)")
	}

	return c.validateTierReferences()
}

// validateTierReferences ensures routes and the default tier name a built-in
// or configured tier.
func (c *Config) validateTierReferences() error {
	known := func(name string) bool {
		if _, ok := ratelimit.DefaultPolicy(name); ok {
			return true
		}
		_, ok := c.RateLimit.Tiers[name]
		return ok
	}

	if c.RateLimit.DefaultTier != "" && !known(c.RateLimit.DefaultTier) {
		return fmt.Errorf("rate_limit.default_tier: references unknown tier: %s", c.RateLimit.DefaultTier)
	}
	for i, r := range c.RateLimit.Routes {
		if !known(r.Tier) {
			return fmt.Errorf("rate_limit.routes[%d]: references unknown tier: %s", i, r.Tier)
		}
	}
	for name, tc := range c.RateLimit.Tiers {
		if strings.Contains(name, ":") {
			return fmt.Errorf("rate_limit.tiers.%s: tier name must not contain ':'", name)
		}
		if _, builtin := ratelimit.DefaultPolicy(name); builtin {
			continue
		}
		if tc.Window == "" || tc.MaxRequests == nil {
			return fmt.Errorf("rate_limit.tiers.%s: custom tier requires window and max_requests", name)
		}
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

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration (e.g. \"500ms\", \"15m\")", field)
	case "redis_url":
		return fmt.Sprintf("%s must be a redis:// or rediss:// URL", field)
	case "route_prefix":
		return fmt.Sprintf("%s must start with '/'", field)
	case "store_backend":
		return fmt.Sprintf("%s must be 'auto', 'durable' or 'ephemeral'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

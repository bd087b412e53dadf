package config

import (
	"fmt"
	"net/netip"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bastion-gate/bastion/internal/domain/webhook"
)

// RegisterCustomValidators registers bastion-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("register audit_output validator: %w", err)
	}
	if err := v.RegisterValidation("ip_or_cidr", validateIPOrCIDR); err != nil {
		return fmt.Errorf("register ip_or_cidr validator: %w", err)
	}
	return nil
}

// validateAuditOutput accepts "stdout", "log" or "file://<absolute-dir>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()
	if output == "stdout" || output == "log" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		path := strings.TrimPrefix(output, "file://")
		return path != "" && filepath.IsAbs(path)
	}
	return false
}

// validateIPOrCIDR accepts a bare IPv4/IPv6 address or a CIDR range.
func validateIPOrCIDR(fl validator.FieldLevel) bool {
	entry := fl.Field().String()
	if _, err := netip.ParsePrefix(entry); err == nil {
		return true
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// Validate validates the configuration using struct tags plus
// cross-field rules, returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if c.RateLimit.SpamWindowSeconds < c.RateLimit.DefaultWindowSeconds {
		return fmt.Errorf("rate_limit: spam_window_seconds (%d) must not be shorter than default_window_seconds (%d)",
			c.RateLimit.SpamWindowSeconds, c.RateLimit.DefaultWindowSeconds)
	}
	return nil
}

// validateProviders rejects unknown provider names so a typo in the
// config cannot silently leave a webhook unauthenticated.
func (c *Config) validateProviders() error {
	for name := range c.Providers {
		if !webhook.Provider(name).IsValid() {
			return fmt.Errorf("providers: unknown provider %q (valid: %v)",
				name, webhook.Providers())
		}
	}
	return nil
}

// formatValidationErrors rewrites validator errors into config-file
// terms.
func formatValidationErrors(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q validation (value: %v)",
			strings.ToLower(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
}

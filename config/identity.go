package config

import (
	"fmt"
	"net/http"
	"strings"
)

// IdentityMode represents how the caller identity is resolved.
type IdentityMode string

const (
	// IdentityModeHeader trusts identity headers set by the upstream gateway.
	IdentityModeHeader IdentityMode = "header"
	// IdentityModeDev assigns a fixed identity to requests without headers (development only).
	IdentityModeDev IdentityMode = "dev"
)

// UnmarshalText implements encoding.TextUnmarshaler for IdentityMode.
func (m *IdentityMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "header", "dev":
		*m = IdentityMode(v)
		return nil
	default:
		return fmt.Errorf("invalid IdentityMode: %q (valid options: header, dev)", v)
	}
}

// DevIdentityConfig is the identity assigned when IDENTITY_MODE=dev.
type DevIdentityConfig struct {
	UserID string `env:"USER_ID" envDefault:"dev-user"`
	Plan   string `env:"PLAN"    envDefault:"professional"`
}

// IdentityConfig groups caller identity configuration.
type IdentityConfig struct {
	// Mode determines how identity is resolved.
	Mode IdentityMode `env:"IDENTITY_MODE" envDefault:"header"`

	// UserHeader carries the authenticated user id.
	UserHeader string `env:"IDENTITY_USER_HEADER" envDefault:"X-User-ID"`

	// PlanHeader optionally carries the user's plan tier. When absent the plan
	// is read from user_subscriptions.
	PlanHeader string `env:"IDENTITY_PLAN_HEADER" envDefault:"X-User-Plan"`

	// Dev identity (used when Mode=dev).
	Dev DevIdentityConfig `envPrefix:"DEV_IDENTITY_"`
}

// Sanitize canonicalizes header names.
func (c *IdentityConfig) Sanitize() {
	if c.Mode == "" {
		c.Mode = IdentityModeHeader
	}
	c.UserHeader = http.CanonicalHeaderKey(strings.TrimSpace(c.UserHeader))
	if c.UserHeader == "" {
		c.UserHeader = "X-User-Id"
	}
	c.PlanHeader = http.CanonicalHeaderKey(strings.TrimSpace(c.PlanHeader))
	if c.PlanHeader == "" {
		c.PlanHeader = "X-User-Plan"
	}
	c.Dev.UserID = strings.TrimSpace(c.Dev.UserID)
	c.Dev.Plan = strings.ToLower(strings.TrimSpace(c.Dev.Plan))
}

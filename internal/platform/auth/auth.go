// Package auth authenticates requests forwarded by the GOATS front end.
// The front end terminates the user session and passes the identity along in
// signed internal headers; dev and disabled modes exist for local work.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/platform/env"
)

type Mode string

const (
	ModeHeaders  Mode = "headers"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	InternalSecret string
	MaxSkew        time.Duration

	DevSubject string
	DevEmail   string
	DevRoles   []string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("GOATS_AUTH_MODE", string(ModeDisabled))))
	var mode Mode
	switch modeRaw {
	case string(ModeHeaders):
		mode = ModeHeaders
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("GOATS_AUTH_MODE must be one of: headers, dev, disabled (got %q)", modeRaw)
	}

	maxSkew, err := env.Duration("GOATS_AUTH_MAX_SKEW", 5*time.Minute)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Mode:           mode,
		InternalSecret: env.String("GOATS_INTERNAL_AUTH_SECRET", ""),
		MaxSkew:        maxSkew,
		DevSubject:     env.String("GOATS_DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:       env.String("GOATS_DEV_AUTH_EMAIL", "dev-user@example.local"),
		DevRoles:       parseCSV(env.String("GOATS_DEV_AUTH_ROLES", "admin")),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeHeaders:
		if strings.TrimSpace(c.InternalSecret) == "" {
			return errors.New("GOATS_INTERNAL_AUTH_SECRET is required when GOATS_AUTH_MODE=headers")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("GOATS_DEV_AUTH_SUBJECT is required when GOATS_AUTH_MODE=dev")
		}
		if len(c.DevRoles) == 0 {
			return errors.New("GOATS_DEV_AUTH_ROLES must be non-empty when GOATS_AUTH_MODE=dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// NewAuthenticator builds the authenticator matching the configured mode.
func NewAuthenticator(cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeHeaders:
		return &HeadersAuthenticator{Secret: cfg.InternalSecret, MaxSkew: cfg.MaxSkew}, nil
	case ModeDev:
		return &DevAuthenticator{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		}, nil
	case ModeDisabled:
		return DisabledAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

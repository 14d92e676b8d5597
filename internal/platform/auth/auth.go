package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/synthlab/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Cookie names used during the OIDC login round trip.
const (
	cookieOIDCState    = "synthlab_oidc_state"
	cookieOIDCVerifier = "synthlab_oidc_verifier"
	cookieOIDCNonce    = "synthlab_oidc_nonce"
	cookieReturnTo     = "synthlab_return_to"
)

type Config struct {
	Mode    Mode
	Claims  ClaimsConfig
	Session SessionConfig
	OIDC    OIDCConfig
	Dev     DevConfig
}

// ClaimsConfig names the ID token claims an Identity is read from.
type ClaimsConfig struct {
	Roles string
	Email string
}

// SessionConfig shapes the cookie that carries the ID token after login.
type SessionConfig struct {
	CookieName   string
	CookieSecure bool
	MaxAge       time.Duration
	SameSite     string
}

type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// DevConfig is the fixed identity every request gets with AUTH_MODE=dev.
type DevConfig struct {
	Subject string
	Email   string
	Roles   []string
}

func (d DevConfig) Identity() Identity {
	return Identity{Subject: d.Subject, Email: d.Email, Roles: d.Roles}
}

func ConfigFromEnv() (Config, error) {
	mode, err := parseMode(env.String("AUTH_MODE", string(ModeDev)))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Mode: mode,
		Claims: ClaimsConfig{
			Roles: env.String("AUTH_ROLES_CLAIM", "roles"),
			Email: env.String("AUTH_EMAIL_CLAIM", "email"),
		},
		Session: SessionConfig{
			CookieName: env.String("AUTH_SESSION_COOKIE_NAME", "synthlab_session"),
			SameSite:   env.String("AUTH_SESSION_COOKIE_SAMESITE", "Lax"),
		},
		OIDC: OIDCConfig{
			IssuerURL:    env.String("OIDC_ISSUER_URL", ""),
			ClientID:     env.String("OIDC_CLIENT_ID", ""),
			ClientSecret: env.String("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  env.String("OIDC_REDIRECT_URL", ""),
			Scopes:       parseScopes(env.String("OIDC_SCOPES", "openid profile email")),
		},
		Dev: DevConfig{
			Subject: env.String("DEV_AUTH_SUBJECT", "instructor"),
			Email:   env.String("DEV_AUTH_EMAIL", "instructor@synthlab.local"),
			Roles:   parseCSV(env.String("DEV_AUTH_ROLES", RoleInstructor)),
		},
	}
	if cfg.Session.CookieSecure, err = env.Bool("AUTH_SESSION_COOKIE_SECURE", true); err != nil {
		return Config{}, err
	}
	if cfg.Session.MaxAge, err = env.Duration("AUTH_SESSION_MAX_AGE", time.Hour); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Claims.Roles) == "":
		return errors.New("AUTH_ROLES_CLAIM is required")
	case strings.TrimSpace(c.Claims.Email) == "":
		return errors.New("AUTH_EMAIL_CLAIM is required")
	case strings.TrimSpace(c.Session.CookieName) == "":
		return errors.New("AUTH_SESSION_COOKIE_NAME is required")
	case c.Session.MaxAge <= 0:
		return errors.New("AUTH_SESSION_MAX_AGE must be positive")
	case strings.TrimSpace(c.Session.SameSite) == "":
		return errors.New("AUTH_SESSION_COOKIE_SAMESITE is required")
	}

	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDC.IssuerURL) == "" || strings.TrimSpace(c.OIDC.ClientID) == "" {
			return errors.New("OIDC_ISSUER_URL and OIDC_CLIENT_ID are required when AUTH_MODE=oidc")
		}
	case ModeDev:
		return c.Dev.validate()
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

func (d DevConfig) validate() error {
	if strings.TrimSpace(d.Subject) == "" {
		return errors.New("DEV_AUTH_SUBJECT is required when AUTH_MODE=dev")
	}
	if len(d.Roles) == 0 {
		return errors.New("DEV_AUTH_ROLES must be non-empty when AUTH_MODE=dev")
	}
	for _, role := range d.Roles {
		if _, ok := roleLevels[role]; !ok {
			return fmt.Errorf("DEV_AUTH_ROLES: unknown role %q (want viewer, student or instructor)", role)
		}
	}
	return nil
}

// ValidateForLogin reports whether the browser login flow can be served.
// Bearer token verification only needs the issuer and client id.
func (c Config) ValidateForLogin() error {
	if c.Mode != ModeOIDC {
		return fmt.Errorf("login requires AUTH_MODE=oidc (got %q)", c.Mode)
	}
	if strings.TrimSpace(c.OIDC.ClientSecret) == "" {
		return errors.New("OIDC_CLIENT_SECRET is required for login endpoints")
	}
	if strings.TrimSpace(c.OIDC.RedirectURL) == "" {
		return errors.New("OIDC_REDIRECT_URL is required for login endpoints")
	}
	return nil
}

func parseMode(raw string) (Mode, error) {
	switch mode := Mode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case ModeOIDC, ModeDev, ModeDisabled:
		return mode, nil
	default:
		return "", fmt.Errorf("AUTH_MODE must be one of: oidc, dev, disabled (got %q)", raw)
	}
}

func parseScopes(value string) []string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return []string{"openid", "profile", "email"}
	}
	return fields
}

// parseCSV lowercases, trims and dedupes a comma separated list.
func parseCSV(value string) []string {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(value, ",") {
		item := strings.ToLower(strings.TrimSpace(part))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}

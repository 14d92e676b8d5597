package auth

import (
	"context"
	"fmt"
	"net/http"
)

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevAuthenticator treats every request as the configured dev identity.
type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg DevConfig) *DevAuthenticator {
	return &DevAuthenticator{identity: cfg.Identity()}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// anonymousAuthenticator is used with AUTH_MODE=disabled. The caller gets
// every lab role.
type anonymousAuthenticator struct{}

func (anonymousAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous", Roles: []string{RoleInstructor}}, nil
}

// NewAuthenticator picks the authenticator for cfg.Mode. OIDC mode returns
// the OIDC service so callers can mount its login routes.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, *OIDCService, error) {
	switch cfg.Mode {
	case ModeDev:
		return NewDevAuthenticator(cfg.Dev), nil, nil
	case ModeDisabled:
		return anonymousAuthenticator{}, nil, nil
	case ModeOIDC:
		svc, err := NewOIDCService(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return svc, svc, nil
	default:
		return nil, nil, fmt.Errorf("unsupported auth mode: %q", cfg.Mode)
	}
}

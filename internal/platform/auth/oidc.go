package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	loginCookieTTL  = 10 * time.Minute
	exchangeTimeout = 10 * time.Second
)

// OIDCService verifies ID tokens from a bearer header or the session cookie
// and serves the browser login round trip.
type OIDCService struct {
	cfg          Config
	verifier     *oidc.IDTokenVerifier
	oauth2Config oauth2.Config
}

func NewOIDCService(ctx context.Context, cfg Config) (*OIDCService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	return &OIDCService{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID}),
		oauth2Config: oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       cfg.OIDC.Scopes,
		},
	}, nil
}

func (s *OIDCService) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		rawToken = tokenFromCookie(r, s.cfg.Session.CookieName)
	}
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	idToken, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}
	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, err
	}
	return identityFromClaims(claims, s.cfg.Claims), nil
}

// Mount registers the login endpoints under /auth. Session and logout are
// always available; login and callback need a client secret and redirect URL.
func (s *OIDCService) Mount(mux *http.ServeMux) error {
	mux.HandleFunc("GET /auth/session", s.handleSession)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	if err := s.cfg.ValidateForLogin(); err != nil {
		return err
	}
	mux.HandleFunc("GET /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/callback", s.handleCallback)
	return nil
}

func (s *OIDCService) handleLogin(w http.ResponseWriter, r *http.Request) {
	var values [3]string
	for i := range values {
		v, err := randomBase64URL(32)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
			return
		}
		values[i] = v
	}
	state, verifier, nonce := values[0], values[1], values[2]

	s.setCookie(w, cookieOIDCState, state, loginCookieTTL)
	s.setCookie(w, cookieOIDCVerifier, verifier, loginCookieTTL)
	s.setCookie(w, cookieOIDCNonce, nonce, loginCookieTTL)
	s.setCookie(w, cookieReturnTo, safeReturnTo(r.URL.Query().Get("return_to")), loginCookieTTL)

	redirectURL := s.oauth2Config.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (s *OIDCService) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_code_or_state"})
		return
	}
	if cookie := tokenFromCookie(r, cookieOIDCState); cookie == "" || cookie != state {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_state"})
		return
	}
	codeVerifier := tokenFromCookie(r, cookieOIDCVerifier)
	nonce := tokenFromCookie(r, cookieOIDCNonce)
	if codeVerifier == "" || nonce == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_pkce_or_nonce"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), exchangeTimeout)
	defer cancel()

	token, err := s.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "token_exchange_failed"})
		return
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing_id_token"})
		return
	}
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_id_token"})
		return
	}
	if idToken.Nonce == "" || idToken.Nonce != nonce {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_nonce"})
		return
	}

	returnTo := safeReturnTo(tokenFromCookie(r, cookieReturnTo))
	s.setCookie(w, s.cfg.Session.CookieName, rawIDToken, s.cfg.Session.MaxAge)
	for _, name := range []string{cookieOIDCState, cookieOIDCVerifier, cookieOIDCNonce, cookieReturnTo} {
		s.setCookie(w, name, "", -1)
	}
	http.Redirect(w, r, returnTo, http.StatusFound)
}

func (s *OIDCService) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.setCookie(w, s.cfg.Session.CookieName, "", -1)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *OIDCService) handleSession(w http.ResponseWriter, r *http.Request) {
	identity, err := s.Authenticate(r.Context(), r)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, ErrUnauthenticated) {
			reason = "unauthorized"
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": reason})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subject": identity.Subject,
		"email":   identity.Email,
		"roles":   identity.Roles,
	})
}

// setCookie writes an HttpOnly cookie. A negative ttl clears it.
func (s *OIDCService) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	maxAge := -1
	if ttl > 0 {
		maxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Session.CookieSecure,
		SameSite: parseSameSite(s.cfg.Session.SameSite),
	})
}

func identityFromClaims(claims map[string]any, names ClaimsConfig) Identity {
	subject, _ := claims["sub"].(string)
	email, _ := claims[names.Email].(string)
	return Identity{
		Subject: subject,
		Email:   email,
		Roles:   rolesFromClaim(claims[names.Roles]),
	}
}

func rolesFromClaim(v any) []string {
	switch typed := v.(type) {
	case []any:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			if s, ok := item.(string); ok {
				items = append(items, s)
			}
		}
		return parseCSV(strings.Join(items, ","))
	case []string:
		return parseCSV(strings.Join(typed, ","))
	case string:
		return parseCSV(typed)
	default:
		return nil
	}
}

func tokenFromHeader(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func tokenFromCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

func randomBase64URL(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func safeReturnTo(raw string) string {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return u.Path
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

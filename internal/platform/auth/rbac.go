package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

// Lab roles, lowest first. A viewer follows sessions, a student drives them
// and an instructor can also list every session.
const (
	RoleViewer     = "viewer"
	RoleStudent    = "student"
	RoleInstructor = "instructor"
)

var roleLevels = map[string]int{
	RoleViewer:     1,
	RoleStudent:    2,
	RoleInstructor: 3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		if strings.TrimSuffix(r.URL.Path, "/") == "/sessions" {
			return RoleInstructor
		}
		return RoleViewer
	default:
		return RoleStudent
	}
}

func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return nil
		}
		return ErrForbidden
	}
}

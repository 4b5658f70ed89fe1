// Package authz decides whether an authenticated identity may use a matched
// path rule. It is evaluated strictly after authentication has succeeded; an
// unauthenticated caller never reaches this check.
package authz

import (
	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/identity"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/policy"
)

// Authorize evaluates the rule for the caller. Union semantics: when the
// rule names roles or users, access is granted if the caller's groups
// intersect the rule's roles OR the caller's name or email is listed in
// the rule's users. When the rule names neither, any authenticated caller
// is allowed.
//
// Denials carry a generic message; the failing rule is never revealed to
// the caller.
func Authorize(caller *identity.Identity, rule *policy.PathRule) error {
	if caller == nil {
		return errors.NewUnauthenticatedError("not authenticated", nil)
	}

	if len(rule.Roles) == 0 && len(rule.Users) == 0 {
		return nil
	}

	if matchesRoles(caller, rule.Roles) || matchesUsers(caller, rule.Users) {
		logger.Debugw("access granted", "subject", caller.Subject, "pattern", rule.Pattern)
		return nil
	}

	logger.Infow("access denied", "subject", caller.Subject, "pattern", rule.Pattern)
	return errors.NewUnauthorizedError("not allowed", nil)
}

func matchesRoles(caller *identity.Identity, roles []string) bool {
	if len(roles) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	for _, g := range caller.Groups {
		if allowed[g] {
			return true
		}
	}
	return false
}

func matchesUsers(caller *identity.Identity, users []string) bool {
	for _, u := range users {
		if u == "" {
			continue
		}
		if u == caller.Name || u == caller.Email {
			return true
		}
	}
	return false
}

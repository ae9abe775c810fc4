// Package perm evaluates the role hierarchy guarding privileged actions.
package perm

import "github.com/aurachat/aurad/internal/domain"

// Level returns the numeric rank of a role. The order is total and
// strict: founder(3) > admin(2) > member(1).
func Level(r domain.Role) int {
	return int(r)
}

// CanAct reports whether requester may perform a moderation action
// (role change, kick, ban toggle) against target. Equal ranks always
// fail, so nobody can act on a peer or on themselves by role.
func CanAct(requester, target domain.Role) bool {
	return Level(requester) > Level(target)
}

// CanAssign reports whether requester may grant newRole. Because the
// comparison is strict, founder can never be assigned through this path;
// only the registration bootstrap creates founders.
func CanAssign(requester, newRole domain.Role) bool {
	return Level(requester) > Level(newRole)
}

// RequireAct wraps CanAct into the error the guarded handlers return.
func RequireAct(requester, target domain.Role) error {
	if !CanAct(requester, target) {
		return &domain.AuthorizationError{
			Reason: requester.String() + " cannot act on " + target.String(),
		}
	}
	return nil
}

// RequireAssign wraps CanAssign likewise.
func RequireAssign(requester, newRole domain.Role) error {
	if !CanAssign(requester, newRole) {
		return &domain.AuthorizationError{
			Reason: requester.String() + " cannot assign " + newRole.String(),
		}
	}
	return nil
}

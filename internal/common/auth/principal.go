// Package auth carries the caller identity into workflow operations. Token
// validation happens upstream; operations only see an opaque actor ID and role.
package auth

import (
	"fmt"

	apperrors "funding-workflow/internal/common/errors"
)

type Role string

const (
	RoleSME    Role = "sme"
	RoleLender Role = "lender"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	ActorID string `json:"actorId"`
	Role    Role   `json:"role"`
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%s", p.Role, p.ActorID)
}

// Validate rejects anonymous principals and unknown roles.
func (p Principal) Validate() error {
	if p.ActorID == "" {
		return apperrors.NewForbiddenError("missing actor id")
	}
	switch p.Role {
	case RoleSME, RoleLender:
		return nil
	default:
		return apperrors.NewForbiddenError(fmt.Sprintf("unknown role %q", p.Role))
	}
}

// RequireRole fails with FORBIDDEN unless the principal holds role.
func RequireRole(p Principal, role Role, operation string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.Role != role {
		return apperrors.NewForbiddenError(fmt.Sprintf("%s requires role %s, caller is %s", operation, role, p.Role))
	}
	return nil
}

// RequireActor fails with FORBIDDEN unless the principal holds role and is ownerID.
func RequireActor(p Principal, role Role, ownerID, operation string) error {
	if err := RequireRole(p, role, operation); err != nil {
		return err
	}
	if p.ActorID != ownerID {
		return apperrors.NewForbiddenError(fmt.Sprintf("%s: %s does not own this resource", operation, p))
	}
	return nil
}

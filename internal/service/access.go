package service

import (
	"context"

	"github.com/lumenclass/agentrun/pkg/schema"
)

// ScopeAccessChecker decides which centers an actor may see and act in.
// AccessibleScopeIDs returns nil for unrestricted access and an explicit
// (possibly empty) list otherwise.
type ScopeAccessChecker interface {
	AccessibleScopeIDs(ctx context.Context, actor schema.Actor) ([]int64, error)
}

// RoleScopeChecker derives scope access from the actor itself:
// superadmins see every center, everyone else only their own.
type RoleScopeChecker struct{}

// NewRoleScopeChecker creates the default scope checker.
func NewRoleScopeChecker() *RoleScopeChecker { return &RoleScopeChecker{} }

func (c *RoleScopeChecker) AccessibleScopeIDs(ctx context.Context, actor schema.Actor) ([]int64, error) {
	if actor.HasRole(schema.RoleSuperadmin) {
		return nil, nil
	}
	if actor.CenterID == nil {
		return []int64{}, nil
	}
	return []int64{*actor.CenterID}, nil
}

var _ ScopeAccessChecker = (*RoleScopeChecker)(nil)

// scopeAllowed reports whether the given scope appears in the accessible
// list; a nil list means unrestricted.
func scopeAllowed(scopes []int64, scopeID int64) bool {
	if scopes == nil {
		return true
	}
	for _, s := range scopes {
		if s == scopeID {
			return true
		}
	}
	return false
}

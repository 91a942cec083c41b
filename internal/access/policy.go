package access

import (
	_ "embed"
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"github.com/ovaphlow/pitchfork/service-user-management/internal/apperr"
)

//go:embed model.conf
var modelContent string

// Objects and actions guarded by the policy.
const (
	ObjectUser  = "user"
	ObjectLayer = "layer"
	ObjectGroup = "group"

	ActionAssign = "assign"
	ActionCreate = "create"
)

// Privileged roles. Matching is exact and case-sensitive; there is no role hierarchy.
var privilegedRoles = []string{"ceo", "admin"}

// guarded lists every object/action pair the policy controls.
var guarded = [][2]string{
	{ObjectUser, ActionAssign},
	{ObjectLayer, ActionCreate},
	{ObjectGroup, ActionCreate},
}

// Policy answers "may this role perform this action on this object".
type Policy struct {
	enforcer *casbin.Enforcer
}

// NewPolicy builds the enforcer from the embedded model and the built-in
// allow-list: ceo and admin may reassign users and create layers and groups.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelContent)
	if err != nil {
		return nil, fmt.Errorf("parse casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	var rules [][]string
	for _, role := range privilegedRoles {
		for _, g := range guarded {
			rules = append(rules, []string{role, g[0], g[1]})
		}
	}
	if _, err := e.AddPolicies(rules); err != nil {
		return nil, fmt.Errorf("load casbin policies: %w", err)
	}
	return &Policy{enforcer: e}, nil
}

// Authorize returns apperr.ErrPermissionDenied unless role may perform act on obj.
func (p *Policy) Authorize(role, obj, act string) error {
	ok, err := p.enforcer.Enforce(role, obj, act)
	if err != nil {
		return fmt.Errorf("enforce policy: %w", err)
	}
	if !ok {
		return apperr.ErrPermissionDenied
	}
	return nil
}

// Privileged reports whether role holds any permission the policy guards.
func (p *Policy) Privileged(role string) (bool, error) {
	for _, g := range guarded {
		ok, err := p.enforcer.Enforce(role, g[0], g[1])
		if err != nil {
			return false, fmt.Errorf("enforce policy: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

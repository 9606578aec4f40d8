package access

import (
	"fmt"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"

	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/logger"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// FieldModel is the casbin model for field capabilities. A policy
// "p, role, resource, field, action" grants role the action on matching
// fields of resource; fields support keyMatch wildcards like "data.*".
// "g, user, role" assigns roles.
const FieldModel = `
[request_definition]
r = sub, obj, field, act

[policy_definition]
p = sub, obj, field, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && keyMatch(r.field, p.field) && r.act == p.act
`

// Policy is a single casbin policy line
type Policy struct {
	Subject  string `json:"subject" yaml:"subject"`
	Resource string `json:"resource" yaml:"resource"`
	Field    string `json:"field" yaml:"field"`
	Action   string `json:"action" yaml:"action"`
}

// NewEnforcer creates a casbin enforcer with FieldModel and the given
// policies
func NewEnforcer(policies []Policy) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(FieldModel)
	if err != nil {
		return nil, fmt.Errorf("cannot load field model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("cannot create enforcer: %w", err)
	}
	for _, p := range policies {
		if _, err := enforcer.AddPolicy(p.Subject, p.Resource, p.Field, p.Action); err != nil {
			return nil, fmt.Errorf("cannot add policy %v: %w", p, err)
		}
	}
	return enforcer, nil
}

// EnforcerCapability returns the field capability of subjects for resource.
// The capability allows a field if any of the subjects is allowed. Enforcer
// errors deny access.
func EnforcerCapability(enforcer *casbin.Enforcer, subjects []string, resource string) Capability {
	return func(action core.Action, _ pipeline.Document, field string) bool {
		for _, subject := range subjects {
			allowed, err := enforcer.Enforce(subject, resource, field, string(action))
			if err != nil {
				logger.Default().WithError(err).Errorf("Error 4801: cannot enforce %s %s %s", subject, resource, field)
				return false
			}
			if allowed {
				return true
			}
		}
		return false
	}
}

// Combine returns a capability which allows a field only if all
// capabilities allow it. Nil capabilities are skipped.
func Combine(capabilities ...Capability) Capability {
	return func(action core.Action, record pipeline.Document, field string) bool {
		for _, capability := range capabilities {
			if capability != nil && !capability(action, record, field) {
				return false
			}
		}
		return true
	}
}

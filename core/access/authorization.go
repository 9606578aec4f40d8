/*Package access provides utilities for access control

Read access is granted per field of a record. A Capability answers whether
the caller may perform an action on a field, and Project removes all
unreadable fields from a record. Capabilities are created from the role
permits of a resource, see Authorization.Capability, or from a casbin
enforcer, see EnforcerCapability.
*/
package access

import (
	"context"
	"path"
	"sync"

	"github.com/relabs-tech/resquery/core"
	"github.com/relabs-tech/resquery/core/pipeline"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

/*Authorization is a context object which stores authorization information
of the caller.

An authorization carries a list of roles and an optional identity.
Authorizations are added to a request context with

  ctx = auth.ContextWithAuthorization(ctx)

and retrieved with

  auth := AuthorizationFromContext(ctx)

The JWT middleware adds the authorization for bearer tokens.
*/
type Authorization struct {
	Identity string   `json:"identity,omitempty"`
	Roles    []string `json:"roles"`
}

// Permit grants a role operations on a resource. If Fields is not empty,
// read access is limited to the fields matching one of the patterns, e.g.
// "data.*" or "data.age". Patterns use path.Match syntax.
type Permit struct {
	Role       string        `json:"role" yaml:"role"`
	Operations []core.Action `json:"operations" yaml:"operations"`
	Fields     []string      `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// permitsFor returns the permits that apply to the authorization. The
// second return value is true if the authorization is unrestricted.
//
// The "admin" role is always authorized, unless permits are specified for
// "admin". If permits are given to "everybody", then they apply to all
// roles which have no permits of their own. Permits for "public" apply to
// every caller, including unauthorized ones.
func (a *Authorization) permitsFor(permits []Permit) ([]Permit, bool) {
	var roles []string
	if a != nil {
		roles = make([]string, 0, len(a.Roles)+1)
		roles = append(roles, a.Roles...)
	}
	roles = append(roles, "public")

	var result []Permit
	for _, role := range roles {
		rolePermits := permitsOfRole(role, permits)
		if len(rolePermits) == 0 && role != "public" {
			rolePermits = permitsOfRole("everybody", permits)
		}
		if len(rolePermits) == 0 && role == "admin" {
			return nil, true
		}
		result = append(result, rolePermits...)
	}
	return result, false
}

func permitsOfRole(role string, permits []Permit) []Permit {
	var result []Permit
	for _, permit := range permits {
		if permit.Role == role {
			result = append(result, permit)
		}
	}
	return result
}

// IsAuthorized returns true if the authorization may perform the operation
// on the resource with the given permits.
func (a *Authorization) IsAuthorized(operation core.Action, permits []Permit) bool {
	applicable, unrestricted := a.permitsFor(permits)
	if unrestricted {
		return true
	}
	for _, permit := range applicable {
		if permit.allows(operation) {
			return true
		}
	}
	return false
}

// Capability returns the field capability of the authorization for a
// resource with the given permits
func (a *Authorization) Capability(permits []Permit) Capability {
	applicable, unrestricted := a.permitsFor(permits)
	if unrestricted {
		return AllowAll
	}
	return func(action core.Action, _ pipeline.Document, field string) bool {
		for _, permit := range applicable {
			if permit.allows(action) && permit.allowsField(field) {
				return true
			}
		}
		return false
	}
}

func (p Permit) allows(operation core.Action) bool {
	for _, o := range p.Operations {
		if o == operation {
			return true
		}
	}
	return false
}

func (p Permit) allowsField(field string) bool {
	if len(p.Fields) == 0 {
		return true
	}
	for _, pattern := range p.Fields {
		if matched, err := path.Match(pattern, field); err == nil && matched {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// jwt middleware to cache authorization objects for bearer tokens.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth := a.cache[token]
	a.mutex.RUnlock()
	return auth
}

// Write stores an authorization in the in-memory cache.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

package authorization

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"
)

const (
	RoleService  = "service"
	RoleOperator = "operator"
)

var ErrForbidden = errors.New("forbidden")

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// defaultPolicies grants partner integrations the tenant and subscription
// routes. Operators inherit them and add the admin surface.
var defaultPolicies = [][]string{
	{RoleService, "/api/v1/plans", http.MethodGet},
	{RoleService, "/api/v1/tenants", http.MethodPost},
	{RoleService, "/api/v1/tenants/*", "*"},
	{RoleService, "/api/v1/subscriptions/*", http.MethodPost},
	{RoleOperator, "/api/v1/admin/*", "*"},
}

var defaultGroupings = [][]string{
	{RoleOperator, RoleService},
}

// Authorizer decides whether a role may call a route.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
	log      *zap.Logger
}

func New(log *zap.Logger) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load rbac model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("build enforcer: %w", err)
	}
	if _, err := enforcer.AddPolicies(defaultPolicies); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}
	if _, err := enforcer.AddGroupingPolicies(defaultGroupings); err != nil {
		return nil, fmt.Errorf("add role groupings: %w", err)
	}
	return &Authorizer{enforcer: enforcer, log: log.Named("authorization")}, nil
}

// Authorize returns ErrForbidden when role may not call method on path.
func (a *Authorizer) Authorize(role, path, method string) error {
	role = strings.TrimSpace(role)
	if role == "" {
		return ErrForbidden
	}
	ok, err := a.enforcer.Enforce(role, path, strings.ToUpper(method))
	if err != nil {
		return fmt.Errorf("enforce: %w", err)
	}
	if !ok {
		a.log.Debug("access denied",
			zap.String("role", role),
			zap.String("path", path),
			zap.String("method", method),
		)
		return ErrForbidden
	}
	return nil
}

// Grant adds a rule at runtime, e.g. for a role declared only in config.
func (a *Authorizer) Grant(role, path, method string) error {
	_, err := a.enforcer.AddPolicy(role, path, method)
	return err
}

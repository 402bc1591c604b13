package admission

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry is an immutable route-to-policy table built once at startup.
// Lookups for unregistered routes fail loudly: an unknown route is a
// configuration error, never an unlimited default.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry validates the given policies and builds an immutable
// registry. Defaults (key kind, backoff delays) are applied before
// validation so resolved policies are fully populated.
func NewRegistry(policies ...Policy) (*Registry, error) {
	m := make(map[string]Policy, len(policies))
	for _, p := range policies {
		p = p.withDefaults()
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, exists := m[p.RouteID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRoute, p.RouteID)
		}
		m[p.RouteID] = p
	}
	return &Registry{policies: m}, nil
}

// MustNewRegistry works like NewRegistry but panics on invalid input.
// Intended for static policy tables constructed at process start.
func MustNewRegistry(policies ...Policy) *Registry {
	r, err := NewRegistry(policies...)
	if err != nil {
		panic(fmt.Sprintf("admission: failed to build policy registry: %v", err))
	}
	return r
}

// Resolve returns the policy registered for the route.
// Returns ErrUnknownRoute when no policy is registered.
func (r *Registry) Resolve(routeID string) (Policy, error) {
	p, ok := r.policies[routeID]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownRoute, routeID)
	}
	return p, nil
}

// Routes returns the registered route identifiers in sorted order.
func (r *Registry) Routes() []string {
	routes := make([]string, 0, len(r.policies))
	for id := range r.policies {
		routes = append(routes, id)
	}
	sort.Strings(routes)
	return routes
}

// Policy file schema. Durations use Go syntax ("30s", "1m").
type policyFile struct {
	Policies []policyDoc `yaml:"policies"`
}

type policyDoc struct {
	Route                  string          `yaml:"route"`
	Window                 string          `yaml:"window"`
	MaxRequests            int             `yaml:"max_requests"`
	Scope                  string          `yaml:"scope"`
	KeyKind                string          `yaml:"key_kind"`
	SkipSuccessfulRequests bool            `yaml:"skip_successful_requests"`
	SkipFailedRequests     bool            `yaml:"skip_failed_requests"`
	AuthBackoff            *authBackoffDoc `yaml:"auth_backoff"`
}

type authBackoffDoc struct {
	FailureStatusCodes []int  `yaml:"failure_status_codes"`
	BaseDelay          string `yaml:"base_delay"`
	MaxDelay           string `yaml:"max_delay"`
}

// LoadPolicies parses a YAML policy table, the configuration surface an
// application ships alongside its route definitions:
//
//	policies:
//	  - route: auth.login
//	    window: 1m
//	    max_requests: 10
//	    scope: ip
//	    auth_backoff:
//	      failure_status_codes: [400, 401, 403]
//
// The returned policies are not yet validated; pass them to NewRegistry.
func LoadPolicies(r io.Reader) ([]Policy, error) {
	var file policyFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	policies := make([]Policy, 0, len(file.Policies))
	for _, doc := range file.Policies {
		window, err := parseDuration(doc.Window, doc.Route, "window")
		if err != nil {
			return nil, err
		}

		p := Policy{
			RouteID:                doc.Route,
			Window:                 window,
			MaxRequests:            doc.MaxRequests,
			Scope:                  Scope(doc.Scope),
			KeyKind:                KeyKind(doc.KeyKind),
			SkipSuccessfulRequests: doc.SkipSuccessfulRequests,
			SkipFailedRequests:     doc.SkipFailedRequests,
		}

		if doc.AuthBackoff != nil {
			b := AuthBackoff{FailureStatusCodes: doc.AuthBackoff.FailureStatusCodes}
			if doc.AuthBackoff.BaseDelay != "" {
				if b.BaseDelay, err = parseDuration(doc.AuthBackoff.BaseDelay, doc.Route, "base_delay"); err != nil {
					return nil, err
				}
			}
			if doc.AuthBackoff.MaxDelay != "" {
				if b.MaxDelay, err = parseDuration(doc.AuthBackoff.MaxDelay, doc.Route, "max_delay"); err != nil {
					return nil, err
				}
			}
			p.AuthBackoff = &b
		}

		policies = append(policies, p)
	}
	return policies, nil
}

func parseDuration(s, route, field string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad %s %q for route %s", ErrInvalidPolicy, field, s, route)
	}
	return d, nil
}

package host

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/atlas/vm/dist"
)

// ErrDenied is returned for capabilities the policy does not allow.
var ErrDenied = errors.New("capability denied")

// Policy controls which capabilities code may use. A nil Allowed set means
// "allow all"; Denied always wins.
type Policy struct {
	Allowed map[string]bool // nil = allow all
	Denied  map[string]bool
}

// NewPermissivePolicy creates a policy that allows all capabilities.
func NewPermissivePolicy() *Policy {
	return &Policy{}
}

// NewRestrictedPolicy creates a policy that only allows the specified
// capabilities.
func NewRestrictedPolicy(allowed []string) *Policy {
	m := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		m[c] = true
	}
	return &Policy{Allowed: m}
}

// Allows reports whether capability may be called.
func (p *Policy) Allows(capability string) bool {
	if p == nil {
		return true
	}
	if p.Denied[capability] {
		return false
	}
	return p.Allowed == nil || p.Allowed[capability]
}

// Check verifies that all capabilities required by a manifest are allowed
// by this policy. Returns an error naming the first denied capability.
func (p *Policy) Check(manifest *dist.CapabilityManifest) error {
	if manifest == nil {
		return nil
	}
	for _, c := range manifest.Required {
		if p != nil && p.Denied[c] {
			return fmt.Errorf("%w: %q is explicitly denied", ErrDenied, c)
		}
		if !p.Allows(c) {
			return fmt.Errorf("%w: %q is not allowed", ErrDenied, c)
		}
	}
	return nil
}

// Deny adds a capability to the deny list.
func (p *Policy) Deny(capability string) {
	if p.Denied == nil {
		p.Denied = make(map[string]bool)
	}
	p.Denied[capability] = true
}

// String lists the policy for logs.
func (p *Policy) String() string {
	if p == nil {
		return "allow all"
	}
	s := "allow all"
	if p.Allowed != nil {
		s = fmt.Sprintf("allow %v", sortedKeys(p.Allowed))
	}
	if len(p.Denied) > 0 {
		s += fmt.Sprintf(", deny %v", sortedKeys(p.Denied))
	}
	return s
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

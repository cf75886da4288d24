package security

import "strings"

// Authorizer checks whether a caller identity is allowed. Identities are
// Telegram user ids or WebSocket Origin header values.
type Authorizer struct {
	exact    map[string]bool
	prefixes []string
}

// NewAuthorizer creates an authorizer with the given allowed identities.
// An entry ending in "*" allows every identity with that prefix, e.g.
// "chrome-extension://*". If the list is empty, everyone is allowed.
func NewAuthorizer(allowed []string) *Authorizer {
	a := &Authorizer{exact: make(map[string]bool, len(allowed))}
	for _, id := range allowed {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(id, "*"); ok {
			a.prefixes = append(a.prefixes, prefix)
			continue
		}
		a.exact[id] = true
	}
	return a
}

// IsAllowed returns true if id is authorized.
func (a *Authorizer) IsAllowed(id string) bool {
	if len(a.exact) == 0 && len(a.prefixes) == 0 {
		return true // no allowlist = allow all
	}
	if a.exact[id] {
		return true
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// Open reports whether the authorizer has no allowlist.
func (a *Authorizer) Open() bool {
	return len(a.exact) == 0 && len(a.prefixes) == 0
}

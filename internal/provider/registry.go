package provider

import (
	"strings"
)

// SystemProviderIDs are zero-credential providers that are always probed,
// even when absent from the configuration. Their capabilities authenticate
// through locally cached CLI tokens passed in via Extra.
var SystemProviderIDs = []string{"codex", "claude"}

// IsSystemProvider reports whether id belongs to the fixed zero-credential
// set.
func IsSystemProvider(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, sys := range SystemProviderIDs {
		if id == sys {
			return true
		}
	}
	return false
}

// aliasRule maps a configured ID onto a registered capability when no exact
// match exists. Rules are evaluated in order after the exact lookup, so the
// most specific registration always wins and family substrings cannot
// shadow an exact ID.
type aliasRule struct {
	Name       string
	Matches    func(id string) bool
	Capability string
}

func substringRule(name, fragment, capability string) aliasRule {
	return aliasRule{
		Name:       name,
		Matches:    func(id string) bool { return strings.Contains(id, fragment) },
		Capability: capability,
	}
}

func prefixRule(name, prefix, capability string) aliasRule {
	return aliasRule{
		Name:       name,
		Matches:    func(id string) bool { return strings.HasPrefix(id, prefix) },
		Capability: capability,
	}
}

// Registry resolves configured provider IDs to capabilities.
type Registry struct {
	caps    map[string]Capability
	aliases []aliasRule
	generic Capability
}

// NewRegistry builds a registry with the built-in capabilities and alias
// rules registered.
func NewRegistry() *Registry {
	r := &Registry{caps: map[string]Capability{}}

	r.Register(NewCodex())
	r.Register(NewClaude())
	r.Register(NewAntigravity())
	r.Register(NewGeminiCLI())

	generic := NewOpenAICompat()
	r.Register(generic)
	r.generic = generic

	// Family aliases. Sub-provider rows like "antigravity.gemini-3-pro"
	// resolve back to the antigravity capability; gemini sub-brands map to
	// the CLI quota endpoint.
	r.aliases = []aliasRule{
		prefixRule("antigravity-family", "antigravity", "antigravity"),
		prefixRule("codex-family", "codex", "codex"),
		substringRule("claude-family", "claude", "claude"),
		substringRule("gemini-family", "gemini", "gemini-cli"),
	}

	return r
}

// Register adds a capability under its canonical ID.
func (r *Registry) Register(capability Capability) {
	if r == nil || capability == nil {
		return
	}
	id := strings.ToLower(strings.TrimSpace(capability.ID()))
	if id == "" {
		return
	}
	if r.caps == nil {
		r.caps = map[string]Capability{}
	}
	r.caps[id] = capability
}

// Resolve finds the capability for a config: exact ID match first, then the
// ordered alias rules, then the generic capability when the config declares
// an API-key payment style. ok is false when nothing matches.
func (r *Registry) Resolve(cfg Config) (Capability, bool) {
	if r == nil {
		return nil, false
	}
	id := strings.ToLower(strings.TrimSpace(cfg.ID))
	if id == "" {
		return nil, false
	}

	if capability, ok := r.caps[id]; ok {
		return capability, true
	}

	for _, rule := range r.aliases {
		if !rule.Matches(id) {
			continue
		}
		if capability, ok := r.caps[rule.Capability]; ok {
			return capability, true
		}
	}

	if r.generic != nil && strings.EqualFold(strings.TrimSpace(cfg.Payment), "api-key") {
		return r.generic, true
	}

	return nil, false
}

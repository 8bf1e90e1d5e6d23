package resolver

import (
	"path/filepath"
	"strings"

	"github.com/slipway-sh/deployer/internal/config"
)

const tagRefPrefix = "refs/tags/"

// matchRule evaluates one typed matcher rule against a fully qualified ref.
// Rules are evaluated in the order they are configured; the caller stops at
// the first match.
func matchRule(rule config.MatchRule, ref string) bool {
	switch rule.Type {
	case config.RuleExact:
		return ref == rule.Value
	case config.RulePrefix:
		return strings.HasPrefix(ref, rule.Value)
	case config.RuleGlob:
		return matchGlob(rule.Pattern, ref)
	case config.RuleTag:
		if !strings.HasPrefix(ref, tagRefPrefix) {
			return false
		}
		return matchGlob(rule.Pattern, strings.TrimPrefix(ref, tagRefPrefix))
	default:
		return false
	}
}

// matchGlob performs a simple glob match (supports * wildcard)
func matchGlob(pattern, s string) bool {
	matched, err := filepath.Match(pattern, s)
	if err != nil {
		return false
	}
	return matched
}

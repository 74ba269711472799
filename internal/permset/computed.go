package permset

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openmined/syftsync/internal/utils"
)

// Computed is the result of folding every applicable rule for a (user, path)
// pair: four permission bits plus four terminal latches.
type Computed struct {
	User string
	Path string

	perms    [numKinds]bool
	terminal [numKinds]bool
}

// Evaluate folds rules into a computed permission. Rules must be ordered
// with SortRules; the caller gathers only rules whose directory is an
// ancestor of path (Apply re-checks, so a superset is safe).
func Evaluate(rules []*CompiledRule, user, path string) *Computed {
	c := &Computed{User: user, Path: utils.NormPath(path)}
	for _, rule := range rules {
		c.Apply(rule)
	}
	return c
}

// Apply folds one rule into the computed state. Kinds already latched
// terminal are left untouched; if the rule is terminal, the kinds it names
// are latched.
func (c *Computed) Apply(rule *CompiledRule) {
	if !c.userMatches(rule) || !c.pathMatches(rule) {
		return
	}
	for _, k := range AllKinds() {
		if !rule.Names(k) {
			continue
		}
		if !c.terminal[k] {
			c.perms[k] = !rule.Disallow
		}
		if rule.Terminal {
			c.terminal[k] = true
		}
	}
}

// Has reports the effective permission. The datasite owner always has every
// kind; admin implies every kind.
func (c *Computed) Has(k Kind) bool {
	if c.Owner() == c.User {
		return true
	}
	if c.perms[Admin] {
		return true
	}
	return c.perms[k]
}

// Owner is the datasite owning the path, i.e. its first segment.
func (c *Computed) Owner() string {
	return utils.PathOwner(c.Path)
}

func (c *Computed) userMatches(rule *CompiledRule) bool {
	return rule.User == Everyone || rule.User == c.User
}

func (c *Computed) pathMatches(rule *CompiledRule) bool {
	rel, ok := relativeTo(c.Path, rule.PermfileDir)
	if !ok {
		return false
	}

	pattern := rule.Pattern
	if strings.Contains(pattern, EmailTemplate) {
		pattern = strings.ReplaceAll(pattern, EmailTemplate, c.User)
	}

	matched, err := doublestar.Match(pattern, rel)
	if err != nil {
		return false
	}
	return matched
}

// relativeTo returns path relative to dir when dir is an ancestor of path.
func relativeTo(path, dir string) (string, bool) {
	if dir == "" {
		return path, true
	}
	rel, found := strings.CutPrefix(path, dir+"/")
	if !found {
		return "", false
	}
	return rel, true
}

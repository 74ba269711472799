package permset

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// CompiledRule is the flattened, persistable form of a rule: one row per
// rule, carrying its owning permission file's directory and depth so rule
// sets from different directories can be ordered without reparsing files.
type CompiledRule struct {
	ID            int64  `db:"id"`
	PermfileDir   string `db:"permfile_dir"`
	PermfileDepth int    `db:"permfile_depth"`
	Priority      int    `db:"priority"`
	Pattern       string `db:"path_pattern"`
	User          string `db:"user"`
	CanRead       bool   `db:"can_read"`
	CanCreate     bool   `db:"can_create"`
	CanWrite      bool   `db:"can_write"`
	Admin         bool   `db:"admin"`
	Disallow      bool   `db:"disallow"`
	Terminal      bool   `db:"terminal"`
}

// Compile flattens a parsed permission file into rows.
func Compile(f *File) []*CompiledRule {
	depth := f.Depth()
	dir := f.DirPath()

	rows := make([]*CompiledRule, 0, len(f.Rules))
	for _, r := range f.Rules {
		rows = append(rows, &CompiledRule{
			PermfileDir:   dir,
			PermfileDepth: depth,
			Priority:      r.Priority,
			Pattern:       r.Path,
			User:          r.User,
			CanRead:       r.Permissions.Contains(Read),
			CanCreate:     r.Permissions.Contains(Create),
			CanWrite:      r.Permissions.Contains(Write),
			Admin:         r.Permissions.Contains(Admin),
			Disallow:      !r.Allow,
			Terminal:      r.Terminal,
		})
	}
	return rows
}

// Rule reconstructs the source-form rule from a compiled row.
func (c *CompiledRule) Rule() *Rule {
	perms := mapset.NewSet[Kind]()
	if c.CanRead {
		perms.Add(Read)
	}
	if c.CanCreate {
		perms.Add(Create)
	}
	if c.CanWrite {
		perms.Add(Write)
	}
	if c.Admin {
		perms.Add(Admin)
	}
	return &Rule{
		Path:        c.Pattern,
		User:        c.User,
		Permissions: perms,
		Allow:       !c.Disallow,
		Terminal:    c.Terminal,
		Priority:    c.Priority,
	}
}

// Names reports which kinds this rule touches.
func (c *CompiledRule) Names(k Kind) bool {
	switch k {
	case Read:
		return c.CanRead
	case Create:
		return c.CanCreate
	case Write:
		return c.CanWrite
	case Admin:
		return c.Admin
	}
	return false
}

// SortRules orders rules for evaluation: ascending depth (shallowest
// permission file first), then ascending priority within a file.
func SortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].PermfileDepth != rules[j].PermfileDepth {
			return rules[i].PermfileDepth < rules[j].PermfileDepth
		}
		return rules[i].Priority < rules[j].Priority
	})
}

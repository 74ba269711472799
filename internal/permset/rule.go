package permset

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/openmined/syftsync/internal/utils"
)

const (
	// Everyone is the wildcard user.
	Everyone = "*"

	// EmailTemplate is substituted with the candidate user's email when a
	// rule pattern is resolved.
	EmailTemplate = "{useremail}"

	typeAllow    = "allow"
	typeDisallow = "disallow"
)

// Rule is a single entry of a permission file. Priority is its 0-based
// position within the file.
type Rule struct {
	Path        string
	User        string
	Permissions mapset.Set[Kind]
	Allow       bool
	Terminal    bool
	Priority    int
}

// ruleSpec is the YAML shape of a rule. Decoded with KnownFields so unknown
// keys are a parse error.
type ruleSpec struct {
	Path        string      `yaml:"path"`
	User        string      `yaml:"user"`
	Permissions stringOrSeq `yaml:"permissions"`
	Type        string      `yaml:"type"`
	Terminal    bool        `yaml:"terminal"`
}

// stringOrSeq accepts either a single string or a list of strings.
type stringOrSeq []string

func (s *stringOrSeq) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var one string
		if err := node.Decode(&one); err != nil {
			return err
		}
		*s = []string{one}
		return nil
	case yaml.SequenceNode:
		var many []string
		if err := node.Decode(&many); err != nil {
			return err
		}
		*s = many
		return nil
	default:
		return fmt.Errorf("line %d: permissions must be a string or a list of strings", node.Line)
	}
}

func (spec *ruleSpec) toRule(priority int) (*Rule, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("rule path cannot be empty")
	}
	if strings.HasPrefix(spec.Path, "../") {
		return nil, fmt.Errorf("path %q refers to a location above the permission file", spec.Path)
	}
	if i := strings.Index(spec.Path, "**"); i >= 0 {
		if j := strings.LastIndex(spec.Path, EmailTemplate); j > i {
			return nil, fmt.Errorf("path %q: ** can never be after %s", spec.Path, EmailTemplate)
		}
	}

	if spec.User != Everyone {
		if err := utils.ValidateEmail(spec.User); err != nil {
			return nil, fmt.Errorf("user %q is not a valid email or *", spec.User)
		}
	}

	if len(spec.Permissions) == 0 {
		return nil, fmt.Errorf("rule must name at least one permission")
	}
	perms := mapset.NewSet[Kind]()
	for _, name := range spec.Permissions {
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		perms.Add(kind)
	}

	allow := true
	switch spec.Type {
	case "", typeAllow:
	case typeDisallow:
		allow = false
	default:
		return nil, fmt.Errorf("rule type must be %q or %q, got %q", typeAllow, typeDisallow, spec.Type)
	}

	return &Rule{
		Path:        spec.Path,
		User:        spec.User,
		Permissions: perms,
		Allow:       allow,
		Terminal:    spec.Terminal,
		Priority:    priority,
	}, nil
}

func (r *Rule) toSpec() *ruleSpec {
	names := make([]string, 0, r.Permissions.Cardinality())
	for _, k := range AllKinds() {
		if r.Permissions.Contains(k) {
			names = append(names, k.String())
		}
	}
	spec := &ruleSpec{
		Path:        r.Path,
		User:        r.User,
		Permissions: names,
		Terminal:    r.Terminal,
	}
	if !r.Allow {
		spec.Type = typeDisallow
	}
	return spec
}

// HasEmailTemplate reports whether the rule pattern contains {useremail}.
func (r *Rule) HasEmailTemplate() bool {
	return strings.Contains(r.Path, EmailTemplate)
}

// ResolvePattern substitutes {useremail} with the candidate user's email.
func (r *Rule) ResolvePattern(email string) string {
	return strings.ReplaceAll(r.Path, EmailTemplate, email)
}

// UserMatches reports whether the rule applies to the candidate user.
func (r *Rule) UserMatches(user string) bool {
	return r.User == Everyone || r.User == user
}

package permset

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/openmined/syftsync/internal/utils"
)

// PermFileName is the well-known filename of a permission file.
const PermFileName = "syftperm.yaml"

// LegacyPermFileName is the old JSON permission file, migrated at server
// startup.
const LegacyPermFileName = "_.syftperm"

// File is a parsed permission file: an ordered list of rules owned by the
// directory the file lives in. RelPath is the file's path relative to the
// datasites root.
type File struct {
	RelPath string
	Rules   []*Rule
}

// IsPermFile reports whether the relative path names a permission file.
func IsPermFile(relPath string) bool {
	return path.Base(relPath) == PermFileName
}

// IsLegacyPermFile reports whether the relative path names a legacy JSON
// permission file.
func IsLegacyPermFile(relPath string) bool {
	return path.Base(relPath) == LegacyPermFileName
}

// Parse decodes the YAML content of a permission file at relPath. Unknown
// keys and malformed rules are parse errors referencing the file.
func Parse(relPath string, content []byte) (*File, error) {
	relPath = utils.NormPath(relPath)

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var specs []ruleSpec
	if err := dec.Decode(&specs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", relPath, err)
	}

	rules := make([]*Rule, 0, len(specs))
	for i := range specs {
		rule, err := specs[i].toRule(i)
		if err != nil {
			return nil, fmt.Errorf("parse %s rule %d: %w", relPath, i, err)
		}
		rules = append(rules, rule)
	}

	return &File{RelPath: relPath, Rules: rules}, nil
}

// Load reads and parses the permission file at absPath, recording relPath as
// its location in the datasites tree.
func Load(absPath, relPath string) (*File, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	return Parse(relPath, content)
}

// Marshal renders the file's rules as YAML.
func (f *File) Marshal() ([]byte, error) {
	specs := make([]*ruleSpec, 0, len(f.Rules))
	for _, r := range f.Rules {
		specs = append(specs, r.toSpec())
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(specs); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", f.RelPath, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the file's rules as YAML to absPath.
func (f *File) Save(absPath string) error {
	content, err := f.Marshal()
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(absPath, content, 0o644)
}

// DirPath returns the directory owning this permission file, relative to the
// datasites root. Empty string for a file directly under the root.
func (f *File) DirPath() string {
	dir := path.Dir(f.RelPath)
	if dir == "." {
		return ""
	}
	return dir
}

// Depth is the number of path segments up to and including the permission
// file itself, used to order rules shallowest-first.
func (f *File) Depth() int {
	return len(strings.Split(f.RelPath, "/"))
}

// DatasiteDefault is the permission file created at a fresh datasite root:
// the owner holds every permission on the whole subtree.
func DatasiteDefault(email string) *File {
	return &File{
		RelPath: path.Join(email, PermFileName),
		Rules: []*Rule{
			{
				Path:        "**",
				User:        email,
				Permissions: kindSet(Admin, Create, Write, Read),
				Allow:       true,
				Priority:    0,
			},
		},
	}
}

// PublicReadDefault is the permission file for a datasite's public folder:
// owner admin plus world read.
func PublicReadDefault(email, relDir string) *File {
	return &File{
		RelPath: path.Join(relDir, PermFileName),
		Rules: []*Rule{
			{
				Path:        "**",
				User:        email,
				Permissions: kindSet(Admin),
				Allow:       true,
				Priority:    0,
			},
			{
				Path:        "**",
				User:        Everyone,
				Permissions: kindSet(Read),
				Allow:       true,
				Priority:    1,
			},
		},
	}
}

func kindSet(kinds ...Kind) mapset.Set[Kind] {
	return mapset.NewSet(kinds...)
}

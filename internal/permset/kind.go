package permset

import "fmt"

// Kind is one of the four permission kinds a rule can grant or revoke.
type Kind uint8

const (
	Read Kind = iota
	Create
	Write
	Admin

	numKinds
)

var kindNames = [numKinds]string{"read", "create", "write", "admin"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a permission name from a rule file to a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if s == name {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// AllKinds returns every permission kind.
func AllKinds() []Kind {
	return []Kind{Read, Create, Write, Admin}
}

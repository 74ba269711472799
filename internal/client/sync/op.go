package sync

import (
	"fmt"

	"github.com/openmined/syftsync/internal/permset"
	"github.com/openmined/syftsync/internal/syftmsg"
)

// OpKind is what the consumer must do to reconcile one path.
type OpKind uint8

const (
	OpNone OpKind = iota
	OpPush
	OpPull
	OpDeleteLocal
	OpDeleteRemote
)

func (k OpKind) String() string {
	switch k {
	case OpPush:
		return "push"
	case OpPull:
		return "pull"
	case OpDeleteLocal:
		return "delete_local"
	case OpDeleteRemote:
		return "delete_remote"
	default:
		return "none"
	}
}

// Op is one queued sync operation.
type Op struct {
	Kind   OpKind
	Path   string
	Local  *syftmsg.FileMetadata // nil when absent locally
	Remote *syftmsg.FileMetadata // nil when absent remotely

	// Prioritized is set by the engine for paths matching the priority list
	Prioritized bool
}

func (o *Op) String() string {
	return fmt.Sprintf("%s %s", o.Kind, o.Path)
}

// priority classes: permission files drain before any data file; within a
// class, smaller files first so quick updates are not stuck behind bulk data
const (
	classPermFile   = 0
	classDataFile   = 1 << 20
	sizePriorityCap = classDataFile - 1
)

// Priority returns the queue priority of this op; lower drains first.
func (o *Op) Priority() int {
	size := int64(0)
	if o.Local != nil {
		size = o.Local.FileSize
	} else if o.Remote != nil {
		size = o.Remote.FileSize
	}
	if size > sizePriorityCap {
		size = sizePriorityCap
	}

	if o.Prioritized || permset.IsPermFile(o.Path) {
		return classPermFile + int(size)
	}
	return classDataFile + int(size)
}

package itemdb

import (
	"fmt"
	"slices"
	"time"
)

type (
	// Change describes what one commit did to one item.
	Change struct {
		item  *Item
		op    Op
		attrs []string
		flags ChangeFlags
	}

	ChangeFlags uint64

	Op int
)

const (
	OpNone   Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

const (
	ChangeRenamed ChangeFlags = 1 << iota
	ChangeMoved
	ChangeKind
	ChangeChildren
)

func (chg *Change) Item() *Item {
	return chg.item
}
func (chg *Change) ID() ID {
	return chg.item.id
}
func (chg *Change) Op() Op {
	return chg.op
}
func (chg *Change) Flags() ChangeFlags {
	return chg.flags
}

// Attributes returns the aliases written by the commit, sorted.
func (chg *Change) Attributes() []string {
	return slices.Clone(chg.attrs)
}

func (chg *Change) String() string {
	return fmt.Sprintf("%v %s %v", chg.op, chg.item.describe(), chg.attrs)
}

func (v ChangeFlags) Contains(f ChangeFlags) bool {
	return (v & f) == f
}
func (v ChangeFlags) ContainsAny(f ChangeFlags) bool {
	return (v & f) != 0
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", int(v))
	}
}

// CommitInfo is passed to OnCommit callbacks after a successful commit.
type CommitInfo struct {
	Version uint64
	Parent  uint64 // version the view was merged onto
	View    string
	Time    time.Time
	Changes []*Change
	Merged  bool // other commits landed since the view's previous base
}

// Change returns the change of the given item, or nil.
func (ci *CommitInfo) Change(it *Item) *Change {
	for _, chg := range ci.Changes {
		if chg.item == it {
			return chg
		}
	}
	return nil
}

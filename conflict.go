package itemdb

import (
	"fmt"
)

type ConflictCategory int

const (
	// DeleteConflict: one side deleted an item the other side modified.
	DeleteConflict ConflictCategory = iota + 1
	// RenameConflict: both sides renamed an item differently.
	RenameConflict
	// MoveConflict: both sides moved an item under different parents.
	MoveConflict
	// NameConflict: a name chosen locally is now taken by a sibling.
	NameConflict
	// ReferenceConflict: both sides re-pointed a single reference.
	ReferenceConflict
	// AliasConflict: an alias added locally to a reference list is now taken.
	AliasConflict
	// ValueConflict: both sides changed a literal attribute differently.
	ValueConflict
)

var conflictCategoryNames = map[ConflictCategory]string{
	DeleteConflict:    "delete",
	RenameConflict:    "rename",
	MoveConflict:      "move",
	NameConflict:      "name",
	ReferenceConflict: "reference",
	AliasConflict:     "alias",
	ValueConflict:     "value",
}

func (c ConflictCategory) String() string {
	if s, ok := conflictCategoryNames[c]; ok {
		return s
	}
	return fmt.Sprintf("ConflictCategory(%d)", int(c))
}

// Conflict is one disagreement between a view's edits and the versions
// committed since the view's base. Ours and Theirs hold the competing
// values:
//
//   - DeleteConflict: true for the side that deleted the item;
//   - RenameConflict, NameConflict, AliasConflict: names (strings);
//   - MoveConflict, ReferenceConflict: item ids (NilID for none);
//   - ValueConflict: literal values, nil when removed.
type Conflict struct {
	Category  ConflictCategory
	Item      *Item
	Attribute string
	Ours      any
	Theirs    any

	// Version is the latest committed version the view is merged onto.
	Version uint64
}

func (c *Conflict) String() string {
	var target string
	if c.Item != nil {
		target = c.Item.describe()
	}
	if c.Attribute != "" {
		target += "." + c.Attribute
	}
	return fmt.Sprintf("%v conflict on %s: ours %v, theirs %v", c.Category, target, c.Ours, c.Theirs)
}

// Resolver decides a conflict by returning the value to keep. For a
// DeleteConflict it must return ConfirmDeletion; a deleted item is never
// resurrected. For a NameConflict or AliasConflict it returns a new name for
// the local item or member. Returning an error aborts the commit.
type Resolver func(c *Conflict) (any, error)

type confirmDeletion struct{}

func (confirmDeletion) String() string { return "ConfirmDeletion" }

// ConfirmDeletion is the resolver answer accepting a deletion.
var ConfirmDeletion any = confirmDeletion{}

// KeepOurs resolves every conflict in favor of the local edits.
func KeepOurs(c *Conflict) (any, error) {
	switch c.Category {
	case DeleteConflict:
		return ConfirmDeletion, nil
	case NameConflict, AliasConflict:
		return fmt.Sprintf("%v (%s)", c.Ours, c.Item.id.String()[:8]), nil
	default:
		return c.Ours, nil
	}
}

// KeepTheirs resolves every conflict in favor of the committed versions.
func KeepTheirs(c *Conflict) (any, error) {
	switch c.Category {
	case DeleteConflict:
		return ConfirmDeletion, nil
	case NameConflict, AliasConflict:
		return fmt.Sprintf("%v (%s)", c.Ours, c.Item.id.String()[:8]), nil
	default:
		return c.Theirs, nil
	}
}

package itemdb

import (
	"maps"
	"slices"
)

// Delete removes the item: its children are deleted first, then literal
// values are cleared, references are severed (collecting the targets of
// cascade-policy attributes), and the item leaves its parent. Collected
// targets whose reference count dropped to zero are deleted last. Deleting
// a deleted item is a no-op.
func (it *Item) Delete() error {
	if it.status.Has(StatusDeleted) || it.status.Has(StatusDeleting) {
		return nil
	}
	v := it.view
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: DELETE", "item", it.describe())
	}
	it.status |= StatusDeleting
	cascade, err := it.sever()
	if err != nil {
		it.status &^= StatusDeleting
		return err
	}

	it.status = (it.status | StatusDeleted) &^ StatusDeleting
	it.setDirty()
	v.itemDeleted(it)

	for _, other := range cascade {
		if other.IsDeleted() || other.RefCount() > 0 {
			continue
		}
		if err := other.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// sever deletes the children, clears the values and references of the item
// and unlinks it from its parent. It returns the cascade candidates.
func (it *Item) sever() ([]*Item, error) {
	v := it.view
	children, err := it.Children()
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		if err := c.Delete(); err != nil {
			return nil, err
		}
	}

	for _, alias := range slices.Sorted(maps.Keys(it.values)) {
		delete(it.values, alias)
		it.markAttrDirty(alias)
	}

	var cascade []*Item
	for _, alias := range slices.Sorted(maps.Keys(it.refs)) {
		a := it.attribute(alias)
		for _, id := range refIDs(it.refs[alias]) {
			other, err := v.load(id)
			if err != nil {
				return nil, err
			}
			if other == nil {
				it.dropRef(alias, id)
				continue
			}
			if a != nil && a.deletePolicy == DeleteCascade && !slices.Contains(cascade, other) {
				cascade = append(cascade, other)
			}
			if err := it.detach(alias, other); err != nil {
				return nil, err
			}
		}
		delete(it.refs, alias)
		it.markAttrDirty(alias)
	}

	siblings, err := v.childrenOf(it.parentID)
	if err != nil {
		return nil, err
	}
	siblings.Remove(it.id)
	v.childrenChanged(it.parentID)
	return cascade, nil
}

// RefCount is the number of references held in the item's attributes whose
// count policy is CountRefs.
func (it *Item) RefCount() int {
	var n int
	for alias, r := range it.refs {
		if a := it.attribute(alias); a != nil && a.countPolicy == CountRefs {
			n += refCount(r)
		}
	}
	return n
}

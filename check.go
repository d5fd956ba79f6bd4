package itemdb

import (
	"maps"
	"slices"
)

// Check validates the item's structure: every ordered collection it owns
// iterates to its declared length, every index is valid, and every
// bidirectional reference is mirrored on the other side. Problems are
// logged at warn level; Check returns false if any were found.
func (it *Item) Check() bool {
	logger := it.view.repo.logger
	ok := true
	fail := func(alias, msg string, args ...any) {
		logger.Warn("db: item check failed", append([]any{"item", it.describe(), "attr", alias, "problem", msg}, args...)...)
		ok = false
	}

	if it.children != nil {
		if err := it.children.Verify(); err != nil {
			fail("", "children", "err", err)
		}
	}

	for _, alias := range slices.Sorted(maps.Keys(it.refs)) {
		var lists []*RefList
		switch r := it.refs[alias].(type) {
		case *link:
		case *RefList:
			lists = append(lists, r)
		case *RefDict:
			for _, key := range r.keys {
				if l := r.lists[key]; l != nil {
					lists = append(lists, l)
				} else {
					fail(alias, "missing list", "key", key)
				}
			}
		default:
			fail(alias, "invalid reference value", "type", describeRef(r))
			continue
		}
		for _, l := range lists {
			if err := l.coll.Verify(); err != nil {
				fail(alias, "collection", "err", err)
			}
			for _, idx := range l.indexes {
				if !idx.check() {
					ok = false
				}
			}
		}

		inv := inverseName(it.attribute(alias))
		if inv == "" {
			continue
		}
		for _, id := range refIDs(it.refs[alias]) {
			other, err := it.view.load(id)
			if err != nil {
				fail(alias, "load", "other", id, "err", err)
				continue
			}
			if other == nil || other.IsDeleted() {
				fail(alias, "dangling reference", "other", id)
				continue
			}
			if !slices.Contains(refIDs(other.refs[inv]), it.id) {
				fail(alias, "inverse missing", "other", other.describe(), "inverse", inv)
			}
		}
	}
	return ok
}

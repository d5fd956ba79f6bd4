package itemdb

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const maxInheritDepth = 32

func (it *Item) attribute(alias string) *Attribute {
	if it.kind == nil {
		return nil
	}
	a, _ := it.kind.Attribute(alias)
	return a
}

// lookupAttribute fails for undeclared attributes of items that have a
// kind; kindless items accept any attribute.
func (it *Item) lookupAttribute(alias string) (*Attribute, error) {
	a := it.attribute(alias)
	if a == nil && it.kind != nil {
		return nil, itemErrf(it, alias, ErrUnknownAttribute, "not declared by %s", it.kind.path)
	}
	return a, nil
}

func inverseName(a *Attribute) string {
	if a == nil {
		return ""
	}
	return a.otherName
}

// HasAttributeValue reports whether a value is stored locally (defaults and
// inherited values do not count).
func (it *Item) HasAttributeValue(alias string) bool {
	if _, ok := it.values[alias]; ok {
		return true
	}
	_, ok := it.refs[alias]
	return ok
}

// AttributeNames returns the aliases with locally stored values, sorted.
func (it *Item) AttributeNames() []string {
	out := make([]string, 0, len(it.values)+len(it.refs))
	for a := range it.values {
		out = append(out, a)
	}
	for a := range it.refs {
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}

// GetAttributeValue returns, in order of preference: the literal value, the
// reference (a single reference unwrapped to its *Item, multi-valued ones as
// *RefList or *RefDict), the value inherited through the attribute's
// inheritFrom chain, the caller's default, the declared default. Otherwise
// it fails with ErrMissingAttributeValue.
func (it *Item) GetAttributeValue(alias string, def ...any) (any, error) {
	if err := it.ensureLive(); err != nil {
		return nil, err
	}
	return it.getAttributeValue(alias, def, 0)
}

func (it *Item) getAttributeValue(alias string, def []any, depth int) (any, error) {
	if v, ok := it.values[alias]; ok {
		return cloneValue(v), nil
	}
	if r, ok := it.refs[alias]; ok {
		switch r := r.(type) {
		case *link:
			other, err := it.view.load(r.other)
			if err != nil {
				return nil, err
			}
			if other == nil || other.IsDeleted() {
				return nil, itemErrf(it, alias, ErrInvalidReferenceState, "dangling reference to %v", r.other)
			}
			return other, nil
		default:
			return r, nil
		}
	}
	a, err := it.lookupAttribute(alias)
	if err != nil && len(def) == 0 {
		return nil, err
	}
	if a != nil && a.inheritFrom != "" && depth < maxInheritDepth {
		v, ok, err := it.inherited(a.inheritFrom, depth+1)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	if len(def) > 0 {
		return def[0], nil
	}
	if a != nil && a.hasDefault {
		return cloneValue(a.defaultValue), nil
	}
	return nil, itemErrf(it, alias, ErrMissingAttributeValue, "")
}

func (it *Item) inherited(chain string, depth int) (any, bool, error) {
	parts := strings.Split(chain, ".")
	cur := it
	for i, p := range parts {
		v, err := cur.getAttributeValue(p, nil, depth)
		if errors.Is(err, ErrMissingAttributeValue) || errors.Is(err, ErrUnknownAttribute) {
			return nil, false, nil
		} else if err != nil {
			return nil, false, err
		}
		if i == len(parts)-1 {
			return v, true, nil
		}
		next, ok := v.(*Item)
		if !ok {
			return nil, false, nil
		}
		cur = next
	}
	return nil, false, nil
}

// GetAs returns an attribute value converted to T. Stored integers are int64;
// GetAs[int] converts them.
func GetAs[T any](it *Item, alias string, def ...T) (T, error) {
	var zero T
	var defs []any
	if len(def) > 0 {
		defs = []any{def[0]}
	}
	v, err := it.GetAttributeValue(alias, defs...)
	if err != nil {
		return zero, err
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if n, ok := v.(int64); ok {
		if t, ok := any(int(n)).(T); ok {
			return t, nil
		}
	}
	return zero, itemErrf(it, alias, ErrInvalidValue, "value is %T, wanted %T", v, zero)
}

// SetAttributeValue stores a value. *Item values go to the reference store:
// a single reference is re-pointed (the inverse side is updated on both the
// old and the new target), a multi-valued one gets the item added. []*Item
// replaces the contents of a multi-valued reference. Other values are
// normalized literals checked against the attribute's cardinality and type.
// A nil value removes the attribute value if present.
func (it *Item) SetAttributeValue(alias string, value any) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	a, err := it.lookupAttribute(alias)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case nil:
		if !it.HasAttributeValue(alias) {
			return nil
		}
		return it.RemoveAttributeValue(alias)
	case *Item:
		return it.setRef(a, alias, v)
	case []*Item:
		return it.setRefs(a, alias, v)
	}
	if a != nil && a.IsReference() {
		return itemErrf(it, alias, ErrInvalidValue, "reference attribute cannot hold %T", value)
	}
	n, err := normalizeValue(value)
	if err != nil {
		return itemErrf(it, alias, err, "")
	}
	var card Cardinality
	var typ ValueType
	if a != nil {
		card, typ = a.card, a.typ
	}
	switch card {
	case Single:
		if err := checkValueType(typ, n); err != nil {
			return itemErrf(it, alias, err, "")
		}
	case Sequence, Set:
		list, ok := n.([]any)
		if !ok {
			return itemErrf(it, alias, ErrInvalidCardinality, "%v attribute needs a list, got %T", card, value)
		}
		for _, e := range list {
			if err := checkValueType(typ, e); err != nil {
				return itemErrf(it, alias, err, "")
			}
		}
		if card == Set {
			n = dedupValues(list)
		}
	case Mapping:
		m, ok := n.(map[string]any)
		if !ok {
			return itemErrf(it, alias, ErrInvalidCardinality, "mapping attribute needs a map, got %T", value)
		}
		for _, e := range m {
			if err := checkValueType(typ, e); err != nil {
				return itemErrf(it, alias, err, "")
			}
		}
	}
	if _, isRef := it.refs[alias]; isRef {
		if err := it.severAll(alias); err != nil {
			return err
		}
	}
	it.values[alias] = n
	it.markAttrDirty(alias)
	return nil
}

func dedupValues(list []any) []any {
	out := make([]any, 0, len(list))
	for _, e := range list {
		if !slices.ContainsFunc(out, func(x any) bool { return valuesEqual(x, e) }) {
			out = append(out, e)
		}
	}
	return out
}

// refCardinality is the declared cardinality, or the stored form for
// undeclared attributes.
func (it *Item) refCardinality(a *Attribute, alias string, multi bool) Cardinality {
	if a != nil {
		return a.card
	}
	switch it.refs[alias].(type) {
	case *link:
		return Single
	case *RefList:
		return Sequence
	case *RefDict:
		return Mapping
	}
	if multi {
		return Sequence
	}
	return Single
}

func (it *Item) setRef(a *Attribute, alias string, other *Item) error {
	if err := it.checkTarget(alias, other); err != nil {
		return err
	}
	if _, isLiteral := it.values[alias]; isLiteral {
		delete(it.values, alias)
	}
	return it.attach(alias, other, refKey(other), nil, false)
}

func (it *Item) setRefs(a *Attribute, alias string, items []*Item) error {
	if it.refCardinality(a, alias, true) == Single {
		return itemErrf(it, alias, ErrInvalidCardinality, "cannot assign a list to a single reference")
	}
	for _, other := range items {
		if err := it.checkTarget(alias, other); err != nil {
			return err
		}
	}
	delete(it.values, alias)
	keep := make(map[ID]bool, len(items))
	for _, other := range items {
		keep[other.id] = true
	}
	for _, id := range refIDs(it.refs[alias]) {
		if keep[id] {
			continue
		}
		if err := it.detachID(alias, id); err != nil {
			return err
		}
	}
	for _, other := range items {
		if err := it.attach(alias, other, refKey(other), nil, true); err != nil {
			return err
		}
	}
	if list, ok := it.refs[alias].(*RefList); ok {
		var prev *Item
		for _, other := range items {
			if err := list.Place(other, prev); err != nil {
				return err
			}
			prev = other
		}
	} else if _, ok := it.refs[alias]; !ok {
		it.refs[alias] = newRefList(it, alias, it.view.repo.reg.NewID())
		it.markAttrDirty(alias)
	}
	return nil
}

func (it *Item) checkTarget(alias string, other *Item) error {
	if other == nil {
		return itemErrf(it, alias, ErrInvalidValue, "nil item")
	}
	if other.view != it.view {
		return itemErrf(it, alias, ErrInvalidValue, "%s belongs to another view", other.describe())
	}
	return other.ensureLive()
}

// refKey is the mapping key an item is filed under by default.
func refKey(other *Item) string {
	return other.id.String()
}

// attach links other into it.alias and mirrors the reference on other's
// inverse attribute. after positions the new member of a multi-valued
// reference; nil appends.
func (it *Item) attach(alias string, other *Item, key string, after *ID, multi bool) error {
	a, err := it.lookupAttribute(alias)
	if err != nil {
		return err
	}
	if err := it.putRef(a, alias, other, key, after, multi); err != nil {
		return err
	}
	if inv := inverseName(a); inv != "" {
		oa, err := other.lookupAttribute(inv)
		if err != nil {
			return err
		}
		if err := other.putRef(oa, inv, it, refKey(it), nil, false); err != nil {
			return err
		}
	}
	return nil
}

// putRef stores one side of a reference. Re-pointing a single reference
// first severs the inverse on the previous target.
func (it *Item) putRef(a *Attribute, alias string, other *Item, key string, after *ID, multi bool) error {
	switch card := it.refCardinality(a, alias, multi); card {
	case Single:
		switch cur := it.refs[alias].(type) {
		case nil:
			it.refs[alias] = &link{other: other.id}
		case *link:
			if cur.other == other.id {
				return nil
			}
			if cur.other != NilID {
				if inv := inverseName(a); inv != "" {
					old, err := it.view.load(cur.other)
					if err != nil {
						return err
					}
					if old != nil {
						old.dropRef(inv, it.id)
					}
				}
			}
			cur.other = other.id
		default:
			return itemErrf(it, alias, ErrInvalidReferenceState, "single reference stored as %T", cur)
		}
		it.markAttrDirty(alias)
		return nil
	case Sequence, Set:
		list, err := it.refList(alias)
		if err != nil {
			return err
		}
		pos := lastOf(list.coll)
		if after != nil {
			pos = *after
		}
		return list.addRaw(other.id, pos, "")
	case Mapping:
		d, err := it.refDict(alias)
		if err != nil {
			return err
		}
		if key == "" {
			key = refKey(other)
		}
		list := d.list(key, true)
		pos := lastOf(list.coll)
		if after != nil {
			pos = *after
		}
		return list.addRaw(other.id, pos, "")
	default:
		return itemErrf(it, alias, ErrInvalidCardinality, "%v", card)
	}
}

func lastOf(c *orderedCollection[ID]) ID {
	id, _ := c.Last()
	return id
}

func (it *Item) refList(alias string) (*RefList, error) {
	switch cur := it.refs[alias].(type) {
	case nil:
		list := newRefList(it, alias, it.view.repo.reg.NewID())
		it.refs[alias] = list
		return list, nil
	case *RefList:
		return cur, nil
	default:
		return nil, itemErrf(it, alias, ErrInvalidReferenceState, "expected a reference list, found %T", cur)
	}
}

func (it *Item) refDict(alias string) (*RefDict, error) {
	switch cur := it.refs[alias].(type) {
	case nil:
		d := newRefDict(it, alias)
		it.refs[alias] = d
		return d, nil
	case *RefDict:
		return cur, nil
	default:
		return nil, itemErrf(it, alias, ErrInvalidReferenceState, "expected a reference dict, found %T", cur)
	}
}

// dropRef removes one side of a reference; the other side is untouched.
func (it *Item) dropRef(alias string, other ID) bool {
	switch r := it.refs[alias].(type) {
	case *link:
		if r.other != other {
			return false
		}
		delete(it.refs, alias)
		it.markAttrDirty(alias)
		return true
	case *RefList:
		return r.removeRaw(other)
	case *RefDict:
		return r.removeRaw(other)
	default:
		return false
	}
}

// detach severs the reference between it.alias and other on both sides.
func (it *Item) detach(alias string, other *Item) error {
	if !it.dropRef(alias, other.id) {
		return itemErrf(it, alias, ErrInvalidReferenceState, "no reference to %s", other.describe())
	}
	if inv := inverseName(it.attribute(alias)); inv != "" {
		if !other.dropRef(inv, it.id) {
			return itemErrf(other, inv, ErrInvalidReferenceState, "missing inverse of %s.%s", it.describe(), alias)
		}
	}
	return nil
}

func (it *Item) detachID(alias string, id ID) error {
	other, err := it.view.load(id)
	if err != nil {
		return err
	}
	if other == nil {
		if !it.dropRef(alias, id) {
			return itemErrf(it, alias, ErrInvalidReferenceState, "no reference to %v", id)
		}
		return nil
	}
	return it.detach(alias, other)
}

func (it *Item) severAll(alias string) error {
	for _, id := range refIDs(it.refs[alias]) {
		if err := it.detachID(alias, id); err != nil {
			return err
		}
	}
	delete(it.refs, alias)
	it.markAttrDirty(alias)
	return nil
}

// RemoveAttributeValue deletes a literal value, or severs a reference on
// both sides.
func (it *Item) RemoveAttributeValue(alias string) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	if _, ok := it.values[alias]; ok {
		delete(it.values, alias)
		it.markAttrDirty(alias)
		return nil
	}
	if _, ok := it.refs[alias]; ok {
		return it.severAll(alias)
	}
	return itemErrf(it, alias, ErrMissingAttributeValue, "nothing to remove")
}

// Attach adds other to a multi-valued reference attribute; mapping
// references file it under its id.
func (it *Item) Attach(alias string, other *Item) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	a, err := it.lookupAttribute(alias)
	if err != nil {
		return err
	}
	if it.refCardinality(a, alias, true) == Single {
		return itemErrf(it, alias, ErrInvalidCardinality, "Attach needs a multi-valued reference")
	}
	if err := it.checkTarget(alias, other); err != nil {
		return err
	}
	if _, isLiteral := it.values[alias]; isLiteral {
		return itemErrf(it, alias, ErrInvalidReferenceState, "attribute holds a literal")
	}
	return it.attach(alias, other, refKey(other), nil, true)
}

// Detach removes other from a multi-valued reference attribute.
func (it *Item) Detach(alias string, other *Item) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	if a := it.attribute(alias); a != nil && a.card == Single {
		return itemErrf(it, alias, ErrInvalidCardinality, "Detach needs a multi-valued reference")
	}
	return it.detach(alias, other)
}

// multiCardinality returns the cardinality of a multi-valued attribute or
// ErrInvalidCardinality.
func (it *Item) multiCardinality(alias string) (Cardinality, error) {
	a, err := it.lookupAttribute(alias)
	if err != nil {
		return 0, err
	}
	if a != nil {
		if a.card == Single {
			return 0, itemErrf(it, alias, ErrInvalidCardinality, "single-valued attribute")
		}
		return a.card, nil
	}
	switch v := it.values[alias].(type) {
	case []any:
		return Sequence, nil
	case map[string]any:
		return Mapping, nil
	case nil:
	default:
		return 0, itemErrf(it, alias, ErrInvalidCardinality, "holds a single %T", v)
	}
	switch it.refs[alias].(type) {
	case *RefList:
		return Sequence, nil
	case *RefDict:
		return Mapping, nil
	case *link:
		return 0, itemErrf(it, alias, ErrInvalidCardinality, "single reference")
	}
	return Sequence, nil
}

// GetValue returns one element of a multi-valued attribute: by int position
// for lists, by string key for mappings, by ID or position for reference
// lists.
func (it *Item) GetValue(alias string, key any) (any, error) {
	if err := it.ensureLive(); err != nil {
		return nil, err
	}
	if _, err := it.multiCardinality(alias); err != nil {
		return nil, err
	}
	if v, ok := it.values[alias]; ok {
		switch v := v.(type) {
		case []any:
			i, ok := key.(int)
			if !ok || i < 0 || i >= len(v) {
				return nil, itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", key)
			}
			return cloneValue(v[i]), nil
		case map[string]any:
			k, _ := key.(string)
			e, ok := v[k]
			if !ok {
				return nil, itemErrf(it, alias, ErrMissingAttributeValue, "no key %v", key)
			}
			return cloneValue(e), nil
		}
	}
	switch r := it.refs[alias].(type) {
	case *RefList:
		var id ID
		switch k := key.(type) {
		case int:
			if k < 0 || k >= r.Len() {
				return nil, itemErrf(it, alias, ErrMissingAttributeValue, "no element %d", k)
			}
			id = r.coll.Keys()[k]
		case ID:
			id = k
		case *Item:
			id = k.id
		}
		if !r.coll.Has(id) {
			return nil, itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", key)
		}
		return it.view.mustLoad(id)
	case *RefDict:
		k, _ := key.(string)
		if l := r.Get(k); l != nil {
			return l, nil
		}
	}
	return nil, itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", key)
}

// SetValue replaces one element of a multi-valued attribute.
func (it *Item) SetValue(alias string, value any, key any) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	card, err := it.multiCardinality(alias)
	if err != nil {
		return err
	}
	if other, ok := value.(*Item); ok {
		return it.setRefElement(alias, card, other, key)
	}
	n, err := normalizeValue(value)
	if err != nil {
		return itemErrf(it, alias, err, "")
	}
	if a := it.attribute(alias); a != nil {
		if err := checkValueType(a.typ, n); err != nil {
			return itemErrf(it, alias, err, "")
		}
	}
	switch card {
	case Mapping:
		k, ok := key.(string)
		if !ok {
			return itemErrf(it, alias, ErrInvalidValue, "mapping key must be a string, got %T", key)
		}
		m, _ := it.values[alias].(map[string]any)
		if m == nil {
			if _, isRef := it.refs[alias]; isRef {
				return itemErrf(it, alias, ErrInvalidReferenceState, "attribute holds references")
			}
			m = make(map[string]any)
			it.values[alias] = m
		}
		m[k] = n
	default:
		i, ok := key.(int)
		list, _ := it.values[alias].([]any)
		if !ok || i < 0 || i >= len(list) {
			return itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", key)
		}
		list[i] = n
		if card == Set {
			it.values[alias] = dedupValues(list)
		}
	}
	it.markAttrDirty(alias)
	return nil
}

func (it *Item) setRefElement(alias string, card Cardinality, other *Item, key any) error {
	if err := it.checkTarget(alias, other); err != nil {
		return err
	}
	switch card {
	case Mapping:
		k, ok := key.(string)
		if !ok {
			return itemErrf(it, alias, ErrInvalidValue, "mapping key must be a string, got %T", key)
		}
		if d, ok := it.refs[alias].(*RefDict); ok {
			if l := d.Get(k); l != nil {
				for _, id := range l.IDs() {
					if id != other.id {
						if err := it.detachID(alias, id); err != nil {
							return err
						}
					}
				}
			}
		}
		return it.attach(alias, other, k, nil, true)
	default:
		list, ok := it.refs[alias].(*RefList)
		i, isInt := key.(int)
		if !ok || !isInt || i < 0 || i >= list.Len() {
			return itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", key)
		}
		ids := list.coll.Keys()
		old := ids[i]
		if old == other.id {
			return nil
		}
		var prev ID
		if i > 0 {
			prev = ids[i-1]
		}
		if err := it.detachID(alias, old); err != nil {
			return err
		}
		if list.coll.Has(other.id) {
			return list.Place(other, it.view.items[prev])
		}
		return it.attach(alias, other, "", &prev, true)
	}
}

// AddValue adds an element to a multi-valued attribute. Mapping literals
// need a key; reference mappings default to the item's id.
func (it *Item) AddValue(alias string, value any, key ...string) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	card, err := it.multiCardinality(alias)
	if err != nil {
		return err
	}
	if other, ok := value.(*Item); ok {
		if err := it.checkTarget(alias, other); err != nil {
			return err
		}
		if _, isLiteral := it.values[alias]; isLiteral {
			return itemErrf(it, alias, ErrInvalidReferenceState, "attribute holds literals")
		}
		k := refKey(other)
		if len(key) > 0 {
			k = key[0]
		}
		return it.attach(alias, other, k, nil, true)
	}
	if _, isRef := it.refs[alias]; isRef {
		return itemErrf(it, alias, ErrInvalidReferenceState, "attribute holds references")
	}
	n, err := normalizeValue(value)
	if err != nil {
		return itemErrf(it, alias, err, "")
	}
	if a := it.attribute(alias); a != nil {
		if err := checkValueType(a.typ, n); err != nil {
			return itemErrf(it, alias, err, "")
		}
	}
	switch card {
	case Mapping:
		if len(key) == 0 {
			return itemErrf(it, alias, ErrInvalidValue, "mapping needs a key")
		}
		m, _ := it.values[alias].(map[string]any)
		if m == nil {
			m = make(map[string]any)
			it.values[alias] = m
		}
		m[key[0]] = n
	case Set:
		list, _ := it.values[alias].([]any)
		if slices.ContainsFunc(list, func(x any) bool { return valuesEqual(x, n) }) {
			return nil
		}
		it.values[alias] = append(list, n)
	default:
		list, _ := it.values[alias].([]any)
		it.values[alias] = append(list, n)
	}
	it.markAttrDirty(alias)
	return nil
}

// HasValue reports whether a multi-valued attribute contains value. It is
// false for a deleted item.
func (it *Item) HasValue(alias string, value any) bool {
	if it.IsDeleted() {
		return false
	}
	if other, ok := value.(*Item); ok {
		return slices.Contains(refIDs(it.refs[alias]), other.id)
	}
	n, err := normalizeValue(value)
	if err != nil {
		return false
	}
	switch v := it.values[alias].(type) {
	case []any:
		return slices.ContainsFunc(v, func(x any) bool { return valuesEqual(x, n) })
	case map[string]any:
		for _, e := range v {
			if valuesEqual(e, n) {
				return true
			}
		}
	}
	return false
}

// RemoveValue removes the first matching element of a multi-valued
// attribute. For mapping literals every entry holding value is removed.
func (it *Item) RemoveValue(alias string, value any) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	if _, err := it.multiCardinality(alias); err != nil {
		return err
	}
	if other, ok := value.(*Item); ok {
		return it.detach(alias, other)
	}
	n, err := normalizeValue(value)
	if err != nil {
		return itemErrf(it, alias, err, "")
	}
	switch v := it.values[alias].(type) {
	case []any:
		i := slices.IndexFunc(v, func(x any) bool { return valuesEqual(x, n) })
		if i < 0 {
			break
		}
		it.values[alias] = slices.Delete(v, i, i+1)
		it.markAttrDirty(alias)
		return nil
	case map[string]any:
		var found bool
		for k, e := range v {
			if valuesEqual(e, n) {
				delete(v, k)
				found = true
			}
		}
		if found {
			it.markAttrDirty(alias)
			return nil
		}
	}
	return itemErrf(it, alias, ErrMissingAttributeValue, "no element %v", value)
}

// RemoveKey deletes a mapping entry; for reference mappings every member
// filed under key is detached.
func (it *Item) RemoveKey(alias string, key string) error {
	if err := it.ensureLive(); err != nil {
		return err
	}
	card, err := it.multiCardinality(alias)
	if err != nil {
		return err
	}
	if card != Mapping {
		return itemErrf(it, alias, ErrInvalidCardinality, "RemoveKey needs a mapping")
	}
	if m, ok := it.values[alias].(map[string]any); ok {
		if _, found := m[key]; found {
			delete(m, key)
			it.markAttrDirty(alias)
			return nil
		}
	}
	if d, ok := it.refs[alias].(*RefDict); ok {
		if l := d.Get(key); l != nil {
			for _, id := range l.IDs() {
				if err := it.detachID(alias, id); err != nil {
					return err
				}
			}
			if d.Has(key) {
				d.dropKey(key)
			}
			return nil
		}
	}
	return itemErrf(it, alias, ErrMissingAttributeValue, "no key %q", key)
}

// HasKey reports whether a multi-valued attribute has an element at key:
// an int position of a list, a string key of a mapping, or an ID or *Item
// member of a reference list. It is false for a deleted item.
func (it *Item) HasKey(alias string, key any) bool {
	if it.IsDeleted() {
		return false
	}
	switch v := it.values[alias].(type) {
	case []any:
		i, ok := key.(int)
		return ok && i >= 0 && i < len(v)
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return false
		}
		_, found := v[k]
		return found
	}
	switch r := it.refs[alias].(type) {
	case *RefList:
		switch k := key.(type) {
		case ID:
			return r.coll.Has(k)
		case *Item:
			return r.coll.Has(k.id)
		case int:
			return k >= 0 && k < r.Len()
		}
	case *RefDict:
		k, ok := key.(string)
		return ok && r.Has(k)
	}
	return false
}

// RefList returns the reference list stored in a sequence or set
// attribute, or nil.
func (it *Item) RefList(alias string) *RefList {
	l, _ := it.refs[alias].(*RefList)
	return l
}

// RefDict returns the reference mapping stored in an attribute, or nil.
func (it *Item) RefDict(alias string) *RefDict {
	d, _ := it.refs[alias].(*RefDict)
	return d
}

// FormatAttribute renders the local value of an attribute for display.
func (it *Item) FormatAttribute(alias string) string {
	if v, ok := it.values[alias]; ok {
		return fmt.Sprintf("%v", v)
	}
	if r, ok := it.refs[alias]; ok {
		return describeRef(r)
	}
	return "<none>"
}

package itemdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// merger rebases a view from its base version onto a newer one. Items
// changed by the commits in between are reloaded if the view did not touch
// them, and merged three-way (base, ours, theirs) otherwise.
type merger struct {
	v       *View
	tx      storageTx
	base    uint64
	latest  uint64
	resolve Resolver
	snap    *viewSnapshot

	changed   map[ID]struct{}
	children  map[ID]struct{}
	conflicts []*Conflict
	fixups    []func() error
}

func (v *View) merge(ctx context.Context, tx storageTx, latest uint64, resolve Resolver, snap *viewSnapshot) error {
	m := &merger{
		v:        v,
		tx:       tx,
		base:     v.base,
		latest:   latest,
		resolve:  resolve,
		snap:     snap,
		changed:  make(map[ID]struct{}),
		children: make(map[ID]struct{}),
	}
	recs, err := readCommits(tx, v.base, latest)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		ids, err := decodeIDs(rec.Changed)
		if err != nil {
			return err
		}
		for _, id := range ids {
			m.changed[id] = struct{}{}
		}
		pids, err := decodeIDs(rec.Children)
		if err != nil {
			return err
		}
		for _, pid := range pids {
			m.children[pid] = struct{}{}
		}
	}
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: MERGE", "view", v.name, "from", v.base, "to", latest, "commits", len(recs), "changed", len(m.changed))
	}

	// items loaded from now on must reflect the merged-onto version
	v.base = latest

	for _, id := range slices.SortedFunc(maps.Keys(m.changed), compareIDs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		it := v.items[id]
		if it == nil || it.IsNew() {
			continue
		}
		if err := m.mergeItem(it); err != nil {
			return err
		}
	}
	for _, f := range m.fixups {
		if err := f(); err != nil {
			return err
		}
	}

	pids := maps.Clone(m.children)
	maps.Copy(pids, v.dirtyChildren)
	for _, pid := range slices.SortedFunc(maps.Keys(pids), compareIDs) {
		if err := m.mergeChildren(pid); err != nil {
			return err
		}
	}

	if len(m.conflicts) > 0 {
		return &MergeConflictError{Conflicts: m.conflicts}
	}
	v.repo.metrics.merges.Inc()
	return nil
}

// conflict reports c. It returns resolved == false if there is no resolver,
// in which case the conflict is collected for a MergeConflictError.
func (m *merger) conflict(c *Conflict) (val any, resolved bool, err error) {
	c.Version = m.latest
	m.v.repo.metrics.conflicts.WithLabelValues(c.Category.String()).Inc()
	if m.v.repo.opt.Verbose {
		m.v.repo.logger.Debug("db: CONFLICT", "view", m.v.name, "conflict", c.String())
	}
	if m.resolve == nil {
		m.conflicts = append(m.conflicts, c)
		return nil, false, nil
	}
	val, err = m.resolve(c)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func invalidAnswer(c *Conflict, val any) error {
	return itemErrf(c.Item, c.Attribute, ErrMergeConflict, "resolver answered %v conflict with %T %v", c.Category, val, val)
}

func (m *merger) mergeItem(it *Item) error {
	v := m.v
	m.snap.save(it)
	theirs, err := v.repo.readItemRecord(m.tx, it.id, m.latest)
	if err != nil {
		return err
	}
	theirsGone := theirs == nil || theirs.deleted()

	if !it.IsDirty() {
		if theirsGone {
			it.status |= StatusDeleted
			it.rec = theirs
			v.itemDeleted(it)
			return nil
		}
		return v.reload(m.tx, it, theirs, m.latest)
	}

	if it.IsDeleted() {
		if !theirsGone {
			c := &Conflict{Category: DeleteConflict, Item: it, Ours: true, Theirs: false}
			val, ok, err := m.conflict(c)
			if !ok {
				return err
			}
			if val != ConfirmDeletion {
				return invalidAnswer(c, val)
			}
		}
		it.rec = theirs
		return nil
	}
	if theirsGone {
		c := &Conflict{Category: DeleteConflict, Item: it, Ours: false, Theirs: true}
		val, ok, err := m.conflict(c)
		if !ok {
			return err
		}
		if val != ConfirmDeletion {
			return invalidAnswer(c, val)
		}
		return m.acceptDeletion(it, theirs)
	}

	base := it.rec
	if it.nameDirty {
		if theirs.Name != base.Name && theirs.Name != it.name {
			c := &Conflict{Category: RenameConflict, Item: it, Ours: it.name, Theirs: theirs.Name}
			val, ok, err := m.conflict(c)
			if !ok {
				if err != nil {
					return err
				}
			} else if name, isStr := val.(string); isStr {
				it.name = name
			} else {
				return invalidAnswer(c, val)
			}
		}
	} else {
		it.name = theirs.Name
	}

	if it.parentDirty {
		if theirs.Parent != base.Parent && theirs.Parent != it.parentID {
			c := &Conflict{Category: MoveConflict, Item: it, Ours: it.parentID, Theirs: theirs.Parent}
			val, ok, err := m.conflict(c)
			if !ok {
				if err != nil {
					return err
				}
			} else if pid, isID := resolvedID(val); isID {
				if pid != it.parentID {
					v.childrenChanged(it.parentID)
					v.childrenChanged(pid)
					it.parentID = pid
				}
			} else {
				return invalidAnswer(c, val)
			}
		}
	} else {
		it.parentID = theirs.Parent
	}

	if !it.kindDirty && theirs.Kind != base.Kind {
		old := it.kind
		k, err := v.repo.resolveKind(theirs.Kind)
		if err != nil {
			return err
		}
		if k == nil && theirs.Kind != "" {
			return &LoadError{What: "kind", Ref: theirs.Kind, From: it.describe()}
		}
		it.kind = k
		v.kindChanged(it, old)
	}

	aliases := make(map[string]struct{})
	for _, a := range base.Attrs {
		aliases[a.Alias] = struct{}{}
	}
	for _, a := range theirs.Attrs {
		aliases[a.Alias] = struct{}{}
	}
	for _, alias := range slices.Sorted(maps.Keys(aliases)) {
		bv, tv := base.valueID(alias), theirs.valueID(alias)
		if bv == tv {
			continue
		}
		var err error
		if _, ours := it.dirtyAttrs[alias]; ours {
			err = m.mergeAttr(it, alias, bv, tv)
		} else {
			err = m.adoptAttr(it, alias, tv)
		}
		if err != nil {
			return err
		}
	}
	it.rec = theirs
	return nil
}

func resolvedID(val any) (ID, bool) {
	switch val := val.(type) {
	case nil:
		return NilID, true
	case ID:
		return val, true
	case *Item:
		if val == nil {
			return NilID, true
		}
		return val.id, true
	case string:
		id, err := ParseID(val)
		return id, err == nil
	default:
		return NilID, false
	}
}

// acceptDeletion drops local edits of an item deleted by a newer version,
// unlinking local references to it.
func (m *merger) acceptDeletion(it *Item, theirs *itemRecord) error {
	v := m.v
	for _, alias := range slices.Sorted(maps.Keys(it.refs)) {
		inv := inverseName(it.attribute(alias))
		if inv == "" {
			continue
		}
		for _, id := range refIDs(it.refs[alias]) {
			other, err := v.load(id)
			if err != nil {
				return err
			}
			if other != nil {
				m.snap.save(other)
				other.dropRef(inv, it.id)
			}
		}
	}
	it.status = (it.status | StatusDeleted) &^ StatusDirty
	it.dirtyAttrs = nil
	it.nameDirty, it.parentDirty, it.kindDirty = false, false, false
	it.rec = theirs
	delete(v.dirty, it.id)
	v.itemDeleted(it)
	return nil
}

// reload replaces the item's state with rec read at version ver, keeping
// the identity of its reference lists.
func (v *View) reload(tx storageTx, it *Item, rec *itemRecord, ver uint64) error {
	var kind *Kind
	if rec.Kind != "" {
		var err error
		if kind, err = v.repo.resolveKind(rec.Kind); err != nil {
			return err
		}
		if kind == nil {
			return &LoadError{What: "kind", Ref: rec.Kind, From: it.describe()}
		}
	}
	oldKind, oldRefs := it.kind, it.refs
	it.kind = kind
	it.values = make(map[string]any)
	it.refs = make(map[string]any)
	if err := it.decodeAttrs(tx, rec, ver); err != nil {
		return err
	}
	fresh := it.refs
	it.refs = oldRefs
	all := maps.Clone(fresh)
	for alias := range oldRefs {
		all[alias] = struct{}{}
	}
	for _, alias := range slices.Sorted(maps.Keys(all)) {
		if err := it.installRef(alias, fresh[alias]); err != nil {
			return err
		}
	}
	it.name = rec.Name
	it.parentID = rec.Parent
	it.rec = rec
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: RELOAD", "item", it.describe(), "version", rec.Version)
	}
	if kind != oldKind {
		v.kindChanged(it, oldKind)
	} else {
		v.itemReplaced(it)
	}
	return nil
}

// installRef replaces a reference store entry with a freshly decoded one
// (nil removes it). Existing RefList objects are kept and refilled.
func (it *Item) installRef(alias string, fresh any) error {
	v := it.view
	switch old := it.refs[alias].(type) {
	case *link:
		if nl, ok := fresh.(*link); ok {
			old.other = nl.other
			return nil
		}
	case *RefList:
		if nl, ok := fresh.(*RefList); ok {
			v.discardIndexes(nl)
			old.id = nl.id
			return old.replaceRaw(nl.coll.Keys(), nl.coll.Aliases())
		}
		v.discardIndexes(old)
	case *RefDict:
		if nd, ok := fresh.(*RefDict); ok {
			lists := make(map[string]*RefList, len(nd.keys))
			for _, key := range nd.keys {
				nl := nd.lists[key]
				ol := old.lists[key]
				if ol == nil {
					nl.owner = it
					lists[key] = nl
					continue
				}
				v.discardIndexes(nl)
				ol.id = nl.id
				if err := ol.replaceRaw(nl.coll.Keys(), nl.coll.Aliases()); err != nil {
					return err
				}
				lists[key] = ol
			}
			for key, ol := range old.lists {
				if lists[key] != ol {
					v.discardIndexes(ol)
				}
			}
			old.keys = nd.keys
			old.lists = lists
			return nil
		}
		for _, ol := range old.lists {
			v.discardIndexes(ol)
		}
	}
	if fresh == nil {
		delete(it.refs, alias)
	} else {
		it.refs[alias] = fresh
	}
	return nil
}

func (v *View) discardIndexes(l *RefList) {
	for _, idx := range l.indexes {
		v.untrackIndex(idx)
	}
}

// adoptAttr takes the committed value of an attribute the view did not
// change.
func (m *merger) adoptAttr(it *Item, alias string, vid uint64) error {
	delete(it.values, alias)
	if vid == 0 {
		if err := it.installRef(alias, nil); err != nil {
			return err
		}
		m.v.attributeChanged(it, alias)
		return nil
	}
	vr, err := m.v.repo.readValue(m.tx, vid)
	if err != nil {
		return err
	}
	var fresh any
	if vr.isReference() {
		if fresh, err = it.decodeRef(m.tx, alias, vr, m.latest); err != nil {
			return err
		}
	} else {
		val, err := m.v.repo.decodeLiteral(m.tx, vr)
		if err != nil {
			return err
		}
		it.values[alias] = val
	}
	if err := it.installRef(alias, fresh); err != nil {
		return err
	}
	m.v.attributeChanged(it, alias)
	return nil
}

func (m *merger) readValue(vid uint64) (*valueRecord, error) {
	if vid == 0 {
		return nil, nil
	}
	return m.v.repo.readValue(m.tx, vid)
}

// mergeAttr reconciles an attribute changed on both sides.
func (m *merger) mergeAttr(it *Item, alias string, bv, tv uint64) error {
	baseVR, err := m.readValue(bv)
	if err != nil {
		return err
	}
	theirVR, err := m.readValue(tv)
	if err != nil {
		return err
	}
	ourRef := it.refs[alias]
	theirIsRef := theirVR != nil && theirVR.isReference()
	baseIsRef := baseVR != nil && baseVR.isReference()

	if ourRef == nil && !theirIsRef {
		var theirs any
		if theirVR != nil {
			if theirs, err = m.v.repo.decodeLiteral(m.tx, theirVR); err != nil {
				return err
			}
		}
		ours := it.values[alias]
		if valuesEqual(ours, theirs) {
			return nil
		}
		c := &Conflict{Category: ValueConflict, Item: it, Attribute: alias, Ours: ours, Theirs: theirs}
		val, ok, err := m.conflict(c)
		if !ok {
			return err
		}
		if val == nil {
			delete(it.values, alias)
		} else {
			n, err := normalizeValue(val)
			if err != nil {
				return invalidAnswer(c, val)
			}
			it.values[alias] = n
		}
		m.v.attributeChanged(it, alias)
		return nil
	}

	if _, isLiteral := it.values[alias]; isLiteral || (theirVR != nil && !theirIsRef) {
		return m.mixedConflict(it, alias, tv)
	}

	var baseShape, theirShape *refShape
	if baseIsRef {
		if baseShape, err = readRefShape(m.tx, baseVR, m.base); err != nil {
			return err
		}
	}
	if theirIsRef {
		if theirShape, err = readRefShape(m.tx, theirVR, m.latest); err != nil {
			return err
		}
	}

	card := it.refCardinality(it.attribute(alias), alias, false)
	if theirShape != nil {
		card = theirShape.card
	}
	switch ours := ourRef.(type) {
	case *link:
		return m.mergeLink(it, alias, ours.other, theirShape)
	case nil:
		if card == Single {
			return m.mergeLink(it, alias, NilID, theirShape)
		}
	}
	switch card {
	case Sequence, Set:
		return m.mergeSeq(it, alias, ourRef, baseShape, theirShape)
	case Mapping:
		return m.mergeDict(it, alias, ourRef, baseShape, theirShape)
	default:
		return m.mixedConflict(it, alias, tv)
	}
}

// mixedConflict handles an attribute that holds a literal on one side and
// a reference on the other; answering Theirs adopts the committed value.
func (m *merger) mixedConflict(it *Item, alias string, tv uint64) error {
	ours := any("reference")
	if val, ok := it.values[alias]; ok {
		ours = val
	}
	c := &Conflict{Category: ValueConflict, Item: it, Attribute: alias, Ours: ours, Theirs: fmt.Sprintf("value %d", tv)}
	val, ok, err := m.conflict(c)
	if !ok {
		return err
	}
	if val == c.Theirs {
		if err := m.adoptAttr(it, alias, tv); err != nil {
			return err
		}
		it.markAttrDirty(alias)
	}
	return nil
}

func (m *merger) mergeLink(it *Item, alias string, ourT ID, theirs *refShape) error {
	var theirT ID
	if theirs != nil {
		theirT = theirs.other
	}
	if ourT == theirT {
		return nil
	}
	c := &Conflict{Category: ReferenceConflict, Item: it, Attribute: alias, Ours: ourT, Theirs: theirT}
	val, ok, err := m.conflict(c)
	if !ok {
		return err
	}
	target, isID := resolvedID(val)
	if !isID {
		return invalidAnswer(c, val)
	}
	m.fixups = append(m.fixups, func() error {
		return m.settleLink(it, alias, target, ourT, theirT)
	})
	return nil
}

// settleLink points a single reference at target and makes the inverse
// sides agree, once every changed item has been merged.
func (m *merger) settleLink(it *Item, alias string, target ID, stale ...ID) error {
	v := m.v
	switch cur := it.refs[alias].(type) {
	case *link:
		if target == NilID {
			delete(it.refs, alias)
		} else {
			cur.other = target
		}
	default:
		if target != NilID {
			it.refs[alias] = &link{other: target}
		}
	}
	it.markAttrDirty(alias)

	inv := inverseName(it.attribute(alias))
	if inv == "" {
		return nil
	}
	for _, id := range stale {
		if id == NilID || id == target {
			continue
		}
		other, err := v.load(id)
		if err != nil {
			return err
		}
		if other != nil {
			m.snap.save(other)
			other.dropRef(inv, it.id)
		}
	}
	if target == NilID {
		return nil
	}
	other, err := v.mustLoad(target)
	if err != nil {
		return err
	}
	if slices.Contains(refIDs(other.refs[inv]), it.id) {
		return nil
	}
	m.snap.save(other)
	return other.putRef(other.attribute(inv), inv, it, refKey(it), nil, false)
}

// mergeList splices both sides' edits of one reference list and returns
// the result, or nil if it ended up empty and did not exist locally. ol is
// nil if the view removed the attribute or never had the key.
func (m *merger) mergeList(it *Item, alias string, ol *RefList, key string, base *orderedCollection[ID], theirs *refShape) (*RefList, error) {
	ours := newOrderedCollection[ID]()
	if ol != nil {
		ours = ol.coll
	}
	tc := theirs.coll(key)
	keys := spliceKeys(base.Keys(), ours.Keys(), tc.Keys())
	aliases := make([]string, len(keys))
	for i, k := range keys {
		if ours.Has(k) {
			aliases[i] = ours.Alias(k)
		} else {
			aliases[i] = tc.Alias(k)
		}
	}
	for {
		i, j := firstDuplicateAlias(aliases)
		if i < 0 {
			break
		}
		// rename the member the view added
		at := j
		if tc.Has(keys[j]) && !tc.Has(keys[i]) {
			at = i
		}
		c := &Conflict{Category: AliasConflict, Item: it, Attribute: alias, Ours: aliases[at], Theirs: aliases[at]}
		val, ok, err := m.conflict(c)
		if !ok {
			return ol, err
		}
		name, isStr := val.(string)
		if !isStr || name == aliases[at] {
			return nil, invalidAnswer(c, val)
		}
		aliases[at] = name
	}

	if ol == nil {
		if len(keys) == 0 {
			return nil, nil
		}
		var collID ID
		if theirs != nil {
			collID = theirs.ids[key]
		}
		if collID == NilID {
			collID = m.v.repo.reg.NewID()
		}
		ol = newRefList(it, alias, collID)
		ol.key = key
	}
	if err := ol.replaceRaw(keys, aliases); err != nil {
		return nil, err
	}
	return ol, nil
}

func (m *merger) mergeSeq(it *Item, alias string, ourRef any, base, theirs *refShape) error {
	ol, _ := ourRef.(*RefList)
	l, err := m.mergeList(it, alias, ol, "", base.coll(""), theirs)
	if err != nil {
		return err
	}
	if l == nil || l.Len() == 0 && ol == nil {
		delete(it.refs, alias)
	} else {
		it.refs[alias] = l
	}
	it.markAttrDirty(alias)
	return nil
}

func (m *merger) mergeDict(it *Item, alias string, ourRef any, base, theirs *refShape) error {
	od, _ := ourRef.(*RefDict)
	if od == nil {
		od = newRefDict(it, alias)
	}
	var keys []string
	if theirs != nil {
		keys = slices.Clone(theirs.keys)
	}
	for _, key := range od.keys {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	var outKeys []string
	lists := make(map[string]*RefList)
	for _, key := range keys {
		l, err := m.mergeList(it, alias, od.lists[key], key, base.coll(key), theirs)
		if err != nil {
			return err
		}
		if l == nil {
			continue
		}
		if l.Len() == 0 {
			m.v.discardIndexes(l)
			continue
		}
		outKeys = append(outKeys, key)
		lists[key] = l
	}
	od.keys = outKeys
	od.lists = lists
	if len(outKeys) == 0 {
		delete(it.refs, alias)
	} else {
		it.refs[alias] = od
	}
	it.markAttrDirty(alias)
	return nil
}

// spliceKeys applies the view's edits (base to ours) on top of theirs:
// members the view removed are dropped, members it added are inserted
// right after their nearest preceding member that survived, so they come
// before members theirs inserted at the same point.
func spliceKeys(base, ours, theirs []ID) []ID {
	inBase := make(map[ID]bool, len(base))
	for _, k := range base {
		inBase[k] = true
	}
	inOurs := make(map[ID]bool, len(ours))
	for _, k := range ours {
		inOurs[k] = true
	}
	result := make([]ID, 0, len(theirs)+len(ours))
	for _, k := range theirs {
		if inBase[k] && !inOurs[k] {
			continue
		}
		result = append(result, k)
	}
	prev := -1
	for _, k := range ours {
		if i := slices.Index(result, k); i >= 0 {
			prev = i
			continue
		}
		if inBase[k] {
			// they removed it
			continue
		}
		result = slices.Insert(result, prev+1, k)
		prev++
	}
	return result
}

func firstDuplicateAlias(aliases []string) (int, int) {
	seen := make(map[string]int, len(aliases))
	for j, a := range aliases {
		if a == "" {
			continue
		}
		if i, dup := seen[a]; dup {
			return i, j
		}
		seen[a] = j
	}
	return -1, -1
}

// mergeChildren reconciles the child collection of pid with the merged
// items: membership follows each loaded item's parent and status, order
// splices both sides, and names must stay unique among siblings.
func (m *merger) mergeChildren(pid ID) error {
	v := m.v
	var owner *Item
	var coll *orderedCollection[ID]
	if pid == NilID {
		coll = v.roots
	} else if owner = v.items[pid]; owner != nil {
		coll = owner.children
	}
	if coll == nil {
		return nil
	}
	if owner != nil {
		m.snap.save(owner)
		if owner.IsDeleted() {
			owner.children = newOrderedCollection[ID]()
			return nil
		}
	}

	theirs, _, err := readCollection(m.tx, bucketChildren, pid, m.latest)
	if err != nil {
		return err
	}
	var keys []ID
	if _, dirty := v.dirtyChildren[pid]; dirty {
		base, _, err := readCollection(m.tx, bucketChildren, pid, m.base)
		if err != nil {
			return err
		}
		keys = spliceKeys(base.Keys(), coll.Keys(), theirs.Keys())
	} else {
		keys = theirs.Keys()
	}

	keys = slices.DeleteFunc(keys, func(k ID) bool {
		it := v.items[k]
		return it != nil && (it.IsDeleted() || it.parentID != pid)
	})
	for _, it := range v.DirtyItems() {
		if it.parentID == pid && !it.IsDeleted() && !slices.Contains(keys, it.id) {
			keys = append(keys, it.id)
		}
	}
	aliases := make([]string, len(keys))
	for i, k := range keys {
		if it := v.items[k]; it != nil {
			aliases[i] = it.name
		} else {
			aliases[i] = theirs.Alias(k)
		}
	}

	for {
		i, j := firstDuplicateAlias(aliases)
		if i < 0 {
			break
		}
		at := j
		if it := v.items[keys[i]]; it != nil && it.IsDirty() && (it.nameDirty || it.parentDirty || it.IsNew()) {
			at = i
		}
		it := v.items[keys[at]]
		if it == nil || !it.IsDirty() {
			return fmt.Errorf("%w: siblings %v and %v are both named %q", ErrNameExists, keys[i], keys[j], aliases[i])
		}
		c := &Conflict{Category: NameConflict, Item: it, Ours: it.name, Theirs: it.name}
		val, ok, err := m.conflict(c)
		if !ok {
			return err
		}
		name, isStr := val.(string)
		if !isStr || name == it.name {
			return invalidAnswer(c, val)
		}
		it.name = name
		it.nameDirty = true
		it.setDirty()
		aliases[at] = name
	}

	fresh := newOrderedCollection[ID]()
	if err := fresh.Reset(keys, aliases); err != nil {
		return err
	}
	if owner != nil {
		owner.children = fresh
	} else {
		v.roots = fresh
	}
	return nil
}

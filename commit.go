package itemdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Commit writes the view's edits as a new version. If other commits landed
// since the view's base, they are merged in first; conflicts go to resolve,
// or fail the commit with a MergeConflictError if resolve is nil. On any
// failure the view is left exactly as it was before the call.
//
// Committing a view without edits just refreshes it; the returned info is
// nil then.
func (v *View) Commit(ctx context.Context, resolve Resolver) (*CommitInfo, error) {
	if err := v.ensureOpen(); err != nil {
		return nil, err
	}
	repo := v.repo
	repo.commitMu.Lock()
	defer repo.commitMu.Unlock()

	if !v.IsDirty() {
		return nil, v.refreshLocked(ctx, resolve)
	}

	start := time.Now()
	prevBase := v.base
	snap := v.snapshot()
	info, err := v.commitLocked(ctx, resolve, snap)
	if err != nil {
		v.restore(snap)
		repo.metrics.commitFailures.WithLabelValues(failureReason(err)).Inc()
		if repo.opt.Verbose {
			repo.logger.Debug("db: COMMIT FAILED", "view", v.name, "base", prevBase, "err", err)
		}
		return nil, err
	}
	info.Merged = info.Parent != prevBase

	dur := time.Since(start)
	repo.metrics.commits.Inc()
	repo.metrics.commitDuration.Observe(dur.Seconds())
	repo.metrics.version.Set(float64(info.Version))
	repo.CommitCount.Add(1)
	if repo.opt.Verbose {
		repo.logger.Debug("db: COMMIT", "view", v.name, "version", info.Version, "parent", info.Parent, "changes", len(info.Changes), "merged", info.Merged, "ms", dur.Milliseconds())
	}

	if repo.journal != nil {
		if err := repo.appendJournal(info); err != nil {
			// the version is durable in storage; the journal is an audit trail
			repo.logger.Error("db: journal append failed", "version", info.Version, "err", err)
		}
	}
	for _, f := range v.onCommit {
		f(info)
	}
	return info, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMergeConflict):
		return "conflict"
	case errors.Is(err, ErrStoreContention):
		return "contention"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func (v *View) commitLocked(ctx context.Context, resolve Resolver, snap *viewSnapshot) (*CommitInfo, error) {
	repo := v.repo
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var latest uint64
	err := repo.read(func(tx storageTx) error {
		latest = repo.refreshLatest(tx)
		if latest > v.base {
			return v.merge(ctx, tx, latest, resolve, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if repo.beforeWrite != nil {
		repo.beforeWrite()
	}

	w := &commitWriter{v: v, parent: latest, ver: latest + 1, now: time.Now()}
	defer w.arena.release()
	schemaGen := repo.schemaGen
	err = repo.write(func(tx storageTx) error {
		if cur := readVersion(tx.Bucket(bucketMeta)); cur != latest {
			return contentionErr(fmt.Errorf("version moved from %d to %d during commit", latest, cur))
		}
		w.tx = tx
		return w.write()
	})
	if err != nil {
		repo.schemaGen = schemaGen
		return nil, err
	}
	return w.finish(), nil
}

// Refresh merges the versions committed since the view's base into the
// view without committing its edits.
func (v *View) Refresh(ctx context.Context, resolve Resolver) error {
	if err := v.ensureOpen(); err != nil {
		return err
	}
	v.repo.commitMu.Lock()
	defer v.repo.commitMu.Unlock()
	return v.refreshLocked(ctx, resolve)
}

func (v *View) refreshLocked(ctx context.Context, resolve Resolver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := v.snapshot()
	err := v.repo.read(func(tx storageTx) error {
		latest := v.repo.refreshLatest(tx)
		if latest <= v.base {
			return nil
		}
		return v.merge(ctx, tx, latest, resolve, snap)
	})
	if err != nil {
		v.restore(snap)
		return err
	}
	return nil
}

// Cancel discards the view's uncommitted edits. New items are dropped;
// edited items revert to their state at the base version.
func (v *View) Cancel() error {
	if err := v.ensureOpen(); err != nil {
		return err
	}
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: CANCEL", "view", v.name, "dirty", len(v.dirty))
	}
	for _, id := range v.created {
		if it := v.items[id]; it != nil {
			it.status = (it.status | StatusDeleted) &^ StatusDirty
			v.itemDeleted(it)
			delete(v.items, id)
		}
	}
	v.created = nil
	var revert []*Item
	for _, it := range v.DirtyItems() {
		if !it.IsNew() {
			revert = append(revert, it)
		}
	}
	v.dirty = make(map[ID]*Item)
	for pid := range v.dirtyChildren {
		if pid == NilID {
			v.roots = nil
		} else if p := v.items[pid]; p != nil {
			p.children = nil
			p.childrenDirty = false
		}
	}
	v.dirtyChildren = make(map[ID]struct{})

	if len(revert) == 0 {
		return nil
	}
	return v.repo.read(func(tx storageTx) error {
		for _, it := range revert {
			it.dirtyAttrs = nil
			it.nameDirty, it.parentDirty, it.kindDirty, it.childrenDirty = false, false, false, false
			it.status = StatusRaw
			if it.rec == nil || it.rec.deleted() {
				it.status |= StatusDeleted
				v.itemDeleted(it)
				continue
			}
			if err := v.reload(tx, it, it.rec, v.base); err != nil {
				return err
			}
			it.children = nil
		}
		return nil
	})
}

// commitWriter writes one version: item records, value records, collection
// records, extents, the commit record and the meta counters.
type commitWriter struct {
	v      *View
	tx     storageTx
	parent uint64
	ver    uint64
	now    time.Time
	arena  recordArena

	valueSeq uint64
	values   map[uint64]*valueRecord
	records  map[*Item]*itemRecord
	changes  []*Change
	children []ID
	deleted  int
}

func (w *commitWriter) write() error {
	v := w.v
	repo := v.repo
	meta := w.tx.Bucket(bucketMeta)
	if raw := meta.Get(metaKeyValueSeq); len(raw) == 8 {
		w.valueSeq = binary.BigEndian.Uint64(raw)
	}
	w.values = make(map[uint64]*valueRecord)
	w.records = make(map[*Item]*itemRecord)

	for _, it := range v.DirtyItems() {
		if err := w.writeItem(it); err != nil {
			return fmt.Errorf("%s: %w", it.describe(), err)
		}
	}
	if err := w.writeChildren(); err != nil {
		return err
	}

	changed := idListPool.Get().([]ID)[:0]
	defer func() { releaseIDList(changed) }()
	for _, chg := range w.changes {
		changed = append(changed, chg.item.id)
	}
	crec := &commitRecord{
		Version:  w.ver,
		Parent:   w.parent,
		Time:     w.now.UnixMilli(),
		View:     v.name,
		Changed:  appendIDs(nil, changed),
		Children: appendIDs(nil, w.children),
		Deleted:  w.deleted,
	}
	if err := w.put(bucketVersions, versionKey(w.ver), encodeRecord(w.arena.buf(), crec)); err != nil {
		return err
	}
	if err := meta.Put(metaKeyVersion, versionKey(w.ver)); err != nil {
		return err
	}
	if err := meta.Put(metaKeyValueSeq, versionKey(w.valueSeq)); err != nil {
		return err
	}
	if repo.reg.Generation() != repo.schemaGen {
		if err := repo.saveSchema(w.tx); err != nil {
			return err
		}
	}
	return nil
}

func (w *commitWriter) put(name bucketName, key, value []byte) error {
	return w.tx.Bucket(name).Put(key, w.arena.keep(value))
}

func (w *commitWriter) writeItem(it *Item) error {
	chg := &Change{item: it, attrs: it.DirtyAttributes()}
	if it.nameDirty && !it.IsNew() {
		chg.flags |= ChangeRenamed
	}
	if it.parentDirty && !it.IsNew() {
		chg.flags |= ChangeMoved
	}
	if it.kindDirty {
		chg.flags |= ChangeKind
	}
	if it.childrenDirty {
		chg.flags |= ChangeChildren
	}

	var oldKind string
	if it.rec != nil && !it.rec.deleted() {
		oldKind = it.rec.Kind
	}

	if it.IsDeleted() {
		if it.IsNew() {
			return nil
		}
		rec := &itemRecord{Flags: ifDeleted, Kind: oldKind, Parent: it.parentID, Name: it.name}
		if err := w.put(bucketItems, versionedKey(it.id, w.ver), rec.encode(w.arena.buf())); err != nil {
			return err
		}
		if err := w.updateExtents(it.id, oldKind, ""); err != nil {
			return err
		}
		rec.Version = w.ver
		w.records[it] = rec
		chg.op = OpDelete
		w.deleted++
		w.changes = append(w.changes, chg)
		return nil
	}

	rec := &itemRecord{Parent: it.parentID, Name: it.name, Version: w.ver}
	if it.kind != nil {
		rec.Kind = it.kind.path
		rec.Impl = it.kind.Impl().name
	}
	aliases := make(map[string]struct{}, len(it.values)+len(it.refs))
	for alias := range it.values {
		aliases[alias] = struct{}{}
	}
	for alias := range it.refs {
		aliases[alias] = struct{}{}
	}
	for _, alias := range slices.Sorted(maps.Keys(aliases)) {
		_, dirty := it.dirtyAttrs[alias]
		if !dirty && it.rec != nil {
			if vid := it.rec.valueID(alias); vid != 0 {
				rec.Attrs = append(rec.Attrs, attrRef{alias, vid})
				continue
			}
		}
		vid, err := w.writeValue(it, alias)
		if err != nil {
			return err
		}
		rec.Attrs = append(rec.Attrs, attrRef{alias, vid})
	}
	if err := w.put(bucketItems, versionedKey(it.id, w.ver), rec.encode(w.arena.buf())); err != nil {
		return err
	}
	if rec.Kind != oldKind || it.IsNew() {
		if err := w.updateExtents(it.id, oldKind, rec.Kind); err != nil {
			return err
		}
	}
	w.records[it] = rec
	if it.IsNew() {
		chg.op = OpCreate
	} else {
		chg.op = OpUpdate
	}
	w.changes = append(w.changes, chg)
	return nil
}

// updateExtents closes the item's membership in the old kind's extent and
// opens one in the new kind's.
func (w *commitWriter) updateExtents(id ID, oldKind, newKind string) error {
	if oldKind == newKind {
		return nil
	}
	b := w.tx.Bucket(bucketExtents)
	if oldKind != "" {
		key := extentKey(oldKind, id)
		e := extentEntry{added: w.ver}
		if raw := b.Get(key); raw != nil {
			var err error
			if e, err = decodeExtentEntry(raw); err != nil {
				return err
			}
		}
		e.removed = w.ver
		if err := b.Put(key, e.encode()); err != nil {
			return err
		}
	}
	if newKind != "" {
		if err := b.Put(extentKey(newKind, id), extentEntry{added: w.ver}.encode()); err != nil {
			return err
		}
	}
	return nil
}

func (w *commitWriter) writeValue(it *Item, alias string) (uint64, error) {
	w.valueSeq++
	vid := w.valueSeq
	vr := &valueRecord{Alias: alias}
	a := it.attribute(alias)

	if r, isRef := it.refs[alias]; isRef {
		vr.Flags = vfReference
		switch r := r.(type) {
		case *link:
			vr.Flags |= cardinalityFlags(Single)
			vr.Payload = bytes.Clone(r.other[:])
		case *RefList:
			card := it.refCardinality(a, alias, true)
			if card != Set {
				card = Sequence
			}
			vr.Flags |= cardinalityFlags(card)
			if err := w.writeList(r, vr); err != nil {
				return 0, err
			}
			vr.Payload = bytes.Clone(r.id[:])
		case *RefDict:
			vr.Flags |= cardinalityFlags(Mapping)
			entries := make([]dictEntry, 0, len(r.keys))
			for _, key := range r.keys {
				l := r.lists[key]
				if err := w.writeList(l, vr); err != nil {
					return 0, err
				}
				entries = append(entries, dictEntry{Key: key, Coll: l.id[:]})
			}
			vr.Payload = encodeRecord(nil, &entries)
		default:
			return 0, itemErrf(it, alias, ErrInvalidReferenceState, "cannot persist %T", r)
		}
	} else {
		val := it.values[alias]
		if typ, payload, ok := encodeInline(val); ok {
			vr.Flags = vfInline | vfTyped
			vr.Type = typ
			vr.Payload = payload
		} else if b, isBytes := val.([]byte); isBytes && len(b) > lobThreshold {
			vr.Flags = vfTyped
			vr.Type = TypeBytes
			for off := 0; off < len(b); off += lobChunkSize {
				chunk := b[off:min(off+lobChunkSize, len(b))]
				lid := w.v.repo.reg.NewID()
				if err := w.tx.Bucket(bucketLobs).Put(lid[:], chunk); err != nil {
					return 0, err
				}
				vr.Lobs = append(vr.Lobs, lid)
			}
		} else {
			vr.Payload = MsgPack.EncodeAny(nil, val)
			if a != nil && a.typ != TypeAny {
				vr.Flags |= vfTyped
				vr.Type = a.typ
			}
		}
		if a != nil && a.indexed {
			vr.Flags |= vfPendingFullText
			if err := w.tx.Bucket(bucketFullText).Put(versionKey(vid), it.id[:]); err != nil {
				return 0, err
			}
		}
	}

	if err := w.put(bucketValues, versionKey(vid), vr.encode(w.arena.buf())); err != nil {
		return 0, err
	}
	w.values[vid] = vr
	return vid, nil
}

// writeList stores a new version of a reference list's collection and
// snapshots of its indexes, adding the snapshot ids to vr.
func (w *commitWriter) writeList(l *RefList, vr *valueRecord) error {
	data := encodeRecord(w.arena.buf(), makeCollRecord(l.coll))
	if err := w.put(bucketCollections, versionedKey(l.id, w.ver), data); err != nil {
		return err
	}
	for _, idx := range l.indexes {
		sid := w.v.repo.reg.NewID()
		if err := w.put(bucketIndexes, sid[:], encodeRecord(w.arena.buf(), idx.snapshot())); err != nil {
			return err
		}
		vr.Indexes = append(vr.Indexes, sid)
	}
	return nil
}

func (w *commitWriter) writeChildren() error {
	v := w.v
	for _, pid := range slices.SortedFunc(maps.Keys(v.dirtyChildren), compareIDs) {
		var coll *orderedCollection[ID]
		if pid == NilID {
			coll = v.roots
		} else if p := v.items[pid]; p != nil && !p.IsDeleted() {
			coll = p.children
		}
		if coll == nil {
			continue
		}
		if err := w.put(bucketChildren, versionedKey(pid, w.ver), encodeRecord(w.arena.buf(), makeCollRecord(coll))); err != nil {
			return err
		}
		w.children = append(w.children, pid)
	}
	return nil
}

// finish moves the view onto the written version once the transaction has
// committed.
func (w *commitWriter) finish() *CommitInfo {
	v := w.v
	repo := v.repo
	for it, rec := range w.records {
		it.rec = rec
	}
	for _, it := range v.dirty {
		it.status &^= StatusDirty | statusNew
		it.dirtyAttrs = nil
		it.nameDirty, it.parentDirty, it.kindDirty, it.childrenDirty = false, false, false, false
	}
	for pid := range v.dirtyChildren {
		if p := v.items[pid]; p != nil {
			p.childrenDirty = false
		}
	}
	v.dirty = make(map[ID]*Item)
	v.dirtyChildren = make(map[ID]struct{})
	v.created = nil
	v.base = w.ver
	repo.latest.Store(w.ver)
	for vid, vr := range w.values {
		repo.valueCache.Add(vid, vr)
	}
	return &CommitInfo{
		Version: w.ver,
		Parent:  w.parent,
		View:    v.name,
		Time:    w.now,
		Changes: w.changes,
	}
}

// JournalEntry is the journal record of one commit.
type JournalEntry struct {
	Version uint64   `msgpack:"v"`
	Parent  uint64   `msgpack:"p"`
	Time    int64    `msgpack:"t"` // unix millis
	View    string   `msgpack:"n,omitempty"`
	Created []string `msgpack:"c,omitempty"`
	Updated []string `msgpack:"u,omitempty"`
	Deleted []string `msgpack:"d,omitempty"`
}

func DecodeJournalEntry(data []byte) (*JournalEntry, error) {
	return decodeRecord[JournalEntry](data)
}

func (repo *Repository) appendJournal(info *CommitInfo) error {
	e := &JournalEntry{
		Version: info.Version,
		Parent:  info.Parent,
		Time:    info.Time.UnixMilli(),
		View:    info.View,
	}
	for _, chg := range info.Changes {
		id := chg.item.id.String()
		switch chg.op {
		case OpCreate:
			e.Created = append(e.Created, id)
		case OpDelete:
			e.Deleted = append(e.Deleted, id)
		default:
			e.Updated = append(e.Updated, id)
		}
	}
	if err := repo.journal.WriteRecord(uint32(info.Time.Unix()), encodeRecord(nil, e)); err != nil {
		return err
	}
	return repo.journal.Commit()
}

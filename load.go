package itemdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// lobChunkSize is the size of one large-object chunk in the lobs bucket.
const lobChunkSize = 256 * 1024

// readAt finds the latest record of id stored at or below ver in a
// versioned bucket. It returns a nil value if there is none.
func readAt(b storageBucket, id ID, ver uint64) (uint64, []byte) {
	c := b.Cursor()
	k, _ := c.Seek(versionedKey(id, ver+1))
	var v []byte
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	kid, kver, ok := parseVersionedKey(k)
	if !ok || kid != id {
		return 0, nil
	}
	return kver, v
}

func (repo *Repository) readItemRecord(tx storageTx, id ID, ver uint64) (*itemRecord, error) {
	at, data := readAt(tx.Bucket(bucketItems), id, ver)
	if data == nil {
		return nil, nil
	}
	rec, err := decodeItemRecord(data)
	if err != nil {
		return nil, fmt.Errorf("item %v@%d: %w", id, at, err)
	}
	rec.Version = at
	return rec, nil
}

// readValue returns a value record, consulting the cache first. Cached
// records are shared and must not be modified.
func (repo *Repository) readValue(tx storageTx, vid uint64) (*valueRecord, error) {
	if vr, ok := repo.valueCache.Get(vid); ok {
		repo.metrics.valueCache.WithLabelValues("hit").Inc()
		return vr, nil
	}
	repo.metrics.valueCache.WithLabelValues("miss").Inc()
	data := tx.Bucket(bucketValues).Get(versionKey(vid))
	if data == nil {
		return nil, &LoadError{What: "value record", Ref: fmt.Sprint(vid), From: "values"}
	}
	vr, err := decodeValueRecord(bytes.Clone(data))
	if err != nil {
		return nil, fmt.Errorf("value %d: %w", vid, err)
	}
	repo.valueCache.Add(vid, vr)
	return vr, nil
}

func (repo *Repository) decodeLiteral(tx storageTx, vr *valueRecord) (any, error) {
	switch {
	case vr.isReference():
		return nil, fmt.Errorf("value of %s is a reference", vr.Alias)
	case vr.Flags&vfInline != 0:
		return decodeInline(vr.Type, vr.Payload)
	case len(vr.Lobs) > 0:
		b := tx.Bucket(bucketLobs)
		var out []byte
		for _, id := range vr.Lobs {
			chunk := b.Get(id[:])
			if chunk == nil {
				return nil, &LoadError{What: "large object", Ref: id.String(), From: vr.Alias}
			}
			out = append(out, chunk...)
		}
		return out, nil
	default:
		return MsgPack.DecodeAny(vr.Payload)
	}
}

func readCollection(tx storageTx, name bucketName, id ID, ver uint64) (*orderedCollection[ID], bool, error) {
	at, data := readAt(tx.Bucket(name), id, ver)
	if data == nil {
		return newOrderedCollection[ID](), false, nil
	}
	rec, err := decodeRecord[collRecord](data)
	if err != nil {
		return nil, false, fmt.Errorf("collection %v@%d: %w", id, at, err)
	}
	coll, err := rec.collection()
	if err != nil {
		return nil, false, dataErrf(data, 0, err, "collection %v@%d", id, at)
	}
	return coll, true, nil
}

func readIndexDefs(tx storageTx, ids []ID) ([]*indexDef, error) {
	b := tx.Bucket(bucketIndexes)
	defs := make([]*indexDef, 0, len(ids))
	for _, id := range ids {
		data := b.Get(id[:])
		if data == nil {
			return nil, &LoadError{What: "index snapshot", Ref: id.String(), From: "indexes"}
		}
		d, err := decodeRecord[indexDef](data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// loadBatch collects checks that run once every record of a batch is
// materialized, so records may refer forward to each other.
type loadBatch struct {
	hooks []func() error
}

func (b *loadBatch) after(f func() error) {
	b.hooks = append(b.hooks, f)
}

func (b *loadBatch) finish() error {
	for _, f := range b.hooks {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// load returns the item as the view sees it, or nil if it does not exist at
// the view's base version. Items deleted by this view are returned as is.
func (v *View) load(id ID) (*Item, error) {
	if id == NilID {
		return nil, nil
	}
	if it, ok := v.items[id]; ok {
		return it, nil
	}
	if err := v.prefetch([]ID{id}); err != nil {
		return nil, err
	}
	return v.items[id], nil
}

// mustLoad is load that treats a missing item as a broken reference.
func (v *View) mustLoad(id ID) (*Item, error) {
	it, err := v.load(id)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, &LoadError{What: "item", Ref: id.String(), From: v.String()}
	}
	return it, nil
}

// prefetch materializes the given items in a single read transaction.
func (v *View) prefetch(ids []ID) error {
	var missing []ID
	for _, id := range ids {
		if _, ok := v.items[id]; !ok && id != NilID {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return v.repo.read(func(tx storageTx) error {
		var batch loadBatch
		var loaded []*Item
		for _, id := range missing {
			it, err := v.loadFrom(tx, id, &batch)
			if err != nil {
				return err
			}
			if it != nil {
				loaded = append(loaded, it)
			}
		}
		if err := batch.finish(); err != nil {
			for _, it := range loaded {
				delete(v.items, it.id)
			}
			return err
		}
		return nil
	})
}

func (v *View) loadFrom(tx storageTx, id ID, batch *loadBatch) (*Item, error) {
	rec, err := v.repo.readItemRecord(tx, id, v.base)
	if err != nil || rec == nil || rec.deleted() {
		return nil, err
	}
	it, err := v.materialize(tx, id, rec)
	if err != nil {
		return nil, err
	}
	if pid := rec.Parent; pid != NilID {
		batch.after(func() error {
			if _, ok := v.items[pid]; ok {
				return nil
			}
			prec, err := v.repo.readItemRecord(tx, pid, v.base)
			if err != nil {
				return err
			}
			if prec == nil || prec.deleted() {
				return &LoadError{What: "parent", Ref: pid.String(), From: it.describe()}
			}
			return nil
		})
	}
	return it, nil
}

// materialize builds an item from its record. The item is registered before
// its attributes are decoded so that reference lists can point back at it.
func (v *View) materialize(tx storageTx, id ID, rec *itemRecord) (*Item, error) {
	var kind *Kind
	if rec.Kind != "" {
		var err error
		kind, err = v.repo.resolveKind(rec.Kind)
		if err != nil {
			return nil, err
		}
		if kind == nil {
			return nil, &LoadError{What: "kind", Ref: rec.Kind, From: id.String()}
		}
	}
	it := newItem(v, id, rec.Name, rec.Parent, kind)
	it.status = StatusRaw
	it.rec = rec
	v.items[id] = it
	if err := it.decodeAttrs(tx, rec, v.base); err != nil {
		delete(v.items, id)
		return nil, err
	}
	v.repo.metrics.itemLoads.Inc()
	if v.repo.opt.Verbose {
		v.repo.logger.Debug("db: LOAD", "item", it.describe(), "version", rec.Version, "attrs", len(rec.Attrs))
	}
	return it, nil
}

// resolveKind finds a kind by path, rebuilding memoized mixins on demand.
func (repo *Repository) resolveKind(path string) (*Kind, error) {
	if k := repo.reg.Kind(path); k != nil {
		return k, nil
	}
	rest, ok := strings.CutPrefix(path, "mixin:")
	if !ok {
		return nil, nil
	}
	var parts []*Kind
	for _, p := range strings.Split(rest, "+") {
		k := repo.reg.Kind(p)
		if k == nil {
			return nil, &LoadError{What: "mixin part", Ref: p, From: path}
		}
		parts = append(parts, k)
	}
	return repo.reg.Mixin(parts...)
}

func (it *Item) decodeAttrs(tx storageTx, rec *itemRecord, ver uint64) error {
	repo := it.view.repo
	for _, ar := range rec.Attrs {
		vr, err := repo.readValue(tx, ar.ValueID)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", it.describe(), ar.Alias, err)
		}
		if vr.isReference() {
			r, err := it.decodeRef(tx, ar.Alias, vr, ver)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", it.describe(), ar.Alias, err)
			}
			it.refs[ar.Alias] = r
		} else {
			val, err := repo.decodeLiteral(tx, vr)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", it.describe(), ar.Alias, err)
			}
			it.values[ar.Alias] = val
		}
	}
	return nil
}

// refShape is the stored form of a reference attribute: the target of a
// single reference, or the member collections of a list or mapping.
type refShape struct {
	card  Cardinality
	other ID
	keys  []string // "" for sequences and sets
	ids   map[string]ID
	colls map[string]*orderedCollection[ID]
}

func (s *refShape) coll(key string) *orderedCollection[ID] {
	if s == nil || s.colls[key] == nil {
		return newOrderedCollection[ID]()
	}
	return s.colls[key]
}

func readRefShape(tx storageTx, vr *valueRecord, ver uint64) (*refShape, error) {
	s := &refShape{card: vr.Flags.cardinality()}
	readList := func(key string, raw []byte) error {
		if len(raw) != idSize {
			return dataErrf(raw, 0, nil, "invalid collection id for key %q", key)
		}
		var collID ID
		copy(collID[:], raw)
		coll, found, err := readCollection(tx, bucketCollections, collID, ver)
		if err != nil {
			return err
		}
		if !found {
			return &LoadError{What: "collection", Ref: collID.String(), From: vr.Alias}
		}
		s.keys = append(s.keys, key)
		s.ids[key] = collID
		s.colls[key] = coll
		return nil
	}

	switch s.card {
	case Single:
		if len(vr.Payload) != idSize {
			return nil, dataErrf(vr.Payload, 0, nil, "invalid link")
		}
		copy(s.other[:], vr.Payload)
		return s, nil
	case Sequence, Set:
		s.ids, s.colls = make(map[string]ID, 1), make(map[string]*orderedCollection[ID], 1)
		if err := readList("", vr.Payload); err != nil {
			return nil, err
		}
		return s, nil
	case Mapping:
		entries, err := decodeRecord[[]dictEntry](vr.Payload)
		if err != nil {
			return nil, err
		}
		s.ids, s.colls = make(map[string]ID), make(map[string]*orderedCollection[ID])
		for _, e := range *entries {
			if err := readList(e.Key, e.Coll); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("invalid reference cardinality %v", s.card)
	}
}

// decodeRef rebuilds one reference store entry at version ver: a link, a
// RefList, or a RefDict of lists. Persisted indexes are restored.
func (it *Item) decodeRef(tx storageTx, alias string, vr *valueRecord, ver uint64) (any, error) {
	s, err := readRefShape(tx, vr, ver)
	if err != nil {
		return nil, err
	}
	if s.card == Single {
		return &link{other: s.other}, nil
	}
	var defs []*indexDef
	if len(vr.Indexes) > 0 {
		if defs, err = readIndexDefs(tx, vr.Indexes); err != nil {
			return nil, err
		}
	}
	lists := make(map[string]*RefList, len(s.keys))
	for _, key := range s.keys {
		l := newRefList(it, alias, s.ids[key])
		l.key = key
		l.coll = s.colls[key]
		var own []*indexDef
		for _, d := range defs {
			if d.Key == key {
				own = append(own, d)
			}
		}
		if err := l.restoreIndexes(own); err != nil {
			return nil, err
		}
		lists[key] = l
	}
	if s.card != Mapping {
		return lists[""], nil
	}
	d := newRefDict(it, alias)
	d.keys = s.keys
	d.lists = lists
	return d, nil
}

// readChildren reads the child collection of pid at the view's base
// version; NilID reads the namespace roots.
func (v *View) readChildren(pid ID) (*orderedCollection[ID], error) {
	var coll *orderedCollection[ID]
	err := v.repo.read(func(tx storageTx) error {
		var err error
		coll, _, err = readCollection(tx, bucketChildren, pid, v.base)
		return err
	})
	return coll, err
}

// extentEntry records the versions in which an item joined and left a
// kind's extent; removed is zero while it is still a member.
type extentEntry struct {
	added   uint64
	removed uint64
}

func (e extentEntry) contains(ver uint64) bool {
	return e.added <= ver && (e.removed == 0 || e.removed > ver)
}

func (e extentEntry) encode() []byte {
	buf := binary.BigEndian.AppendUint64(nil, e.added)
	return binary.BigEndian.AppendUint64(buf, e.removed)
}

func decodeExtentEntry(data []byte) (extentEntry, error) {
	if len(data) != 16 {
		return extentEntry{}, dataErrf(data, 0, nil, "invalid extent entry")
	}
	return extentEntry{binary.BigEndian.Uint64(data), binary.BigEndian.Uint64(data[8:])}, nil
}

func extentPrefix(kindPath string) []byte {
	return append([]byte(kindPath), 0)
}

func extentKey(kindPath string, id ID) []byte {
	return append(extentPrefix(kindPath), id[:]...)
}

// committedExtent lists the items that were members of any of kinds at the
// view's base version.
func (v *View) committedExtent(kinds []*Kind) ([]ID, error) {
	var out []ID
	err := v.repo.read(func(tx storageTx) error {
		c := tx.Bucket(bucketExtents).Cursor()
		for _, k := range kinds {
			prefix := extentPrefix(k.path)
			for key, val := c.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); key, val = c.Next() {
				e, err := decodeExtentEntry(val)
				if err != nil {
					return err
				}
				if !e.contains(v.base) {
					continue
				}
				if len(key) != len(prefix)+idSize {
					return dataErrf(key, 0, nil, "invalid extent key")
				}
				var id ID
				copy(id[:], key[len(prefix):])
				out = append(out, id)
			}
		}
		return nil
	})
	return out, err
}

package itemdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	recordFormatVer1      = 1
	recordFormatVerLatest = recordFormatVer1
)

type itemFlags uint64

const (
	ifVerBit0 = itemFlags(1 << iota)
	ifVerBit1
	ifVerBit2
	ifVerBit3
	ifDeleted

	ifVerMask       = ifVerBit0 | ifVerBit1 | ifVerBit2 | ifVerBit3
	ifVer1          = ifVerBit0
	ifSupportedMask = ifVerMask | ifDeleted
)

func (f itemFlags) ver() itemFlags {
	return f & ifVerMask
}

// attrRef names the value record holding one attribute of an item record.
type attrRef struct {
	Alias   string
	ValueID uint64
}

// itemRecord is the state of one item at one version. A deleted item is
// stored as a tombstone record.
type itemRecord struct {
	Flags   itemFlags
	Kind    string // kind path, "" for kindless items
	Parent  ID
	Name    string
	Impl    string
	Attrs   []attrRef // sorted by alias
	Version uint64    // not encoded; the version the record was read at
}

func (rec *itemRecord) deleted() bool {
	return rec.Flags&ifDeleted != 0
}

func (rec *itemRecord) valueID(alias string) uint64 {
	for _, a := range rec.Attrs {
		if a.Alias == alias {
			return a.ValueID
		}
	}
	return 0
}

func (rec *itemRecord) encode(buf []byte) []byte {
	flags := rec.Flags | ifVer1
	buf = appendUvarint(buf, uint64(flags))
	buf = appendVarbytes(buf, []byte(rec.Kind))
	buf = append(buf, rec.Parent[:]...)
	buf = appendVarbytes(buf, []byte(rec.Name))
	buf = appendVarbytes(buf, []byte(rec.Impl))
	buf = appendUvarint(buf, uint64(len(rec.Attrs)))
	for _, a := range rec.Attrs {
		buf = appendVarbytes(buf, []byte(a.Alias))
		buf = appendUvarint(buf, a.ValueID)
	}
	return buf
}

func decodeItemRecord(data []byte) (*itemRecord, error) {
	d := makeByteDecoder(data)
	rec := new(itemRecord)

	v, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	rec.Flags = itemFlags(v)
	if rec.Flags&^ifSupportedMask != 0 {
		return nil, dataErrf(data, 0, nil, "invalid item record: unsupported flags %x", v)
	}
	if rec.Flags.ver() != ifVer1 {
		return nil, dataErrf(data, 0, nil, "invalid item record: unsupported version %d", rec.Flags.ver())
	}
	rec.Flags &^= ifVerMask

	if rec.Kind, err = d.String(); err != nil {
		return nil, err
	}
	raw, err := d.Raw(idSize)
	if err != nil {
		return nil, err
	}
	copy(rec.Parent[:], raw)
	if rec.Name, err = d.String(); err != nil {
		return nil, err
	}
	if rec.Impl, err = d.String(); err != nil {
		return nil, err
	}
	n, err := d.Uvarinti()
	if err != nil {
		return nil, err
	}
	if n > len(d.Buf) {
		return nil, dataErrf(data, d.Off(), nil, "invalid item record: %d attributes", n)
	}
	rec.Attrs = make([]attrRef, n)
	for i := range rec.Attrs {
		if rec.Attrs[i].Alias, err = d.String(); err != nil {
			return nil, err
		}
		if rec.Attrs[i].ValueID, err = d.Uvarint(); err != nil {
			return nil, err
		}
	}
	if len(d.Buf) != 0 {
		return nil, dataErrf(data, d.Off(), nil, "invalid item record: %d trailing bytes", len(d.Buf))
	}
	return rec, nil
}

type valueFlags byte

const (
	vfReference valueFlags = 1 << iota
	vfCardBit0
	vfCardBit1
	vfTyped
	vfInline
	vfPendingFullText

	vfCardMask      = vfCardBit0 | vfCardBit1
	vfCardShift     = 1
	vfSupportedMask = vfReference | vfCardMask | vfTyped | vfInline | vfPendingFullText
)

func (f valueFlags) cardinality() Cardinality {
	return Cardinality((f & vfCardMask) >> vfCardShift)
}

func cardinalityFlags(c Cardinality) valueFlags {
	return valueFlags(c<<vfCardShift) & vfCardMask
}

// valueRecord holds one attribute value. Records are immutable once
// written; an item record of a later version keeps pointing at the same
// value record while the attribute stays unchanged.
type valueRecord struct {
	Alias   string
	Flags   valueFlags
	Type    ValueType
	Payload []byte
	Lobs    []ID
	Indexes []ID
}

func (vr *valueRecord) isReference() bool {
	return vr.Flags&vfReference != 0
}

func (vr *valueRecord) encode(buf []byte) []byte {
	buf = appendVarbytes(buf, []byte(vr.Alias))
	buf = append(buf, byte(vr.Flags))
	if vr.Flags&vfTyped != 0 {
		buf = appendUvarint(buf, uint64(vr.Type))
	}
	buf = appendVarbytes(buf, vr.Payload)
	buf = appendUvarint(buf, uint64(len(vr.Lobs)))
	buf = appendIDs(buf, vr.Lobs)
	buf = appendUvarint(buf, uint64(len(vr.Indexes)))
	buf = appendIDs(buf, vr.Indexes)
	return buf
}

func decodeValueRecord(data []byte) (*valueRecord, error) {
	d := makeByteDecoder(data)
	vr := new(valueRecord)
	var err error
	if vr.Alias, err = d.String(); err != nil {
		return nil, err
	}
	b, err := d.Byte()
	if err != nil {
		return nil, err
	}
	vr.Flags = valueFlags(b)
	if vr.Flags&^vfSupportedMask != 0 {
		return nil, dataErrf(data, d.Off(), nil, "invalid value record: unsupported flags %x", b)
	}
	if vr.Flags&vfTyped != 0 {
		t, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		vr.Type = ValueType(t)
	}
	if vr.Payload, err = d.VarBytes(); err != nil {
		return nil, err
	}
	if vr.Lobs, err = d.IDs(); err != nil {
		return nil, err
	}
	if vr.Indexes, err = d.IDs(); err != nil {
		return nil, err
	}
	if len(d.Buf) != 0 {
		return nil, dataErrf(data, d.Off(), nil, "invalid value record: %d trailing bytes", len(d.Buf))
	}
	return vr, nil
}

// maxInlineSize bounds the payload of a scalar stored without msgpack.
const maxInlineSize = 64

// lobThreshold is the size above which []byte values move to the lobs bucket.
const lobThreshold = 4096

// encodeInline encodes simple scalars compactly; ok is false for other
// values.
func encodeInline(v any) (ValueType, []byte, bool) {
	switch v := v.(type) {
	case string:
		if len(v) > maxInlineSize {
			return 0, nil, false
		}
		return TypeString, []byte(v), true
	case int64:
		return TypeInt, binary.AppendVarint(nil, v), true
	case float64:
		return TypeFloat, binary.BigEndian.AppendUint64(nil, math.Float64bits(v)), true
	case bool:
		return TypeBool, []byte{boolByte(v)}, true
	default:
		return 0, nil, false
	}
}

func decodeInline(t ValueType, payload []byte) (any, error) {
	switch t {
	case TypeString:
		return string(payload), nil
	case TypeInt:
		v, n := binary.Varint(payload)
		if n <= 0 || n != len(payload) {
			return nil, dataErrf(payload, 0, nil, "invalid inline int")
		}
		return v, nil
	case TypeFloat:
		if len(payload) != 8 {
			return nil, dataErrf(payload, 0, nil, "invalid inline float")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(payload)), nil
	case TypeBool:
		if len(payload) != 1 {
			return nil, dataErrf(payload, 0, nil, "invalid inline bool")
		}
		return payload[0] != 0, nil
	default:
		return nil, dataErrf(payload, 0, nil, "invalid inline type %v", t)
	}
}

// collRecord is the persisted form of an ordered collection: a reference
// list, or the children of one parent (aliases are then the names).
type collRecord struct {
	Keys    []byte   `msgpack:"k"`
	Aliases []string `msgpack:"a,omitempty"`
}

func makeCollRecord(c *orderedCollection[ID]) *collRecord {
	rec := &collRecord{Keys: appendIDs(nil, c.Keys())}
	aliases := c.Aliases()
	for _, a := range aliases {
		if a != "" {
			rec.Aliases = aliases
			break
		}
	}
	return rec
}

func (rec *collRecord) collection() (*orderedCollection[ID], error) {
	keys, err := decodeIDs(rec.Keys)
	if err != nil {
		return nil, err
	}
	if rec.Aliases != nil && len(rec.Aliases) != len(keys) {
		return nil, fmt.Errorf("collection record: %d aliases for %d keys", len(rec.Aliases), len(keys))
	}
	c := newOrderedCollection[ID]()
	if err := c.Reset(keys, rec.Aliases); err != nil {
		return nil, err
	}
	return c, nil
}

// dictEntry is one key of a persisted mapping reference.
type dictEntry struct {
	Key  string `msgpack:"k"`
	Coll []byte `msgpack:"c"`
}

// commitRecord describes one committed version.
type commitRecord struct {
	Version  uint64 `msgpack:"v"`
	Parent   uint64 `msgpack:"p"` // version the commit was merged onto
	Time     int64  `msgpack:"t"` // unix millis
	View     string `msgpack:"n,omitempty"`
	Changed  []byte `msgpack:"c"`           // item ids
	Children []byte `msgpack:"h,omitempty"` // parents whose child collections changed
	Deleted  int    `msgpack:"d,omitempty"`
}

package itemdb

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

type Cardinality uint8

const (
	Single Cardinality = iota
	Sequence
	Mapping
	Set
)

var cardinalityNames = [...]string{"single", "sequence", "mapping", "set"}

func (c Cardinality) String() string {
	if int(c) < len(cardinalityNames) {
		return cardinalityNames[c]
	}
	return fmt.Sprintf("cardinality%d", int(c))
}

func ParseCardinality(s string) (Cardinality, error) {
	for i, n := range cardinalityNames {
		if n == s {
			return Cardinality(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidCardinality, s)
}

func (c Cardinality) IsMulti() bool {
	return c != Single
}

type DeletePolicy uint8

const (
	DeleteRemove DeletePolicy = iota
	DeleteCascade
)

type CountPolicy uint8

const (
	CountNone CountPolicy = iota
	CountRefs
)

// Attribute describes one named slot of a kind. Attribute objects are shared
// by every kind that declares them; changing an aspect invalidates the
// cached slot tables of those kinds.
type Attribute struct {
	name         string
	card         Cardinality
	typ          ValueType
	otherName    string
	defaultValue any
	hasDefault   bool
	inheritFrom  string
	deletePolicy DeletePolicy
	countPolicy  CountPolicy
	indexed      bool

	owners []*Kind
}

// AttrOption configures an attribute in NewAttribute and KindBuilder.Attr.
type AttrOption interface {
	applyToAttr(a *Attribute)
}

type attrOptionFunc func(a *Attribute)

func (f attrOptionFunc) applyToAttr(a *Attribute) { f(a) }

// OtherName declares the attribute as one side of a bidirectional reference.
func OtherName(name string) AttrOption {
	return attrOptionFunc(func(a *Attribute) { a.otherName = name })
}

func Default(v any) AttrOption {
	return attrOptionFunc(func(a *Attribute) {
		a.defaultValue = must(normalizeValue(v))
		a.hasDefault = true
	})
}

// InheritFrom makes reads fall back to a dotted attribute chain, e.g.
// "parentTask.priority".
func InheritFrom(chain string) AttrOption {
	return attrOptionFunc(func(a *Attribute) { a.inheritFrom = chain })
}

func Typed(t ValueType) AttrOption {
	return attrOptionFunc(func(a *Attribute) { a.typ = t })
}

var (
	// Cascade deletes referenced items whose reference count drops to zero.
	Cascade AttrOption = attrOptionFunc(func(a *Attribute) { a.deletePolicy = DeleteCascade })

	// Counted makes the attribute contribute to its item's reference count.
	Counted AttrOption = attrOptionFunc(func(a *Attribute) { a.countPolicy = CountRefs })

	// Indexed flags values of the attribute for the full-text indexer.
	Indexed AttrOption = attrOptionFunc(func(a *Attribute) { a.indexed = true })
)

func NewAttribute(name string, card Cardinality, opts ...AttrOption) *Attribute {
	if name == "" {
		panic("attribute name required")
	}
	a := &Attribute{name: name, card: card}
	for _, o := range opts {
		o.applyToAttr(a)
	}
	return a
}

func (a *Attribute) Name() string { return a.name }
func (a *Attribute) Cardinality() Cardinality { return a.card }
func (a *Attribute) Type() ValueType { return a.typ }
func (a *Attribute) OtherName() string { return a.otherName }
func (a *Attribute) InheritFrom() string { return a.inheritFrom }
func (a *Attribute) DeletePolicy() DeletePolicy { return a.deletePolicy }
func (a *Attribute) CountPolicy() CountPolicy { return a.countPolicy }
func (a *Attribute) IsIndexed() bool { return a.indexed }
func (a *Attribute) IsReference() bool { return a.otherName != "" || a.typ == TypeItem }

func (a *Attribute) Default() (any, bool) {
	return cloneValue(a.defaultValue), a.hasDefault
}

func (a *Attribute) String() string {
	return a.name
}

// SetDefault changes the declared default value.
func (a *Attribute) SetDefault(v any) error {
	n, err := normalizeValue(v)
	if err != nil {
		return err
	}
	a.change(func() { a.defaultValue, a.hasDefault = n, true })
	return nil
}

func (a *Attribute) SetCardinality(c Cardinality) {
	a.change(func() { a.card = c })
}

func (a *Attribute) SetDeletePolicy(p DeletePolicy) {
	a.change(func() { a.deletePolicy = p })
}

func (a *Attribute) SetCountPolicy(p CountPolicy) {
	a.change(func() { a.countPolicy = p })
}

// change applies f under the schema cache lock and invalidates every kind
// declaring a.
func (a *Attribute) change(f func()) {
	if len(a.owners) == 0 {
		f()
		return
	}
	reg := a.owners[0].reg
	reg.cacheMu.Lock()
	f()
	var affected []*Kind
	for _, k := range a.owners {
		k.dropCaches(&affected)
	}
	reg.cacheMu.Unlock()
	reg.schemaChanged(affected)
}

func (a *Attribute) addOwner(k *Kind) {
	if !slices.Contains(a.owners, k) {
		a.owners = append(a.owners, k)
	}
}

func (a *Attribute) removeOwner(k *Kind) {
	a.owners = slices.DeleteFunc(a.owners, func(o *Kind) bool { return o == k })
}

func (a *Attribute) hashInto(h *xxhash.Digest, alias string) {
	h.WriteString(alias)
	h.WriteString("\x00")
	h.WriteString(a.name)
	h.WriteString("\x00")
	h.Write([]byte{byte(a.card), byte(a.typ), byte(a.deletePolicy), byte(a.countPolicy), boolByte(a.indexed)})
	h.WriteString(a.otherName)
	h.WriteString("\x00")
	h.WriteString(a.inheritFrom)
	h.WriteString("\x00")
	if a.hasDefault {
		h.Write(MsgPack.EncodeAny(nil, a.defaultValue))
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// attrDef is the persisted form of an attribute declaration.
type attrDef struct {
	Alias        string `msgpack:"al,omitempty"`
	Name         string `msgpack:"n"`
	Card         uint8  `msgpack:"c"`
	Type         uint8  `msgpack:"t,omitempty"`
	OtherName    string `msgpack:"o,omitempty"`
	Default      any    `msgpack:"d,omitempty"`
	HasDefault   bool   `msgpack:"hd,omitempty"`
	InheritFrom  string `msgpack:"i,omitempty"`
	DeletePolicy uint8  `msgpack:"dp,omitempty"`
	CountPolicy  uint8  `msgpack:"cp,omitempty"`
	Indexed      bool   `msgpack:"x,omitempty"`
}

func (a *Attribute) def(alias string) attrDef {
	d := attrDef{
		Name:         a.name,
		Card:         uint8(a.card),
		Type:         uint8(a.typ),
		OtherName:    a.otherName,
		HasDefault:   a.hasDefault,
		InheritFrom:  a.inheritFrom,
		DeletePolicy: uint8(a.deletePolicy),
		CountPolicy:  uint8(a.countPolicy),
		Indexed:      a.indexed,
	}
	if alias != a.name {
		d.Alias = alias
	}
	if a.hasDefault {
		d.Default = a.defaultValue
	}
	return d
}

func (d attrDef) attribute() (*Attribute, string, error) {
	a := &Attribute{
		name:         d.Name,
		card:         Cardinality(d.Card),
		typ:          ValueType(d.Type),
		otherName:    d.OtherName,
		inheritFrom:  d.InheritFrom,
		deletePolicy: DeletePolicy(d.DeletePolicy),
		countPolicy:  CountPolicy(d.CountPolicy),
		indexed:      d.Indexed,
	}
	if d.HasDefault {
		v, err := normalizeValue(d.Default)
		if err != nil {
			return nil, "", fmt.Errorf("attribute %s default: %w", d.Name, err)
		}
		a.defaultValue, a.hasDefault = v, true
	}
	alias := d.Alias
	if alias == "" {
		alias = d.Name
	}
	return a, alias, nil
}

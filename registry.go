package itemdb

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Comparator orders two items for comparator indexes.
type Comparator func(a, b *Item) int

// Registry holds the schema: kinds by path, implementation types, named
// comparators, memoized mixins and schema change listeners. A registry is
// shared by all views of a repository; define the schema before opening.
type Registry struct {
	mu          sync.Mutex // guards mixinImpls
	kindsMu     sync.RWMutex
	cacheMu     sync.RWMutex // guards kind definitions and their caches
	kinds       map[string]*Kind
	order       []*Kind
	impls       map[string]*ImplType
	mixinImpls  map[uint64]*ImplType
	mixinKinds  map[uint64]*Kind
	comparators map[string]Comparator
	listeners   []func(k *Kind)
	baseImpl    *ImplType
	newID       func() ID
	generation  atomic.Uint64
	metrics     *schemaMetrics
}

func NewRegistry() *Registry {
	reg := &Registry{
		kinds:       make(map[string]*Kind),
		impls:       make(map[string]*ImplType),
		mixinImpls:  make(map[uint64]*ImplType),
		mixinKinds:  make(map[uint64]*Kind),
		comparators: make(map[string]Comparator),
		newID:       newRandomID,
		metrics:     newSchemaMetrics(),
	}
	reg.baseImpl = reg.DefineImpl("Item", nil)
	return reg
}

// DefineImpl registers a named implementation type.
func (reg *Registry) DefineImpl(name string, methods map[string]MethodFunc) *ImplType {
	if _, found := reg.impls[name]; found {
		panic(fmt.Errorf("implementation %q already defined", name))
	}
	if methods == nil {
		methods = make(map[string]MethodFunc)
	}
	t := &ImplType{name: name, methods: methods}
	reg.impls[name] = t
	return t
}

func (reg *Registry) Impl(name string) *ImplType {
	return reg.impls[name]
}

func (reg *Registry) BaseImpl() *ImplType {
	return reg.baseImpl
}

// mixinImpl synthesizes an implementation combining parts, memoized by the
// hash of the part names.
func (reg *Registry) mixinImpl(parts []*ImplType) *ImplType {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	var h xxhash.Digest
	h.Reset()
	for _, p := range parts {
		h.WriteString(p.name)
		h.WriteString("\x00")
	}
	key := h.Sum64()
	if t := reg.mixinImpls[key]; t != nil {
		reg.metrics.mixinHits.Inc()
		return t
	}
	reg.metrics.mixinMisses.Inc()
	t := &ImplType{
		name:  mixinImplName(parts),
		parts: slices.Clone(parts),
		mixin: true,
	}
	reg.mixinImpls[key] = t
	return t
}

func (reg *Registry) newKind(path string) *Kind {
	if path == "" {
		panic("kind path required")
	}
	return &Kind{
		reg:  reg,
		path: path,
		name: kindNameFromPath(path),
	}
}

func (reg *Registry) addKind(k *Kind) error {
	reg.kindsMu.Lock()
	defer reg.kindsMu.Unlock()
	return reg.putKind(k)
}

func (reg *Registry) putKind(k *Kind) error {
	if _, found := reg.kinds[k.path]; found {
		return fmt.Errorf("kind %s already defined", k.path)
	}
	reg.kinds[k.path] = k
	reg.order = append(reg.order, k)
	return nil
}

// Kind returns the kind at path, or nil.
func (reg *Registry) Kind(path string) *Kind {
	reg.kindsMu.RLock()
	defer reg.kindsMu.RUnlock()
	return reg.kinds[path]
}

// Kinds returns all kinds in definition order.
func (reg *Registry) Kinds() []*Kind {
	reg.kindsMu.RLock()
	defer reg.kindsMu.RUnlock()
	return slices.Clone(reg.order)
}

// Mixin returns the tagged mixin kind inheriting from kinds, in order. The
// same kind list always yields the same kind.
func (reg *Registry) Mixin(kinds ...*Kind) (*Kind, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("%w: empty mixin", ErrSchemaInheritance)
	}
	if len(kinds) == 1 {
		return kinds[0], nil
	}
	reg.kindsMu.Lock()
	defer reg.kindsMu.Unlock()
	var h xxhash.Digest
	h.Reset()
	paths := make([]string, len(kinds))
	for i, k := range kinds {
		paths[i] = k.path
		h.WriteString(k.path)
		h.WriteString("\x00")
	}
	key := h.Sum64()
	if k := reg.mixinKinds[key]; k != nil {
		reg.metrics.mixinHits.Inc()
		return k, nil
	}
	reg.metrics.mixinMisses.Inc()
	path := "mixin:" + strings.Join(paths, "+")
	if k := reg.kinds[path]; k != nil {
		reg.mixinKinds[key] = k
		return k, nil
	}
	k := reg.newKind(path)
	k.mixin = true
	reg.cacheMu.Lock()
	err := k.setSuperKinds(kinds)
	reg.cacheMu.Unlock()
	if err != nil {
		return nil, err
	}
	k.warmCaches()
	if err := reg.putKind(k); err != nil {
		return nil, err
	}
	reg.mixinKinds[key] = k
	return k, nil
}

// warmCaches computes the lazily built state of every kind, so that views
// of different goroutines only read it.
func (reg *Registry) warmCaches() {
	for _, k := range reg.Kinds() {
		k.warmCaches()
	}
}

func (reg *Registry) RegisterComparator(name string, f Comparator) {
	reg.comparators[name] = f
}

func (reg *Registry) Comparator(name string) Comparator {
	return reg.comparators[name]
}

// OnSchemaChange registers a listener called for every kind whose attribute
// table was invalidated: the edited kind first, then its descendants.
func (reg *Registry) OnSchemaChange(f func(k *Kind)) {
	reg.listeners = append(reg.listeners, f)
}

func (reg *Registry) schemaChanged(kinds []*Kind) {
	reg.generation.Add(1)
	for _, k := range kinds {
		for _, f := range reg.listeners {
			f(k)
		}
	}
}

// Generation increases on every schema change.
func (reg *Registry) Generation() uint64 {
	return reg.generation.Load()
}

// SetIDGenerator replaces the item id source (uuid.New by default).
func (reg *Registry) SetIDGenerator(f func() ID) {
	reg.newID = f
}

func (reg *Registry) NewID() ID {
	return reg.newID()
}

// descendants returns k and every kind inheriting from it, each once.
func (reg *Registry) descendants(k *Kind) []*Kind {
	var out []*Kind
	var visit func(x *Kind)
	visit = func(x *Kind) {
		if slices.Contains(out, x) {
			return
		}
		out = append(out, x)
		for _, s := range x.subs {
			visit(s)
		}
	}
	visit(k)
	return out
}

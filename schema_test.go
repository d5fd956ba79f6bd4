package itemdb

import (
	"slices"
	"testing"
)

func TestRegistry_mixins(t *testing.T) {
	s := newTestSchema()
	tagged := s.reg.DefineImpl("Tagged", map[string]MethodFunc{
		"tag": func(it *Item, args ...any) (any, error) {
			return "tagged:" + it.Name(), nil
		},
	})
	starred := s.reg.DefineImpl("Starred", map[string]MethodFunc{
		"star": func(it *Item, args ...any) (any, error) {
			return "*", nil
		},
	})
	tk := DefineKind(s.reg, "//Schema/Test/Tagged", func(b *KindBuilder) {
		b.Attr("label", Single, Typed(TypeString))
		b.Impl(tagged)
	})
	sk := DefineKind(s.reg, "//Schema/Test/Starred", func(b *KindBuilder) {
		b.Attr("stars", Single, Typed(TypeInt), Default(1))
		b.Impl(starred)
	})

	m1 := must(s.reg.Mixin(s.note, tk))
	m2 := must(s.reg.Mixin(s.note, tk))
	deepEqual(t, m1 == m2, true)
	deepEqual(t, m1.IsMixin(), true)
	deepEqual(t, m1.IsKindOf(s.note), true)
	deepEqual(t, m1.IsKindOf(tk), true)
	deepEqual(t, m1.IsKindOf(sk), false)
	deepEqual(t, must(s.reg.Mixin(s.note)) == s.note, true)
	_, err := s.reg.Mixin()
	iserr(t, err, ErrSchemaInheritance)
	deepEqual(t, m1.Impl(), tagged)

	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	n := mkItem(t, v, "N", nil, s.note)
	ensure(n.AddMixins(tk))
	deepEqual(t, n.Kind() == m1, true)
	ensure(n.AddMixins(sk, tk))
	deepEqual(t, n.Kind().SuperKinds(), []*Kind{s.note, tk, sk})
	deepEqual(t, get(t, n, "stars"), any(int64(1)))
	set(t, n, "label", "x")
	set(t, n, "rank", 2)

	deepEqual(t, must(n.Call("tag")), any("tagged:N"))
	deepEqual(t, must(n.Call("star")), any("*"))
	deepEqual(t, n.Impl().IsMixin(), true)
	deepEqual(t, n.Impl().Name(), "mixin(Tagged+Starred)")
	deepEqual(t, n.Impl().MethodNames(), []string{"star", "tag"})
	if _, err := n.Call("nope"); err == nil {
		t.Fatalf("** Call of a missing method succeeded")
	}
	commit(t, v)

	r := newView(t, repo, "reader")
	rn := find(t, r, "//N")
	deepEqual(t, rn.Kind() == n.Kind(), true)
	deepEqual(t, get(t, rn, "label"), any("x"))
	deepEqual(t, must(rn.Call("star")), any("*"))
}

func TestKind_hash(t *testing.T) {
	a, b := newTestSchema(), newTestSchema()
	deepEqual(t, a.note.Hash(), b.note.Hash())
	deepEqual(t, a.note.Hash() != a.folder.Hash(), true)

	gen := a.reg.Generation()
	before := a.note.Hash()
	ensure(a.note.AddAttribute(NewAttribute("color", Single, Typed(TypeString)), ""))
	deepEqual(t, a.note.Hash() != before, true)
	deepEqual(t, a.reg.Generation() > gen, true)
	deepEqual(t, slices.Contains(a.note.Attributes(), "color"), true)

	ensure(a.note.RemoveAttribute("color"))
	deepEqual(t, a.note.Hash(), before)
	iserr(t, a.note.RemoveAttribute("color"), ErrUnknownAttribute)
}

func TestKind_inheritance(t *testing.T) {
	s := newTestSchema()
	task := DefineKind(s.reg, "//Schema/Test/Task", func(b *KindBuilder) {
		b.Super(s.note)
		b.Attr("assignee", Single, Typed(TypeString))
	})
	deepEqual(t, task.Name(), "Task")
	deepEqual(t, task.IsKindOf(s.note), true)
	deepEqual(t, s.note.SubKinds(), []*Kind{task})
	deepEqual(t, task.OwnAttributes(), []string{"assignee"})
	_, ok := task.Attribute("rank")
	deepEqual(t, ok, true)

	sub := DefineKind(s.reg, "//Schema/Test/SubTask", func(b *KindBuilder) {
		b.Super(task)
	})
	_, ok = sub.Attribute("assignee")
	deepEqual(t, ok, true)

	var changed []*Kind
	s.reg.OnSchemaChange(func(k *Kind) { changed = append(changed, k) })
	iserr(t, s.note.SetSuperKinds(task), ErrSchemaInheritance)
	iserr(t, task.SetSuperKinds(s.note, s.note), ErrSchemaInheritance)
	isempty(t, changed)

	ensure(task.SetSuperKinds(s.folder))
	deepEqual(t, task.IsKindOf(s.note), false)
	deepEqual(t, changed, []*Kind{task, sub})
	_, ok = task.Attribute("notes")
	deepEqual(t, ok, true)
	_, ok = sub.Attribute("notes")
	deepEqual(t, ok, true)
	_, ok = sub.Attribute("rank")
	deepEqual(t, ok, false)
}

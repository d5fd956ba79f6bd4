package itemdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

type testSchema struct {
	reg        *Registry
	folder     *Kind
	note       *Kind
	attachment *Kind
}

func newTestSchema() *testSchema {
	s := &testSchema{reg: NewRegistry()}
	s.folder = DefineKind(s.reg, "//Schema/Test/Folder", func(b *KindBuilder) {
		b.Attr("title", Single, Typed(TypeString))
		b.Attr("notes", Sequence, OtherName("folder"))
		b.Attr("attachments", Set, OtherName("owners"), Cascade)
		b.Attr("tags", Set, Typed(TypeString))
		b.Attr("props", Mapping)
		b.Attr("bookmarks", Mapping, Typed(TypeItem))
		b.Attr("priority", Single, Typed(TypeInt), Default(3))
	})
	s.note = DefineKind(s.reg, "//Schema/Test/Note", func(b *KindBuilder) {
		b.Attr("title", Single, Typed(TypeString))
		b.Attr("folder", Single, OtherName("notes"))
		b.Attr("rank", Single, Typed(TypeInt))
		b.Attr("priority", Single, Typed(TypeInt), InheritFrom("folder.priority"))
		b.Attr("score", Single, Typed(TypeFloat))
		b.Attr("done", Single, Typed(TypeBool))
		b.Attr("due", Single, Typed(TypeTime))
		b.Attr("blob", Single, Typed(TypeBytes))
		b.Attr("words", Sequence)
		b.Attr("meta", Single, Typed(TypeDict))
	})
	s.attachment = DefineKind(s.reg, "//Schema/Test/Attachment", func(b *KindBuilder) {
		b.Attr("owners", Set, OtherName("attachments"), Counted)
		b.Attr("name", Single)
	})
	return s
}

func setup(t testing.TB, reg *Registry) *Repository {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "items.db"), reg)
}

func openAt(t testing.TB, path string, reg *Registry) *Repository {
	t.Helper()
	t.Logf("DB: %s", path)
	repo := must(Open(path, reg, Options{
		IsTesting: true,
	}))
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newView(t testing.TB, repo *Repository, name string) *View {
	t.Helper()
	v := must(repo.NewView(name))
	t.Cleanup(v.Close)
	return v
}

func commit(t testing.TB, v *View) *CommitInfo {
	t.Helper()
	info, err := v.Commit(context.Background(), nil)
	if err != nil {
		t.Fatalf("** Commit(%s) failed: %v", v, err)
	}
	return info
}

func mkItem(t testing.TB, v *View, name string, parent *Item, kind *Kind) *Item {
	t.Helper()
	it, err := v.NewItem(name, parent, kind)
	if err != nil {
		t.Fatalf("** NewItem(%q) failed: %v", name, err)
	}
	return it
}

func set(t testing.TB, it *Item, alias string, value any) {
	t.Helper()
	if err := it.SetAttributeValue(alias, value); err != nil {
		t.Fatalf("** %s.%s = %v failed: %v", it, alias, value, err)
	}
}

func get(t testing.TB, it *Item, alias string) any {
	t.Helper()
	v, err := it.GetAttributeValue(alias)
	if err != nil {
		t.Fatalf("** %s.%s failed: %v", it, alias, err)
	}
	return v
}

func find(t testing.TB, v *View, path string) *Item {
	t.Helper()
	it, err := v.FindPath(path)
	if err != nil {
		t.Fatalf("** FindPath(%q) failed: %v", path, err)
	}
	if it == nil {
		t.Fatalf("** FindPath(%q) found nothing", path)
	}
	return it
}

func names(items []*Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name()
	}
	return out
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func iserr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

func TestRepo_literalsRoundTrip(t *testing.T) {
	s := newTestSchema()
	path := filepath.Join(t.TempDir(), "items.db")
	repo := must(Open(path, s.reg, Options{IsTesting: true}))

	due := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	big := make([]byte, 3*lobThreshold+17)
	for i := range big {
		big[i] = byte(i)
	}

	v := must(repo.NewView("writer"))
	f := mkItem(t, v, "Projects", nil, s.folder)
	n := mkItem(t, v, "Todo", f, s.note)
	set(t, f, "title", "All projects")
	set(t, f, "tags", []string{"b", "a", "b"})
	set(t, f, "props", map[string]any{"color": "red", "size": 3})
	set(t, n, "rank", 42)
	set(t, n, "score", 1.5)
	set(t, n, "done", true)
	set(t, n, "due", due)
	set(t, n, "blob", big)
	set(t, n, "words", []any{"x", 1, false})
	set(t, n, "meta", map[string]any{"nested": []any{1, "two"}})
	info := commit(t, v)
	deepEqual(t, info.Version, uint64(1))
	deepEqual(t, info.Parent, uint64(0))
	deepEqual(t, info.Change(n).Op(), OpCreate)
	v.Close()
	ensure(repo.Close())

	// a fresh registry picks up the persisted schema
	repo = openAt(t, path, NewRegistry())
	deepEqual(t, repo.Version(), uint64(1))
	v = newView(t, repo, "reader")
	f = find(t, v, "//Projects")
	n = find(t, v, "//Projects/Todo")

	deepEqual(t, get(t, f, "title"), any("All projects"))
	deepEqual(t, get(t, f, "tags"), any([]any{"b", "a"}))
	deepEqual(t, get(t, f, "props"), any(map[string]any{"color": "red", "size": int64(3)}))
	deepEqual(t, get(t, n, "rank"), any(int64(42)))
	deepEqual(t, must(GetAs[int](n, "rank")), 42)
	deepEqual(t, get(t, n, "score"), any(1.5))
	deepEqual(t, get(t, n, "done"), any(true))
	if got := must(GetAs[time.Time](n, "due")); !got.Equal(due) {
		t.Errorf("** due = %v, wanted %v", got, due)
	}
	deepEqual(t, must(GetAs[[]byte](n, "blob")), big)
	deepEqual(t, get(t, n, "words"), any([]any{"x", int64(1), false}))
	deepEqual(t, get(t, n, "meta"), any(map[string]any{"nested": []any{int64(1), "two"}}))
	deepEqual(t, n.Kind().Path(), "//Schema/Test/Note")
	deepEqual(t, must(n.Path()), "//Projects/Todo")
}

func TestRepo_valueChecks(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	n := mkItem(t, v, "N", f, s.note)

	iserr(t, n.SetAttributeValue("rank", "high"), ErrInvalidValue)
	iserr(t, n.SetAttributeValue("nope", 1), ErrUnknownAttribute)
	iserr(t, f.SetAttributeValue("tags", "single"), ErrInvalidCardinality)
	iserr(t, f.SetAttributeValue("props", []any{1}), ErrInvalidCardinality)
	iserr(t, f.SetAttributeValue("notes", "literal"), ErrInvalidValue)

	_, err := n.GetAttributeValue("title")
	iserr(t, err, ErrMissingAttributeValue)
	deepEqual(t, must(n.GetAttributeValue("title", "untitled")), any("untitled"))

	// declared default, then inherited through the folder reference
	deepEqual(t, get(t, f, "priority"), any(int64(3)))
	_, err = n.GetAttributeValue("priority")
	iserr(t, err, ErrMissingAttributeValue)
	set(t, n, "folder", f)
	deepEqual(t, get(t, n, "priority"), any(int64(3)))
	set(t, f, "priority", 7)
	deepEqual(t, get(t, n, "priority"), any(int64(7)))
	set(t, n, "priority", 1)
	deepEqual(t, get(t, n, "priority"), any(int64(1)))

	set(t, n, "title", nil)
	deepEqual(t, n.HasAttributeValue("title"), false)
	set(t, n, "title", "x")
	ensure(n.RemoveAttributeValue("title"))
	deepEqual(t, n.HasAttributeValue("title"), false)
	iserr(t, n.RemoveAttributeValue("title"), ErrMissingAttributeValue)
}

func TestRepo_multiValued(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	n := mkItem(t, v, "N", f, s.note)

	ensure(n.AddValue("words", "a"))
	ensure(n.AddValue("words", "b"))
	ensure(n.AddValue("words", "a"))
	deepEqual(t, get(t, n, "words"), any([]any{"a", "b", "a"}))
	deepEqual(t, must(n.GetValue("words", 1)), any("b"))
	ensure(n.SetValue("words", "c", 1))
	deepEqual(t, n.HasValue("words", "c"), true)
	deepEqual(t, n.HasKey("words", 2), true)
	deepEqual(t, n.HasKey("words", 3), false)
	ensure(n.RemoveValue("words", "a"))
	deepEqual(t, get(t, n, "words"), any([]any{"c", "a"}))

	ensure(f.AddValue("tags", "x"))
	ensure(f.AddValue("tags", "x"))
	deepEqual(t, get(t, f, "tags"), any([]any{"x"}))

	ensure(f.AddValue("props", 1, "one"))
	ensure(f.SetValue("props", 2, "two"))
	iserr(t, f.AddValue("props", 3), ErrInvalidValue)
	deepEqual(t, f.HasKey("props", "one"), true)
	ensure(f.RemoveKey("props", "one"))
	deepEqual(t, get(t, f, "props"), any(map[string]any{"two": int64(2)}))

	_, err := n.GetValue("title", 0)
	iserr(t, err, ErrInvalidCardinality)

	b1 := mkItem(t, v, "B1", f, s.note)
	b2 := mkItem(t, v, "B2", f, s.note)
	b3 := mkItem(t, v, "B3", f, s.note)
	ensure(f.AddValue("bookmarks", b1, "main"))
	ensure(f.AddValue("bookmarks", b2, "main"))
	ensure(f.AddValue("bookmarks", b3, "other"))
	d := f.RefDict("bookmarks")
	deepEqual(t, d.Keys(), []string{"main", "other"})
	deepEqual(t, d.Get("main").IDs(), []ID{b1.ID(), b2.ID()})
	deepEqual(t, d.Len(), 3)
	ensure(f.RemoveKey("bookmarks", "main"))
	deepEqual(t, d.Keys(), []string{"other"})
	commit(t, v)

	v2 := newView(t, repo, "reader")
	f2 := find(t, v2, "//F")
	d2 := f2.RefDict("bookmarks")
	deepEqual(t, d2.Keys(), []string{"other"})
	deepEqual(t, d2.Get("other").IDs(), []ID{b3.ID()})
}

func TestRepo_bidirectional(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f1 := mkItem(t, v, "F1", nil, s.folder)
	f2 := mkItem(t, v, "F2", nil, s.folder)
	a := mkItem(t, v, "A", f1, s.note)
	b := mkItem(t, v, "B", f1, s.note)

	set(t, a, "folder", f1)
	set(t, b, "folder", f1)
	deepEqual(t, f1.RefList("notes").IDs(), []ID{a.ID(), b.ID()})

	// re-pointing a single reference updates both old and new targets
	set(t, a, "folder", f2)
	deepEqual(t, f1.RefList("notes").IDs(), []ID{b.ID()})
	deepEqual(t, f2.RefList("notes").IDs(), []ID{a.ID()})

	// appending on the multi-valued side re-points the single side, which
	// leaves the previous target's list
	ensure(f2.RefList("notes").Append(b))
	deepEqual(t, get(t, b, "folder"), any(f2))
	deepEqual(t, f1.RefList("notes").Len(), 0)
	deepEqual(t, f1.Check(), true)
	deepEqual(t, f2.Check(), true)
	deepEqual(t, a.Check(), true)
	commit(t, v)

	v2 := newView(t, repo, "reader")
	g1, g2 := find(t, v2, "//F1"), find(t, v2, "//F2")
	ga, gb := find(t, v2, "//F1/A"), find(t, v2, "//F1/B")
	deepEqual(t, g2.RefList("notes").IDs(), []ID{a.ID(), b.ID()})
	deepEqual(t, get(t, ga, "folder"), any(g2))
	deepEqual(t, get(t, gb, "folder"), any(g2))
	deepEqual(t, g1.HasValue("notes", gb), false)

	ensure(g2.Detach("notes", ga))
	deepEqual(t, ga.HasAttributeValue("folder"), false)
	ensure(gb.RemoveAttributeValue("folder"))
	deepEqual(t, g2.RefList("notes").Len(), 0)
	deepEqual(t, g2.Check(), true)
}

func TestRepo_siblingNames(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	a := mkItem(t, v, "A", f, s.note)
	mkItem(t, v, "B", f, s.note)

	_, err := v.NewItem("A", f, s.note)
	iserr(t, err, ErrNameExists)
	_, err = v.NewItem("F", nil, s.folder)
	iserr(t, err, ErrNameExists)
	_, err = v.NewItem("x/y", f, s.note)
	iserr(t, err, ErrInvalidValue)
	iserr(t, a.Rename("B"), ErrNameExists)

	// the same name is fine under another parent
	g := mkItem(t, v, "G", nil, s.folder)
	mkItem(t, v, "A", g, s.note)
	iserr(t, a.Move(g), ErrNameExists)

	ensure(a.Rename("C"))
	ensure(a.Move(g))
	deepEqual(t, must(a.Path()), "//G/C")
	deepEqual(t, must(a.Root()) == g, true)
	deepEqual(t, must(g.Root()) == g, true)
	deepEqual(t, names(must(f.Children())), []string{"B"})
	deepEqual(t, names(must(g.Children())), []string{"A", "C"})
	iserr(t, g.Move(must(g.Child("C"))), ErrInvalidValue)
	commit(t, v)

	v2 := newView(t, repo, "reader")
	deepEqual(t, names(must(v2.Roots())), []string{"F", "G"})
	deepEqual(t, names(must(find(t, v2, "//G").Children())), []string{"A", "C"})
	deepEqual(t, must(find(t, v2, "//G/C").Find("../A")).Name(), "A")
}

func TestRepo_deleteCascade(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	lib := mkItem(t, v, "Library", nil, s.folder)
	f := mkItem(t, v, "F", nil, s.folder)
	g := mkItem(t, v, "G", nil, s.folder)
	child := mkItem(t, v, "Child", f, s.note)
	only := mkItem(t, v, "Only", lib, s.attachment)
	shared := mkItem(t, v, "Shared", lib, s.attachment)
	ensure(f.Attach("attachments", only))
	ensure(f.Attach("attachments", shared))
	ensure(g.Attach("attachments", shared))
	deepEqual(t, only.RefCount(), 1)
	deepEqual(t, shared.RefCount(), 2)
	commit(t, v)

	ensure(f.Delete())
	deepEqual(t, f.IsDeleted(), true)
	deepEqual(t, child.IsDeleted(), true)
	deepEqual(t, only.IsDeleted(), true)
	deepEqual(t, shared.IsDeleted(), false)
	deepEqual(t, shared.RefCount(), 1)
	iserr(t, f.SetAttributeValue("title", "x"), ErrItemDeleted)
	ensure(f.Delete())
	info := commit(t, v)
	deepEqual(t, info.Change(f).Op(), OpDelete)

	v2 := newView(t, repo, "reader")
	isnil(t, must(v2.FindPath("//F")))
	isnil(t, must(v2.Find(child.ID())))
	isnil(t, must(v2.Find(only.ID())))
	deepEqual(t, names(must(find(t, v2, "//Library").Children())), []string{"Shared"})
	deepEqual(t, find(t, v2, "//G").RefList("attachments").IDs(), []ID{shared.ID()})
}

func TestRepo_extent(t *testing.T) {
	s := newTestSchema()
	task := DefineKind(s.reg, "//Schema/Test/Task", func(b *KindBuilder) {
		b.Super(s.note)
	})
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	mkItem(t, v, "N1", f, s.note)
	mkItem(t, v, "T1", f, task)
	commit(t, v)

	n2 := mkItem(t, v, "N2", f, s.note)
	deepEqual(t, len(must(v.Extent(s.note, false))), 2)
	deepEqual(t, len(must(v.Extent(s.note, true))), 3)
	deepEqual(t, len(must(v.Extent(task, false))), 1)

	ensure(n2.SetKind(task))
	deepEqual(t, len(must(v.Extent(task, false))), 2)
	commit(t, v)

	v2 := newView(t, repo, "reader")
	deepEqual(t, len(must(v2.Extent(task, false))), 2)
	deepEqual(t, len(must(v2.Extent(s.note, false))), 1)
	deepEqual(t, len(must(v2.Extent(s.folder, false))), 1)
}

func TestRepo_cancel(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	set(t, f, "title", "committed")
	commit(t, v)

	set(t, f, "title", "edited")
	tmp := mkItem(t, v, "Tmp", f, s.note)
	ensure(f.Rename("Renamed"))
	deepEqual(t, v.IsDirty(), true)
	ensure(v.Cancel())
	deepEqual(t, v.IsDirty(), false)
	deepEqual(t, tmp.IsDeleted(), true)
	deepEqual(t, get(t, f, "title"), any("committed"))
	deepEqual(t, f.Name(), "F")
	isempty(t, must(f.Children()))

	info, err := v.Commit(context.Background(), nil)
	isnil(t, info)
	deepEqual(t, err, nil)
	deepEqual(t, repo.Version(), uint64(1))
}

func TestRepo_onCommitAndVersions(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	var got []uint64
	v.OnCommit(func(info *CommitInfo) { got = append(got, info.Version) })

	f := mkItem(t, v, "F", nil, s.folder)
	commit(t, v)
	set(t, f, "title", "t")
	info := commit(t, v)
	deepEqual(t, got, []uint64{1, 2})
	deepEqual(t, info.Change(f).Op(), OpUpdate)
	deepEqual(t, info.Change(f).Attributes(), []string{"title"})
	deepEqual(t, v.Version(), uint64(2))

	vers := must(repo.Versions(0, 10))
	deepEqual(t, len(vers), 2)
	deepEqual(t, vers[1].Version, uint64(2))
	deepEqual(t, vers[1].Parent, uint64(1))
	deepEqual(t, vers[1].View, "test")

	old := must(repo.ViewAt("old", 1))
	defer old.Close()
	_, err := find(t, old, "//F").GetAttributeValue("title")
	iserr(t, err, ErrMissingAttributeValue)
}

func TestRepo_closedView(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := must(repo.NewView("test"))
	v.Close()
	_, err := v.NewItem("F", nil, s.folder)
	iserr(t, err, ErrViewClosed)
	_, err = v.Commit(context.Background(), nil)
	iserr(t, err, ErrViewClosed)
}

func TestRepo_inMemory(t *testing.T) {
	s := newTestSchema()
	repo := must(Open("", s.reg, Options{InMemory: true}))
	defer repo.Close()
	v := must(repo.NewView("test"))
	defer v.Close()
	f := mkItem(t, v, "F", nil, s.folder)
	set(t, f, "title", "mem")
	commit(t, v)

	v2 := must(repo.NewView("reader"))
	defer v2.Close()
	deepEqual(t, get(t, find(t, v2, "//F"), "title"), any("mem"))
}

func TestRepo_journal(t *testing.T) {
	s := newTestSchema()
	dir := t.TempDir()
	repo := must(Open(filepath.Join(dir, "items.db"), s.reg, Options{IsTesting: true, JournalDir: filepath.Join(dir, "journal")}))
	v := must(repo.NewView("test"))
	f := mkItem(t, v, "F", nil, s.folder)
	commit(t, v)
	ensure(f.Delete())
	commit(t, v)
	v.Close()
	ensure(repo.Close())

	entries := must(os.ReadDir(filepath.Join(dir, "journal")))
	if len(entries) == 0 {
		t.Fatalf("** no journal segments written")
	}
}

func TestRepo_deletedItemReads(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	set(t, f, "title", "Hello")
	ensure(f.AddValue("tags", "a"))
	ensure(f.Delete())

	_, err := f.GetAttributeValue("priority")
	iserr(t, err, ErrItemDeleted)
	_, err = f.GetAttributeValue("title", "dflt")
	iserr(t, err, ErrItemDeleted)
	_, err = GetAs[string](f, "title")
	iserr(t, err, ErrItemDeleted)
	_, err = f.GetValue("tags", 0)
	iserr(t, err, ErrItemDeleted)
	deepEqual(t, f.HasValue("tags", "a"), false)
	deepEqual(t, f.HasKey("tags", 0), false)
}

func TestRepo_deleteFailureCanBeRetried(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "seed")
	lib := mkItem(t, v, "Library", nil, s.folder)
	f := mkItem(t, v, "F", nil, s.folder)
	ensure(f.Attach("attachments", mkItem(t, v, "A", lib, s.attachment)))
	commit(t, v)

	v2 := newView(t, repo, "deleter")
	f2 := find(t, v2, "//F")
	isempty(t, must(f2.Children()))
	ensure(repo.Close())

	// the attachment is not loaded yet, so severing it has to read storage
	if err := f2.Delete(); err == nil {
		t.Fatal("** Delete succeeded on a closed repository")
	}
	deepEqual(t, f2.status.Has(StatusDeleting), false)
	deepEqual(t, f2.IsDeleted(), false)
	if err := f2.Delete(); err == nil {
		t.Fatal("** repeated Delete silently succeeded")
	}
}

func TestRepo_concurrentViews(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	// drops the kind caches warmed by Open
	ensure(s.note.AddAttribute(NewAttribute("extra", Single), "extra"))

	const n = 4
	views := make([]*View, n)
	for i := range views {
		views[i] = newView(t, repo, fmt.Sprintf("w%d", i))
	}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i, v := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := v.NewItem(fmt.Sprintf("N%d", i), nil, s.note)
			if err == nil {
				err = it.SetAttributeValue("title", v.Name())
			}
			if err == nil {
				err = it.SetAttributeValue("extra", int64(i))
			}
			if err == nil {
				_, err = v.Commit(context.Background(), nil)
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("** view w%d failed: %v", i, err)
		}
	}
	deepEqual(t, repo.Version(), uint64(n))

	r := newView(t, repo, "reader")
	deepEqual(t, len(must(r.Roots())), n)
	deepEqual(t, get(t, find(t, r, "//N2"), "extra"), any(int64(2)))
}

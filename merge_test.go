package itemdb

import (
	"context"
	"errors"
	"testing"
)

// forked commits a folder F with a note N and returns two views at that
// version.
func forked(t *testing.T) (*testSchema, *Repository, *View, *View) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "seed")
	f := mkItem(t, v, "F", nil, s.folder)
	n := mkItem(t, v, "N", f, s.note)
	set(t, f, "title", "base")
	set(t, n, "folder", f)
	commit(t, v)
	return s, repo, newView(t, repo, "A"), newView(t, repo, "B")
}

func conflictsOf(t testing.TB, err error) []*Conflict {
	t.Helper()
	var mce *MergeConflictError
	if !errors.As(err, &mce) {
		t.Fatalf("** got error %v, wanted *MergeConflictError", err)
	}
	return mce.Conflicts
}

func TestMerge_valueConflict(t *testing.T) {
	_, repo, a, b := forked(t)
	ctx := context.Background()

	set(t, find(t, b, "//F"), "title", "Y")
	deepEqual(t, commit(t, b).Version, uint64(2))

	fa := find(t, a, "//F")
	set(t, fa, "title", "X")
	_, err := a.Commit(ctx, nil)
	iserr(t, err, ErrMergeConflict)
	cs := conflictsOf(t, err)
	deepEqual(t, len(cs), 1)
	deepEqual(t, cs[0].Category, ValueConflict)
	deepEqual(t, cs[0].Attribute, "title")
	deepEqual(t, cs[0].Ours, any("X"))
	deepEqual(t, cs[0].Theirs, any("Y"))
	deepEqual(t, cs[0].Version, uint64(2))

	// the failed commit leaves both the repository and the view untouched
	deepEqual(t, repo.Version(), uint64(2))
	deepEqual(t, a.Version(), uint64(1))
	deepEqual(t, a.IsDirty(), true)
	deepEqual(t, get(t, fa, "title"), any("X"))

	var seen []*Conflict
	info, err := a.Commit(ctx, func(c *Conflict) (any, error) {
		seen = append(seen, c)
		return "Z", nil
	})
	if err != nil {
		t.Fatalf("** Commit with resolver failed: %v", err)
	}
	deepEqual(t, len(seen), 1)
	deepEqual(t, info.Version, uint64(3))
	deepEqual(t, info.Parent, uint64(2))
	deepEqual(t, info.Merged, true)
	deepEqual(t, get(t, fa, "title"), any("Z"))

	r := newView(t, repo, "reader")
	deepEqual(t, get(t, find(t, r, "//F"), "title"), any("Z"))
}

func TestMerge_resolverError(t *testing.T) {
	_, repo, a, b := forked(t)
	ctx := context.Background()
	set(t, find(t, b, "//F"), "title", "Y")
	commit(t, b)

	set(t, find(t, a, "//F"), "title", "X")
	boom := errors.New("boom")
	_, err := a.Commit(ctx, func(c *Conflict) (any, error) { return nil, boom })
	iserr(t, err, boom)
	deepEqual(t, repo.Version(), uint64(2))

	info, err := a.Commit(ctx, KeepTheirs)
	if err != nil {
		t.Fatalf("** Commit(KeepTheirs) failed: %v", err)
	}
	deepEqual(t, info.Version, uint64(3))
	deepEqual(t, get(t, find(t, a, "//F"), "title"), any("Y"))
}

func TestMerge_disjointEdits(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	fb := find(t, b, "//F")
	set(t, fb, "priority", 9)
	mkItem(t, b, "FromB", fb, s.note)
	commit(t, b)

	fa := find(t, a, "//F")
	set(t, fa, "title", "from A")
	mkItem(t, a, "FromA", fa, s.note)
	info, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}
	deepEqual(t, info.Version, uint64(3))

	r := newView(t, repo, "reader")
	f := find(t, r, "//F")
	deepEqual(t, get(t, f, "title"), any("from A"))
	deepEqual(t, get(t, f, "priority"), any(int64(9)))
	deepEqual(t, names(must(f.Children())), []string{"N", "FromA", "FromB"})

	// A picked up B's edits while merging
	deepEqual(t, get(t, fa, "priority"), any(int64(9)))
}

func TestMerge_listSplice(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	fb := find(t, b, "//F")
	nb := mkItem(t, b, "NB", fb, s.note)
	set(t, nb, "folder", fb)
	commit(t, b)

	fa := find(t, a, "//F")
	na := mkItem(t, a, "NA", fa, s.note)
	set(t, na, "folder", fa)
	_, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}

	r := newView(t, repo, "reader")
	f := find(t, r, "//F")
	n := find(t, r, "//F/N")
	deepEqual(t, f.RefList("notes").IDs(), []ID{n.ID(), na.ID(), nb.ID()})
	deepEqual(t, f.Check(), true)
}

func TestMerge_refresh(t *testing.T) {
	_, _, a, b := forked(t)
	ctx := context.Background()

	fa := find(t, a, "//F")
	set(t, find(t, b, "//F"), "title", "Y")
	commit(t, b)

	deepEqual(t, get(t, fa, "title"), any("base"))
	ensure(a.Refresh(ctx, nil))
	deepEqual(t, a.Version(), uint64(2))
	deepEqual(t, get(t, fa, "title"), any("Y"))
	deepEqual(t, a.IsDirty(), false)
}

func TestMerge_deleteConflict(t *testing.T) {
	_, repo, a, b := forked(t)
	ctx := context.Background()

	ensure(find(t, b, "//F/N").Delete())
	commit(t, b)

	na := find(t, a, "//F/N")
	set(t, na, "title", "edited")
	_, err := a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, cs[0].Category, DeleteConflict)
	deepEqual(t, cs[0].Theirs, any(true))

	// anything but ConfirmDeletion is rejected
	_, err = a.Commit(ctx, func(c *Conflict) (any, error) { return "keep", nil })
	iserr(t, err, ErrMergeConflict)
	deepEqual(t, na.IsDeleted(), false)

	_, err = a.Commit(ctx, KeepOurs)
	if err != nil {
		t.Fatalf("** Commit(KeepOurs) failed: %v", err)
	}
	deepEqual(t, na.IsDeleted(), true)

	r := newView(t, repo, "reader")
	isnil(t, must(r.FindPath("//F/N")))
	if l := find(t, r, "//F").RefList("notes"); l != nil {
		deepEqual(t, l.Len(), 0)
	}
}

func TestMerge_renameConflict(t *testing.T) {
	_, repo, a, b := forked(t)
	ctx := context.Background()

	ensure(find(t, b, "//F/N").Rename("FromB"))
	commit(t, b)

	ensure(find(t, a, "//F/N").Rename("FromA"))
	_, err := a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, cs[0].Category, RenameConflict)
	deepEqual(t, cs[0].Ours, any("FromA"))
	deepEqual(t, cs[0].Theirs, any("FromB"))

	_, err = a.Commit(ctx, KeepOurs)
	if err != nil {
		t.Fatalf("** Commit(KeepOurs) failed: %v", err)
	}
	r := newView(t, repo, "reader")
	deepEqual(t, names(must(find(t, r, "//F").Children())), []string{"FromA"})
}

func TestMerge_nameConflict(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	mkItem(t, b, "X", find(t, b, "//F"), s.note)
	commit(t, b)

	xa := mkItem(t, a, "X", find(t, a, "//F"), s.note)
	_, err := a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, cs[0].Category, NameConflict)
	deepEqual(t, cs[0].Item, xa)

	_, err = a.Commit(ctx, func(c *Conflict) (any, error) { return "X2", nil })
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}
	deepEqual(t, xa.Name(), "X2")
	r := newView(t, repo, "reader")
	// the view's insertion stays right after its anchor, ahead of theirs
	deepEqual(t, names(must(find(t, r, "//F").Children())), []string{"N", "X2", "X"})
}

func TestMerge_referenceConflict(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	for _, v := range []*View{a, b} {
		mkItem(t, v, "G"+v.Name(), nil, s.folder)
	}
	commit(t, b)
	// A's folder must exist in the repository before A points at it
	_, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}
	ensure(b.Refresh(ctx, nil))

	set(t, find(t, b, "//F/N"), "folder", find(t, b, "//GB"))
	commit(t, b)

	ga := find(t, a, "//GA")
	set(t, find(t, a, "//F/N"), "folder", ga)
	_, err = a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, cs[0].Category, ReferenceConflict)
	deepEqual(t, cs[0].Ours, any(ga.ID()))

	_, err = a.Commit(ctx, KeepTheirs)
	if err != nil {
		t.Fatalf("** Commit(KeepTheirs) failed: %v", err)
	}

	r := newView(t, repo, "reader")
	n := find(t, r, "//F/N")
	gb := find(t, r, "//GB")
	deepEqual(t, get(t, n, "folder"), any(gb))
	deepEqual(t, gb.RefList("notes").IDs(), []ID{n.ID()})
	deepEqual(t, find(t, r, "//GA").HasValue("notes", n), false)
	deepEqual(t, find(t, r, "//F").HasValue("notes", n), false)
	deepEqual(t, n.Check(), true)
	deepEqual(t, gb.Check(), true)
}

func TestMerge_storeContention(t *testing.T) {
	s := newTestSchema()
	st := newMemStorage()
	repo1 := must(openStorage(st, s.reg, Options{}))
	defer repo1.Close()

	v := newView(t, repo1, "seed")
	f := mkItem(t, v, "F", nil, s.folder)
	mkItem(t, v, "G", nil, s.folder)
	commit(t, v)

	// a second repository over the same storage loads the persisted schema
	repo2 := must(openStorage(st, NewRegistry(), Options{}))
	other := newView(t, repo2, "other")
	set(t, find(t, other, "//G"), "title", "from repo2")

	repo1.beforeWrite = func() {
		repo1.beforeWrite = nil
		commit(t, other)
	}
	set(t, f, "title", "from repo1")
	_, err := v.Commit(context.Background(), nil)
	iserr(t, err, ErrStoreContention)
	deepEqual(t, IsRetryable(err), true)
	deepEqual(t, v.IsDirty(), true)
	deepEqual(t, v.Version(), uint64(1))

	info, err := v.Commit(context.Background(), nil)
	if err != nil {
		t.Fatalf("** retry failed: %v", err)
	}
	deepEqual(t, info.Version, uint64(3))
	deepEqual(t, get(t, find(t, v, "//G"), "title"), any("from repo2"))
}

func TestMerge_moveConflict(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	for _, v := range []*View{a, b} {
		mkItem(t, v, "G"+v.Name(), nil, s.folder)
	}
	commit(t, b)
	_, err := a.Commit(ctx, nil)
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}
	ensure(b.Refresh(ctx, nil))

	ensure(find(t, b, "//F/N").Move(find(t, b, "//GB")))
	commit(t, b)

	na := find(t, a, "//F/N")
	ga := find(t, a, "//GA")
	ensure(na.Move(ga))
	_, err = a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, len(cs), 1)
	deepEqual(t, cs[0].Category, MoveConflict)
	deepEqual(t, cs[0].Item, na)
	deepEqual(t, cs[0].Ours, any(ga.ID()))
	deepEqual(t, repo.Version(), uint64(4))

	_, err = a.Commit(ctx, KeepTheirs)
	if err != nil {
		t.Fatalf("** Commit(KeepTheirs) failed: %v", err)
	}
	r := newView(t, repo, "reader")
	deepEqual(t, must(find(t, r, "//GB/N").Path()), "//GB/N")
	isempty(t, must(find(t, r, "//GA").Children()))
	isempty(t, must(find(t, r, "//F").Children()))
	deepEqual(t, must(na.Path()), "//GB/N")
}

func TestMerge_aliasConflict(t *testing.T) {
	s, repo, a, b := forked(t)
	ctx := context.Background()

	fb := find(t, b, "//F")
	nb := mkItem(t, b, "NB", fb, s.note)
	set(t, nb, "folder", fb)
	ensure(fb.RefList("notes").SetAlias(nb, "x"))
	commit(t, b)

	fa := find(t, a, "//F")
	na := mkItem(t, a, "NA", fa, s.note)
	set(t, na, "folder", fa)
	ensure(fa.RefList("notes").SetAlias(na, "x"))
	_, err := a.Commit(ctx, nil)
	cs := conflictsOf(t, err)
	deepEqual(t, len(cs), 1)
	deepEqual(t, cs[0].Category, AliasConflict)
	deepEqual(t, cs[0].Item, fa)
	deepEqual(t, cs[0].Attribute, "notes")
	deepEqual(t, cs[0].Ours, any("x"))
	deepEqual(t, fa.RefList("notes").Alias(na), "x")

	_, err = a.Commit(ctx, func(c *Conflict) (any, error) { return "y", nil })
	if err != nil {
		t.Fatalf("** Commit failed: %v", err)
	}
	r := newView(t, repo, "reader")
	rl := find(t, r, "//F").RefList("notes")
	deepEqual(t, must(rl.ByAlias("x")).Name(), "NB")
	deepEqual(t, must(rl.ByAlias("y")).Name(), "NA")
	deepEqual(t, rl.Len(), 3)
}

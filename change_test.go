package itemdb

import "testing"

func TestChangeFlags_Contains(t *testing.T) {
	f := ChangeRenamed | ChangeMoved
	if !f.Contains(ChangeRenamed) || !f.ContainsAny(ChangeMoved|ChangeKind) {
		t.Fatalf("Contains/ContainsAny returned unexpected values for %v", f)
	}
	if f.Contains(ChangeKind) || f.ContainsAny(0) {
		t.Fatalf("Contains/ContainsAny returned unexpected values for %v", f)
	}

	if OpCreate.String() != "create" || OpUpdate.String() != "update" || OpDelete.String() != "delete" || OpNone.String() != "none" {
		t.Fatalf("unexpected Op.String values")
	}
	if got := Op(999).String(); got != "Op(999)" {
		t.Fatalf("unexpected Op(999).String() = %q", got)
	}
}

func TestCommitInfo_changes(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	g := mkItem(t, v, "G", nil, s.folder)
	n := mkItem(t, v, "N", f, s.note)
	gone := mkItem(t, v, "Gone", f, s.note)
	commit(t, v)

	ensure(n.Rename("M"))
	ensure(n.Move(g))
	set(t, n, "title", "moved")
	ensure(gone.Delete())
	info := commit(t, v)

	chg := info.Change(n)
	isnonnil(t, chg)
	deepEqual(t, chg.Op(), OpUpdate)
	deepEqual(t, chg.ID(), n.ID())
	deepEqual(t, chg.Item(), n)
	deepEqual(t, chg.Flags().Contains(ChangeRenamed|ChangeMoved), true)
	deepEqual(t, chg.Flags().Contains(ChangeKind), false)
	deepEqual(t, chg.Attributes(), []string{"title"})

	deepEqual(t, info.Change(gone).Op(), OpDelete)
	isnil(t, info.Change(find(t, v, "//F")))
	deepEqual(t, info.View, "test")
	if info.Time.IsZero() {
		t.Errorf("** CommitInfo.Time is zero")
	}
}

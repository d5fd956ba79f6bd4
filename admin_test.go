package itemdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func metricValue(t testing.TB, g prometheus.Gatherer, name string, labels ...string) float64 {
	t.Helper()
	for _, mf := range must(g.Gather()) {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for i := 0; i+1 < len(labels); i += 2 {
				var found bool
				for _, lp := range m.GetLabel() {
					if lp.GetName() == labels[i] && lp.GetValue() == labels[i+1] {
						found = true
					}
				}
				if !found {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("** metric %s%v not found", name, labels)
	return 0
}

func TestRepo_metrics(t *testing.T) {
	s := newTestSchema()
	pr := prometheus.NewRegistry()
	repo := must(Open(filepath.Join(t.TempDir(), "items.db"), s.reg, Options{
		IsTesting: true,
		Metrics:   pr,
	}))
	t.Cleanup(func() { repo.Close() })

	v := newView(t, repo, "A")
	mkItem(t, v, "F", nil, s.folder)
	commit(t, v)
	b := newView(t, repo, "B")
	deepEqual(t, metricValue(t, pr, "itemdb_open_views"), 2.0)

	set(t, find(t, b, "//F"), "title", "b")
	commit(t, b)
	set(t, find(t, v, "//F"), "title", "a")
	_, err := v.Commit(context.Background(), nil)
	iserr(t, err, ErrMergeConflict)

	deepEqual(t, metricValue(t, pr, "itemdb_commits_total"), 2.0)
	deepEqual(t, metricValue(t, pr, "itemdb_version"), 2.0)
	deepEqual(t, metricValue(t, pr, "itemdb_commit_failures_total", "reason", "conflict"), 1.0)
	deepEqual(t, metricValue(t, pr, "itemdb_merge_conflicts_total", "category", "value"), 1.0)

	b.Close()
	deepEqual(t, metricValue(t, pr, "itemdb_open_views"), 1.0)

	// a second repository over the same registry reuses the collectors
	other := must(Open(filepath.Join(t.TempDir(), "other.db"), s.reg, Options{IsTesting: true, Metrics: pr}))
	ensure(other.Close())
}

func TestRepo_checkAll(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "seed")
	for _, name := range []string{"A", "B", "C"} {
		f := mkItem(t, v, name, nil, s.folder)
		for _, child := range []string{"x", "y"} {
			n := mkItem(t, v, child, f, s.note)
			set(t, n, "folder", f)
		}
	}
	commit(t, v)

	report := must(repo.CheckAll(context.Background(), 2))
	deepEqual(t, report.OK(), true)
	deepEqual(t, report.Items, 9)
	deepEqual(t, report.Version, uint64(1))
	deepEqual(t, report.String(), "v1: 9 items checked, 0 failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.CheckAll(ctx, 0)
	iserr(t, err, context.Canceled)
}

func TestView_dump(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	f := mkItem(t, v, "F", nil, s.folder)
	n := mkItem(t, v, "N", f, s.note)
	set(t, f, "title", "Hello")
	set(t, n, "folder", f)
	commit(t, v)

	out := must(v.Dump(DumpAttributes))
	lines := strings.Split(strings.TrimSpace(out), "\n")
	deepEqual(t, lines[0], "F : //Schema/Test/Folder")
	if !strings.Contains(out, "\n  title = Hello\n") {
		t.Errorf("** dump lacks the title attribute:\n%s", out)
	}
	if !strings.Contains(out, "\n  N : //Schema/Test/Note\n") {
		t.Errorf("** dump lacks the nested note:\n%s", out)
	}

	out = must(v.Dump(DumpStats | DumpIDs))
	if !strings.Contains(out, "test at v1 (latest v1,") {
		t.Errorf("** dump lacks the stats header:\n%s", out)
	}
	if !strings.Contains(out, "["+f.ID().String()+"]") {
		t.Errorf("** dump lacks item ids:\n%s", out)
	}
	deepEqual(t, DumpAll.Contains(DumpStatus), true)
	deepEqual(t, DumpIDs.Contains(DumpStatus), false)
}

func TestView_dumpKindless(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	loose := mkItem(t, v, "loose", nil, nil)
	set(t, loose, "color", "red")

	deepEqual(t, must(loose.Dump(DumpAttributes)), "loose : <none>\n  color = red\n")
	commit(t, v)
	r := newView(t, repo, "reader")
	deepEqual(t, must(r.Dump(0)), "loose : <none>\n")
}

func TestRepo_stats(t *testing.T) {
	s := newTestSchema()
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	mkItem(t, v, "F", nil, s.folder)
	commit(t, v)

	st := must(repo.Stats())
	deepEqual(t, st.Version, uint64(1))
	if st.Size <= 0 {
		t.Errorf("** Size = %d, wanted positive", st.Size)
	}
	if st.Bucket("items").Keys < 1 {
		t.Errorf("** items bucket has %d keys", st.Bucket("items").Keys)
	}
	deepEqual(t, st.Bucket("nope"), BucketStats{Name: "nope"})
	if !strings.HasPrefix(st.String(), "v1, ") {
		t.Errorf("** String() = %q", st.String())
	}
}

func TestRepo_fullTextQueue(t *testing.T) {
	s := newTestSchema()
	doc := DefineKind(s.reg, "//Schema/Test/Doc", func(b *KindBuilder) {
		b.Attr("body", Single, Typed(TypeString), Indexed)
		b.Attr("slug", Single, Typed(TypeString))
	})
	repo := setup(t, s.reg)
	v := newView(t, repo, "test")
	d := mkItem(t, v, "D", nil, doc)
	set(t, d, "body", "first draft")
	set(t, d, "slug", "d")
	commit(t, v)

	set(t, d, "body", "second draft")
	commit(t, v)

	ctx := context.Background()
	pending := must(repo.PendingFullText(ctx, 0))
	deepEqual(t, len(pending), 2)
	deepEqual(t, pending[0].Item, d.ID())
	deepEqual(t, pending[0].Attribute, "body")
	deepEqual(t, pending[0].Value, any("first draft"))
	deepEqual(t, pending[1].Value, any("second draft"))
	deepEqual(t, len(must(repo.PendingFullText(ctx, 1))), 1)

	ensure(repo.MarkFullTextIndexed(pending[0].ValueID))
	rest := must(repo.PendingFullText(ctx, 0))
	deepEqual(t, len(rest), 1)
	deepEqual(t, rest[0].ValueID, pending[1].ValueID)
}

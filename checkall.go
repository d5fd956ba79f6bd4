package itemdb

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// CheckReport summarizes a CheckAll run.
type CheckReport struct {
	Version uint64
	Items   int
	Failed  []string // paths of items whose Check returned false
}

func (r *CheckReport) OK() bool {
	return len(r.Failed) == 0
}

func (r *CheckReport) String() string {
	return fmt.Sprintf("v%d: %d items checked, %d failed", r.Version, r.Items, len(r.Failed))
}

// CheckAll runs Item.Check on every item reachable from the namespace roots
// of the latest version. Each root is walked in its own view, up to
// parallelism at a time (0 means one per root).
func (repo *Repository) CheckAll(ctx context.Context, parallelism int) (*CheckReport, error) {
	top, err := repo.NewView("check")
	if err != nil {
		return nil, err
	}
	defer top.Close()
	roots, err := top.Roots()
	if err != nil {
		return nil, err
	}

	repo.reg.warmCaches()
	report := &CheckReport{Version: top.Version()}
	failed := make([][]string, len(roots))
	var count atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i, root := range roots {
		rootID := root.ID()
		g.Go(func() error {
			v := repo.newView("check:"+root.Name(), report.Version)
			defer v.Close()
			it, err := v.mustLoad(rootID)
			if err != nil {
				return err
			}
			n, bad, err := checkSubtree(ctx, it)
			count.Add(int64(n))
			failed[i] = bad
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, bad := range failed {
		report.Failed = append(report.Failed, bad...)
	}
	report.Items = int(count.Load())
	if repo.opt.Verbose {
		repo.logger.Debug("db: CHECK", "version", report.Version, "roots", len(roots), "items", report.Items, "failed", len(report.Failed))
	}
	return report, nil
}

func checkSubtree(ctx context.Context, root *Item) (int, []string, error) {
	var n int
	var bad []string
	stack := []*Item{root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return n, bad, err
		}
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n++
		if !it.Check() {
			path, err := it.Path()
			if err != nil {
				return n, bad, err
			}
			bad = append(bad, path)
		}
		children, err := it.Children()
		if err != nil {
			return n, bad, err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return n, bad, nil
}

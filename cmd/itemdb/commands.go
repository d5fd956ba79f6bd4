package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/andreyvit/itemdb"
	"github.com/andreyvit/itemdb/journal"
)

var errCheckFailed = errors.New("check failed")

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(s))
}

func (a *app) checkCmd() *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the structure of every item",
		Long: `Walks every namespace tree of the latest version, one goroutine per
root, and checks collections, indexes and bidirectional references.

Examples:
  itemdb check --db work.db
  itemdb check --parallel 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("parallel") {
				a.cfg.Parallelism = parallel
			}
			repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			report, err := repo.CheckAll(cmd.Context(), a.cfg.Parallelism)
			if err != nil {
				return err
			}
			for _, path := range report.Failed {
				a.printf("FAILED %s\n", path)
			}
			a.printf("%s\n", report)
			if !report.OK() {
				return errCheckFailed
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 0, "maximum number of roots checked at once (0 = all)")
	return cmd
}

func (a *app) dumpCmd() *cobra.Command {
	var ids, stats, bare bool
	var version uint64
	cmd := &cobra.Command{
		Use:   "dump [path]",
		Short: "Print namespace trees with attributes",
		Long: `Prints the items under path (all namespace roots by default), one per
line, with their attributes.

Examples:
  itemdb dump
  itemdb dump //Projects --ids
  itemdb dump --version 12`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			v, err := a.view(repo, "dump", version)
			if err != nil {
				return err
			}
			defer v.Close()

			f := itemdb.DumpStatus
			if !bare {
				f |= itemdb.DumpAttributes
			}
			if ids {
				f |= itemdb.DumpIDs
			}
			if stats {
				f |= itemdb.DumpStats
			}

			var s string
			if len(args) == 0 {
				s, err = v.Dump(f)
			} else {
				var it *itemdb.Item
				it, err = findItem(v, args[0])
				if err != nil {
					return err
				}
				s, err = it.Dump(f)
			}
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, s)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ids, "ids", false, "show item ids")
	cmd.Flags().BoolVar(&stats, "stats", false, "show storage statistics first")
	cmd.Flags().BoolVar(&bare, "bare", false, "omit attributes")
	cmd.Flags().Uint64Var(&version, "version", 0, "version to dump (default latest)")
	return cmd
}

func (a *app) view(repo *itemdb.Repository, name string, version uint64) (*itemdb.View, error) {
	if version == 0 {
		return repo.NewView(name)
	}
	return repo.ViewAt(name, version)
}

func findItem(v *itemdb.View, path string) (*itemdb.Item, error) {
	it, err := v.FindPath(path)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, fmt.Errorf("%s: not found", path)
	}
	return it, nil
}

func (a *app) versionsCmd() *cobra.Command {
	var after, upTo uint64
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List commits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			infos, err := repo.Versions(after, upTo)
			if err != nil {
				return err
			}
			for _, vi := range infos {
				view := vi.View
				if view == "" {
					view = "-"
				}
				a.printf("v%d\tparent=v%d\t%s\t%s\tchanged=%d children=%d deleted=%d\n",
					vi.Version, vi.Parent, vi.Time.Format(time.RFC3339), view, len(vi.Changed), len(vi.Children), vi.Deleted)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&after, "after", 0, "list commits after this version")
	cmd.Flags().Uint64Var(&upTo, "up-to", 0, "list commits up to this version (default latest)")
	return cmd
}

func (a *app) kindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "Print the persisted schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			for _, k := range repo.Registry().Kinds() {
				var supers []string
				for _, s := range k.SuperKinds() {
					supers = append(supers, s.Path())
				}
				a.printf("%s %016x", k.Path(), k.Hash())
				if len(supers) > 0 {
					a.printf(" : %s", strings.Join(supers, ", "))
				}
				if k.IsMixin() {
					a.printf(" (mixin)")
				}
				a.printf("\n")
				for _, alias := range k.OwnAttributes() {
					attr, _ := k.Attribute(alias)
					a.printf("  %s: %s", alias, attr.Cardinality())
					if other := attr.OtherName(); other != "" {
						a.printf(" <-> %s", other)
					}
					a.printf("\n")
				}
			}
			return nil
		},
	}
}

func (a *app) findCmd() *cobra.Command {
	var version uint64
	cmd := &cobra.Command{
		Use:   "find <path>",
		Short: "Print one item and its attributes",
		Long: `Finds an item by repository path (//Root/Child) or id.

Examples:
  itemdb find //Projects/Home
  itemdb find 6f1c1a9e-0e8e-4b8a-9a53-0c1b1f6f7d11`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.open()
			if err != nil {
				return err
			}
			defer repo.Close()

			v, err := a.view(repo, "find", version)
			if err != nil {
				return err
			}
			defer v.Close()

			it, err := findItem(v, args[0])
			if err != nil {
				return err
			}
			path, err := it.Path()
			if err != nil {
				return err
			}
			a.printf("%s\n", path)
			a.printf("  id: %s\n", it.ID())
			if k := it.Kind(); k != nil {
				a.printf("  kind: %s\n", k.Path())
			} else {
				a.printf("  kind: <none>\n")
			}
			for _, alias := range it.AttributeNames() {
				a.printf("  .%s = %s\n", alias, it.FormatAttribute(alias))
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&version, "version", 0, "version to read (default latest)")
	return cmd
}

func (a *app) journalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journal [dir]",
		Short: "Print the commit journal",
		Long: `Prints every committed record of the commit journal in dir (or the
configured journal_dir).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.JournalDir
			if len(args) > 0 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no journal directory specified")
			}
			recs, err := journal.ReadAll(dir, journal.Options{
				FileName:  itemdb.JournalFileName,
				DebugName: "commits",
				Logger:    a.logger(),
			})
			if err != nil {
				return err
			}
			for _, r := range recs {
				e, err := itemdb.DecodeJournalEntry(r.Data)
				if err != nil {
					return fmt.Errorf("record %d: %w", r.ID, err)
				}
				a.printf("#%d\t%s\tv%d<-v%d\t%s\tcreated=%d updated=%d deleted=%d\n",
					r.ID, time.UnixMilli(e.Time).UTC().Format(time.RFC3339), e.Version, e.Parent, e.View,
					len(e.Created), len(e.Updated), len(e.Deleted))
			}
			return nil
		},
	}
}

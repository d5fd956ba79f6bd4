package itemdb

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpAttributes = DumpFlags(1 << iota)
	DumpIDs
	DumpStatus
	DumpStats

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders every namespace tree of the view, one item per line, with
// attributes indented under their item.
func (v *View) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		st, err := v.repo.Stats()
		if err != nil {
			return "", err
		}
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s at v%d (latest v%d, %d bytes)\n", v.name, v.base, st.Version, st.Size)
		for _, bs := range st.Buckets {
			fmt.Fprintf(&buf, "%s.stats: keys = %d, size = %d, alloc = %d\n", bs.Name, bs.Keys, bs.Size, bs.Alloc)
		}
		fmt.Fprintln(&buf, dumpSep2)
	}
	roots, err := v.Roots()
	if err != nil {
		return "", err
	}
	for _, root := range roots {
		if err := root.dump(&buf, "", f); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Dump renders the item and its descendants.
func (it *Item) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	if err := it.dump(&buf, "", f); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (it *Item) dump(w *strings.Builder, indent string, f DumpFlags) error {
	name := it.name
	if name == "" {
		name = "<" + it.id.String() + ">"
	}
	kind := "<none>"
	if it.kind != nil {
		kind = it.kind.Path()
	}
	fmt.Fprintf(w, "%s%s : %s", indent, name, kind)
	if f.Contains(DumpIDs) {
		fmt.Fprintf(w, " [%s]", it.id)
	}
	if f.Contains(DumpStatus) && it.status != 0 {
		fmt.Fprintf(w, " (%s)", it.status)
	}
	w.WriteByte('\n')

	if f.Contains(DumpAttributes) {
		for _, alias := range it.AttributeNames() {
			fmt.Fprintf(w, "%s%s%s = %s\n", indent, indentStep, alias, it.FormatAttribute(alias))
		}
	}

	children, err := it.Children()
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := c.dump(w, indent+indentStep, f); err != nil {
			return err
		}
	}
	return nil
}

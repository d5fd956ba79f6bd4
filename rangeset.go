package itemdb

import "slices"

// Range is a half-open span [Start, End) of index positions.
type Range struct {
	Start int `msgpack:"s"`
	End   int `msgpack:"e"`
}

func (r Range) Len() int {
	return r.End - r.Start
}

// rangeSet is a sorted list of disjoint, non-adjacent selected ranges. It
// tracks positions in an index, so it must be told about every insertion and
// removal to keep selecting the same keys.
type rangeSet struct {
	ranges []Range
}

func (rs *rangeSet) Ranges() []Range {
	return slices.Clone(rs.ranges)
}

func (rs *rangeSet) IsEmpty() bool {
	return len(rs.ranges) == 0
}

func (rs *rangeSet) Contains(pos int) bool {
	i := rs.search(pos)
	return i < len(rs.ranges) && rs.ranges[i].Start <= pos
}

// search returns the index of the first range whose End is above pos.
func (rs *rangeSet) search(pos int) int {
	i, _ := slices.BinarySearchFunc(rs.ranges, pos, func(r Range, p int) int {
		if r.End <= p {
			return -1
		}
		return 1
	})
	return i
}

// Select adds [start, end), merging with overlapping or adjacent ranges.
func (rs *rangeSet) Select(start, end int) {
	if start >= end {
		return
	}
	out := make([]Range, 0, len(rs.ranges)+1)
	cur := Range{start, end}
	inserted := false
	for _, r := range rs.ranges {
		switch {
		case r.End < cur.Start:
			out = append(out, r)
		case cur.End < r.Start:
			if !inserted {
				out = append(out, cur)
				inserted = true
			}
			out = append(out, r)
		default:
			cur.Start = min(cur.Start, r.Start)
			cur.End = max(cur.End, r.End)
		}
	}
	if !inserted {
		out = append(out, cur)
	}
	rs.ranges = out
}

// Unselect removes [start, end) from the selection, splitting ranges.
func (rs *rangeSet) Unselect(start, end int) {
	if start >= end {
		return
	}
	out := rs.ranges[:0:0]
	for _, r := range rs.ranges {
		if r.End <= start || r.Start >= end {
			out = append(out, r)
			continue
		}
		if r.Start < start {
			out = append(out, Range{r.Start, start})
		}
		if r.End > end {
			out = append(out, Range{end, r.End})
		}
	}
	rs.ranges = out
}

func (rs *rangeSet) Clear() {
	rs.ranges = nil
}

// inserted shifts ranges after a key was inserted at pos. A key inserted
// strictly inside a selected range splits it, so the new key is not selected.
func (rs *rangeSet) inserted(pos int) {
	out := make([]Range, 0, len(rs.ranges)+1)
	for _, r := range rs.ranges {
		switch {
		case r.End <= pos:
			out = append(out, r)
		case r.Start >= pos:
			out = append(out, Range{r.Start + 1, r.End + 1})
		default:
			out = append(out, Range{r.Start, pos}, Range{pos + 1, r.End + 1})
		}
	}
	rs.ranges = out
}

// removed shifts ranges after the key at pos was removed.
func (rs *rangeSet) removed(pos int) {
	out := rs.ranges[:0:0]
	for _, r := range rs.ranges {
		switch {
		case r.End <= pos:
			out = append(out, r)
		case r.Start > pos:
			out = append(out, Range{r.Start - 1, r.End - 1})
		default:
			if r.Len() > 1 {
				out = append(out, Range{r.Start, r.End - 1})
			}
		}
	}
	rs.ranges = out
	rs.normalize()
}

// moved keeps the selection state attached to a key moved from one position
// to another.
func (rs *rangeSet) moved(from, to int) {
	sel := rs.Contains(from)
	rs.removed(from)
	rs.inserted(to)
	if sel {
		rs.Select(to, to+1)
	}
}

// normalize merges ranges that became adjacent.
func (rs *rangeSet) normalize() {
	if len(rs.ranges) < 2 {
		return
	}
	out := rs.ranges[:1]
	for _, r := range rs.ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			last.End = max(last.End, r.End)
		} else {
			out = append(out, r)
		}
	}
	rs.ranges = out
}

package itemdb

import "testing"

func TestRangeSet_select(t *testing.T) {
	var rs rangeSet
	isempty(t, rs.Ranges())
	rs.Select(2, 4)
	rs.Select(6, 8)
	deepEqual(t, rs.Ranges(), []Range{{2, 4}, {6, 8}})
	rs.Select(4, 6)
	deepEqual(t, rs.Ranges(), []Range{{2, 8}})
	rs.Select(0, 1)
	rs.Select(5, 5)
	deepEqual(t, rs.Ranges(), []Range{{0, 1}, {2, 8}})
	deepEqual(t, rs.Contains(0), true)
	deepEqual(t, rs.Contains(1), false)
	deepEqual(t, rs.Contains(7), true)
	deepEqual(t, rs.Contains(8), false)
}

func TestRangeSet_unselect(t *testing.T) {
	var rs rangeSet
	rs.Select(0, 10)
	rs.Unselect(3, 5)
	deepEqual(t, rs.Ranges(), []Range{{0, 3}, {5, 10}})
	rs.Unselect(0, 3)
	deepEqual(t, rs.Ranges(), []Range{{5, 10}})
	rs.Unselect(8, 20)
	deepEqual(t, rs.Ranges(), []Range{{5, 8}})
	rs.Clear()
	deepEqual(t, rs.IsEmpty(), true)
}

func TestRangeSet_tracksInsertions(t *testing.T) {
	var rs rangeSet
	rs.Select(2, 5)

	rs.inserted(0)
	deepEqual(t, rs.Ranges(), []Range{{3, 6}})
	rs.inserted(6)
	deepEqual(t, rs.Ranges(), []Range{{3, 6}})
	rs.inserted(4)
	deepEqual(t, rs.Ranges(), []Range{{3, 4}, {5, 7}})
}

func TestRangeSet_tracksRemovals(t *testing.T) {
	var rs rangeSet
	rs.Select(1, 3)
	rs.Select(4, 6)

	rs.removed(3)
	deepEqual(t, rs.Ranges(), []Range{{1, 5}})
	rs.removed(0)
	deepEqual(t, rs.Ranges(), []Range{{0, 4}})

	var single rangeSet
	single.Select(2, 3)
	single.removed(2)
	deepEqual(t, single.IsEmpty(), true)
}

func TestRangeSet_moved(t *testing.T) {
	var rs rangeSet
	rs.Select(0, 1)
	rs.moved(0, 3)
	deepEqual(t, rs.Ranges(), []Range{{3, 4}})

	rs.moved(1, 0)
	deepEqual(t, rs.Ranges(), []Range{{3, 4}})
}

package journal

import (
	"testing"
)

func TestSegmentName_roundTrip(t *testing.T) {
	name := formatSegmentName("commits-", ".wal", 7, 1700000000, 42)
	if e := "commits-000000000007-20231114T221320-000000000000002a.wal"; name != e {
		t.Fatalf("name = %q, expected %q", name, e)
	}
	seq, ts, id, err := parseSegmentName("000000000007-20231114T221320-000000000000002a")
	if err != nil {
		t.Fatal(err)
	}
	if seq != 7 || ts != 1700000000 || id != 42 {
		t.Errorf("parsed (%d, %d, %d), expected (7, 1700000000, 42)", seq, ts, id)
	}
}

func TestSegmentName_invalid(t *testing.T) {
	for _, name := range []string{
		"",
		"abc-20231114T221320-2a",
		"7-yesterday-2a",
		"7-20231114T221320-zz",
		"7-20231114T221320",
	} {
		if _, _, _, err := parseSegmentName(name); err == nil {
			t.Errorf("parseSegmentName(%q) succeeded", name)
		}
	}
}

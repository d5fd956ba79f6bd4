package journal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreyvit/itemdb/journal"
	"github.com/andreyvit/itemdb/journal/journaltest"
)

const magic = "'JOURNLAT"
const header1 = "0/ver 0/pad 0_0/flags"
const header2 = "0../pad"
const header3 = "0.../prev 0...*2/reserved"

func TestJournal_format(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("hello")))
	require.NoError(t, j.WriteRecord(0, []byte("w")))
	j.Advance(1000 * time.Second)
	require.NoError(t, j.WriteRecord(0, []byte("orld")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.FinishWriting())

	files := j.FileNames()
	require.Equal(t, []string{"j000000000001-20240101T000000-0000000000000001.wal"}, files)

	data := j.Data(files[0])
	hdr := journaltest.Expand(magic, header1, "1../seg 80_00_92_65/ts", header2, "1.../first", header3)
	require.Len(t, hdr, 56)
	journaltest.BytesEq(t, data[:56], hdr)

	body := journaltest.Expand(
		"01 #5 #0 'hello",
		"01 #1 #0 'w",
		"01 #4 #1000 'orld",
		"02",
	)
	require.Len(t, data, 64+len(body)+8)
	journaltest.BytesEq(t, data[64:64+len(body)], body)
}

func TestJournal_readBack(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	j.Advance(5 * time.Second)
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.WriteRecord(0, []byte("c")))
	require.NoError(t, j.Commit())

	recs := j.Records()
	require.Len(t, recs, 3)
	require.Equal(t, []string{"a", "b", "c"}, j.Texts())
	require.Equal(t, uint64(1), recs[0].ID)
	require.Equal(t, uint64(3), recs[2].ID)
	require.Equal(t, journaltest.Start, recs[0].Time())
	require.Equal(t, journaltest.Start.Add(5*time.Second), recs[1].Time())
}

func TestJournal_uncommittedTail(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.WriteRecord(0, []byte("lost")))
	require.Equal(t, []string{"a"}, j.Texts())

	j.Reopen()
	require.NoError(t, j.WriteRecord(0, []byte("c")))
	require.NoError(t, j.Commit())
	require.Equal(t, []string{"a", "c"}, j.Texts())
	require.Equal(t, uint64(2), j.Records()[1].ID)
}

func TestJournal_tornWrite(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.FinishWriting())

	name := j.FileNames()[0]
	size := len(j.Data(name))
	j.Append(name, journaltest.Expand("01 #100 #0 'partial"))
	require.Equal(t, []string{"a"}, j.Texts())

	j.Reopen()
	require.Len(t, j.Data(name), size)
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.Commit())
	require.Equal(t, []string{"a", "b"}, j.Texts())
}

func TestJournal_badChecksum(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.FinishWriting())

	name := j.FileNames()[0]
	j.Append(name, journaltest.Expand("01 #1 #0 'x 02 0...")) // commit frame with a zero checksum
	require.Equal(t, []string{"a"}, j.Texts())
}

func TestJournal_rotation(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{MaxFileSize: 100})
	payload := make([]byte, 50)
	for range 3 {
		require.NoError(t, j.WriteRecord(0, payload))
		require.NoError(t, j.Commit())
	}
	require.Equal(t, []string{
		"j000000000001-20240101T000000-0000000000000001.wal",
		"j000000000002-20240101T000000-0000000000000002.wal",
		"j000000000003-20240101T000000-0000000000000003.wal",
	}, j.FileNames())

	j.Reopen()
	require.NoError(t, j.WriteRecord(0, payload))
	require.NoError(t, j.Commit())
	require.Len(t, j.FileNames(), 4)

	recs := j.Records()
	require.Len(t, recs, 4)
	for i, r := range recs {
		require.Equal(t, uint64(i+1), r.ID)
		require.Equal(t, uint32(i+1), r.Segment)
	}
}

func TestJournal_corruptedLastSegmentDeleted(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.FinishWriting())

	j.Put("j000000000002-20240101T000000-0000000000000002.wal", magic, "00 00")
	require.Len(t, j.FileNames(), 2)

	j.Reopen()
	require.Len(t, j.FileNames(), 1)
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.Commit())
	require.Equal(t, []string{"a", "b"}, j.Texts())
}

func TestJournal_notWritable(t *testing.T) {
	j := journal.New(t.TempDir(), journal.Options{})
	require.ErrorIs(t, j.WriteRecord(0, []byte("a")), journal.ErrNotWritable)
}

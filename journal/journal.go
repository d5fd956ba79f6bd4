// Package journal implements append-only “journal” files: a directory of
// segment files holding checksummed records, written in transactions.
//
// Features:
//
//  1. Suitable for records of all sizes. Multiple records can be combined
//     into a single transaction with minimal overhead.
//
//  2. Crash-resistant (with Options.Sync). Every commit frame carries the
//     xxhash of the segment up to that point; on reopen, the segment is
//     trimmed after the last intact commit.
//
//  3. Automatically rotates segments when they reach MaxFileSize.
//
//  4. Manages segment file naming.
//
// File format:
//
//   - segment = segmentHeader frame*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 ordinal:32 timestamp:32 pad:32 firstRecord:64 prevChecksum:64 reserved:64*2 checksum:64
//   - frame = 0x01 size:uvarint tsDelta:uvarint bytes{size}
//   - frame = 0x02 checksum:64
//
// All fixed-size integers are little-endian.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible journal")
	ErrUnsupportedVersion = fmt.Errorf("unsupported journal version")
	ErrNotWritable        = errors.New("journal is not open for writing")
	errCorruptedFile      = fmt.Errorf("corrupted journal segment file")
)

type Options struct {
	FileName    string // e.g. "mydb-*.wal"
	MaxFileSize int64  // new segment after this size
	DebugName   string
	Now         func() time.Time

	// Sync makes every Commit wait for the data to reach the disk.
	Sync bool

	Logger  *slog.Logger
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 8 * 8

type segmentHeader struct {
	Magic          uint64
	Version        uint8
	_              uint8
	Flags          uint16
	SegmentOrdinal uint32
	Timestamp      uint32
	_              uint32
	FirstRecord    uint64
	PrevChecksum   uint64
	_              [2]uint64
	Checksum       uint64
}

const (
	frameRecord byte = 1
	frameCommit byte = 2

	commitFrameSize = 9
	timestampFmt    = "20060102T150405"
)

// Record is one committed journal record.
type Record struct {
	ID        uint64 // sequential across segments, starting at 1
	Segment   uint32
	Timestamp uint32 // unix seconds
	Data      []byte
}

func (r Record) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0).UTC()
}

// Journal represents a directory of segment files.
type Journal struct {
	maxFileSize    int64
	fileNamePrefix string
	fileNameSuffix string
	debugName      string
	dir            string
	now            func() time.Time
	logger         *slog.Logger
	verbose        bool
	sync           bool

	writeLock sync.Mutex
	writable  bool
	writeErr  error
	writeSeg  uint32
	writeRec  uint64
	prevSum   uint64
	segWriter *segmentWriter
}

func New(dir string, o Options) *Journal {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Journal{
		maxFileSize:    o.MaxFileSize,
		fileNamePrefix: prefix,
		fileNameSuffix: suffix,
		debugName:      o.DebugName,
		dir:            dir,
		now:            o.Now,
		verbose:        o.Verbose,
		sync:           o.Sync,
		logger:         o.Logger,
	}
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

// StartWriting opens the journal for appending, creating the directory if
// needed. The last segment is validated: a segment with a broken header is
// deleted, and a tail after the last intact commit is trimmed.
func (j *Journal) StartWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.writeErr != nil {
		return j.writeErr
	}
	if j.writable {
		return nil
	}
	if err := os.MkdirAll(j.dir, 0o777); err != nil {
		return j.fail(err)
	}
	if err := j.prepareToWrite_locked(); err != nil {
		return j.fail(err)
	}
	j.writable = true
	return nil
}

func (j *Journal) prepareToWrite_locked() error {
	names, err := j.segmentNames()
	if err != nil {
		return err
	}
	for len(names) > 0 {
		lastName := names[len(names)-1]
		seq, _, _, err := j.parseName(lastName)
		if err != nil {
			return err
		}
		fn := filepath.Join(j.dir, lastName)
		data, err := os.ReadFile(fn)
		if err != nil {
			return err
		}

		scan, err := scanSegment(data, seq)
		if err == errCorruptedFile {
			j.logger.Warn("journal: deleting corrupted file", "jrnl", j.debugName, "file", lastName, "size", len(data))
			if err := os.Remove(fn); err != nil {
				return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
			}
			names = names[:len(names)-1]
			continue
		} else if err != nil {
			return err
		}

		if scan.end < len(data) {
			j.logger.Warn("journal: trimming uncommitted tail", "jrnl", j.debugName, "file", lastName, "size", len(data), "committed", scan.end)
			if err := os.Truncate(fn, int64(scan.end)); err != nil {
				return err
			}
		}
		j.writeSeg = seq
		j.writeRec = scan.header.FirstRecord - 1 + uint64(len(scan.records))

		sw := &segmentWriter{seg: seq, ts: scan.ts, size: int64(scan.end)}
		sw.hash.Reset()
		sw.hash.Write(data[:scan.end])
		if sw.size >= j.maxFileSize {
			j.prevSum = sw.hash.Sum64()
			return nil
		}
		f, err := os.OpenFile(fn, os.O_RDWR, 0)
		if err != nil {
			return err
		}
		if _, err := f.Seek(int64(scan.end), 0); err != nil {
			f.Close()
			return err
		}
		sw.f = f
		j.segWriter = sw
		if j.verbose {
			j.logger.Debug("journal: resuming segment", "jrnl", j.debugName, "file", lastName, "records", len(scan.records))
		}
		return nil
	}
	return nil
}

// FinishWriting closes the current segment. Uncommitted records are lost.
func (j *Journal) FinishWriting() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.finishWriting_locked()
}

func (j *Journal) finishWriting_locked() error {
	j.writable = false
	if j.segWriter != nil {
		err := j.segWriter.close()
		j.segWriter = nil
		return err
	}
	return nil
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}
	j.logger.Error("journal: failed", "jrnl", j.debugName, "err", err)
	j.finishWriting_locked()
	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

// segmentNames lists the segment files of the journal in order.
func (j *Journal) segmentNames() ([]string, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, ent := range ents {
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		if !strings.HasPrefix(name, j.fileNamePrefix) || !strings.HasSuffix(name, j.fileNameSuffix) {
			continue
		}
		if len(name) < len(j.fileNamePrefix)+len(j.fileNameSuffix) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (j *Journal) parseName(name string) (seq, ts uint32, id uint64, err error) {
	core := strings.TrimSuffix(strings.TrimPrefix(name, j.fileNamePrefix), j.fileNameSuffix)
	return parseSegmentName(core)
}

// WriteRecord appends a record to the current transaction. A zero
// timestamp means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if !j.writable {
		return ErrNotWritable
	}
	if timestamp == 0 {
		timestamp = j.Now()
	}

	if j.segWriter == nil {
		j.writeSeg++
		sw, err := startSegment(j, j.writeSeg, timestamp, j.writeRec+1)
		if err != nil {
			return j.fail(err)
		}
		j.segWriter = sw
	}
	j.writeRec++
	return j.fail(j.segWriter.writeRecord(timestamp, data))
}

// Commit makes the records written since the previous commit durable as a
// unit, and rotates the segment if it grew past MaxFileSize.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	sw := j.segWriter
	if sw == nil {
		return nil
	}
	if err := sw.commit(j.sync); err != nil {
		return j.fail(err)
	}
	if sw.size >= j.maxFileSize {
		j.prevSum = sw.hash.Sum64()
		j.segWriter = nil
		if j.verbose {
			j.logger.Debug("journal: rotating", "jrnl", j.debugName, "seg", sw.seg, "size", sw.size)
		}
		return j.fail(sw.close())
	}
	return nil
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, firstRec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, firstRec)

	f, err := os.OpenFile(filepath.Join(j.dir, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], seg, ts, firstRec, j.prevSum, &sw.hash)

	if _, err = f.Write(hbuf[:]); err != nil {
		return nil, err
	}
	if j.verbose {
		j.logger.Debug("journal: new segment", "jrnl", j.debugName, "file", name)
	}

	ok = true
	return sw, nil
}

const maxRecHeaderLen = 1 + binary.MaxVarintLen64 + binary.MaxVarintLen32

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	if _, err := sw.f.Write(h); err != nil {
		return err
	}
	sw.hash.Write(data)
	if _, err := sw.f.Write(data); err != nil {
		return err
	}
	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit(durable bool) error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [commitFrameSize]byte
	buf[0] = frameCommit
	binary.LittleEndian.PutUint64(buf[1:], sw.hash.Sum64())

	sw.hash.Write(buf[:])
	if _, err := sw.f.Write(buf[:]); err != nil {
		return err
	}
	sw.size += commitFrameSize
	if durable {
		return fdatasync(sw.f)
	}
	return nil
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, seg, ts uint32, firstRec, prevSum uint64, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:          magic,
		Version:        version0,
		SegmentOrdinal: seg,
		Timestamp:      ts,
		FirstRecord:    firstRec,
		PrevChecksum:   prevSum,
	}
	n, err := binary.Encode(buf, binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = append(b, frameRecord)
	b = binary.AppendUvarint(b, uint64(size))
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func readHeader(data []byte, h *segmentHeader, expectedSeq uint32) error {
	if len(data) < segmentHeaderSize {
		return errCorruptedFile
	}
	if _, err := binary.Decode(data[:segmentHeaderSize], binary.LittleEndian, h); err != nil {
		panic(err)
	}
	if h.Magic != magic {
		return ErrIncompatible
	}
	if xxhash.Sum64(data[:segmentHeaderSize-8]) != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	return nil
}

type segmentScan struct {
	header  segmentHeader
	records []Record
	end     int    // offset right after the last intact commit
	ts      uint32 // timestamp as of end
}

// scanSegment returns the committed records of a segment. Anything after the
// last commit frame whose checksum matches is ignored.
func scanSegment(data []byte, seq uint32) (*segmentScan, error) {
	s := &segmentScan{end: segmentHeaderSize}
	if err := readHeader(data, &s.header, seq); err != nil {
		return nil, err
	}
	s.ts = s.header.Timestamp

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])

	ts := s.ts
	var pending []Record
	off := segmentHeaderSize
frames:
	for off < len(data) {
		switch data[off] {
		case frameRecord:
			p := off + 1
			size, n := binary.Uvarint(data[p:])
			if n <= 0 {
				break frames
			}
			p += n
			delta, n := binary.Uvarint(data[p:])
			if n <= 0 || delta > math.MaxUint32 {
				break frames
			}
			p += n
			if size > uint64(len(data)-p) {
				break frames
			}
			ts += uint32(delta)
			pending = append(pending, Record{
				ID:        s.header.FirstRecord + uint64(len(s.records)+len(pending)),
				Segment:   seq,
				Timestamp: ts,
				Data:      data[p : p+int(size)],
			})
			hash.Write(data[off : p+int(size)])
			off = p + int(size)
		case frameCommit:
			if len(data)-off < commitFrameSize {
				break frames
			}
			if binary.LittleEndian.Uint64(data[off+1:]) != hash.Sum64() {
				break frames
			}
			hash.Write(data[off : off+commitFrameSize])
			off += commitFrameSize
			s.records = append(s.records, pending...)
			pending = nil
			s.end, s.ts = off, ts
		default:
			break frames
		}
	}
	return s, nil
}

// ReadAll returns every committed record of the journal in dir, oldest
// first. An uncommitted tail of the last segment is skipped.
func ReadAll(dir string, o Options) ([]Record, error) {
	j := New(dir, o)
	names, err := j.segmentNames()
	if err != nil {
		return nil, err
	}
	var out []Record
	var prevSum uint64
	for i, name := range names {
		seq, _, _, err := j.parseName(name)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		scan, err := scanSegment(data, seq)
		if err == errCorruptedFile && i == len(names)-1 {
			j.logger.Warn("journal: ignoring corrupted last segment", "jrnl", j.debugName, "file", name)
			break
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if i > 0 && scan.header.PrevChecksum != prevSum {
			j.logger.Warn("journal: segment chain broken", "jrnl", j.debugName, "file", name)
		}
		prevSum = xxhash.Sum64(data[:scan.end])
		out = append(out, scan.records...)
	}
	return out, nil
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}

package itemdb

import (
	"errors"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	bb.AppendByte(4)
	_ = bb.WriteByte(5)
	_, _ = bb.Write([]byte{9, 8})
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 3, 4, 5, 9, 8}) {
		t.Fatalf("bb.Buf = %x, wanted 01020304050908", bb.Buf)
	}

	buf := ensureCapacity([]byte{1}, 100)
	if cap(buf) < 100 || len(buf) != 1 || buf[0] != 1 {
		t.Fatalf("ensureCapacity = len %d cap %d, wanted len 1 cap >= 100", len(buf), cap(buf))
	}
}

func TestByteDecoder_RoundTrip(t *testing.T) {
	ids := []ID{newRandomID(), newRandomID()}
	var buf []byte
	buf = appendUvarint(buf, 300)
	buf = appendVarbytes(buf, []byte("hello"))
	buf = append(buf, 7)
	buf = appendUvarint(buf, uint64(len(ids)))
	buf = appendIDs(buf, ids)

	d := makeByteDecoder(buf)
	if v, err := d.Uvarinti(); err != nil || v != 300 {
		t.Fatalf("Uvarinti = %d, %v", v, err)
	}
	if s, err := d.String(); err != nil || s != "hello" {
		t.Fatalf("String = %q, %v", s, err)
	}
	if b, err := d.Byte(); err != nil || b != 7 {
		t.Fatalf("Byte = %d, %v", b, err)
	}
	got, err := d.IDs()
	if err != nil || !reflect.DeepEqual(got, ids) {
		t.Fatalf("IDs = %v, %v, wanted %v", got, err, ids)
	}
	if len(d.Buf) != 0 || d.Off() != len(buf) {
		t.Fatalf("decoder left %d bytes at offset %d", len(d.Buf), d.Off())
	}

	_, err = d.Byte()
	var de *DataError
	if !errors.As(err, &de) || de.Off != len(buf) {
		t.Fatalf("Byte at end = %v, wanted *DataError at %d", err, len(buf))
	}
}

func TestByteDecoder_Truncated(t *testing.T) {
	d := makeByteDecoder(appendUvarint(nil, 1000))
	if _, err := d.IDs(); err == nil {
		t.Fatalf("IDs on a truncated buffer succeeded")
	}
	d = makeByteDecoder([]byte{0x80})
	if _, err := d.Uvarint(); err == nil {
		t.Fatalf("Uvarint on a truncated varint succeeded")
	}
	d = makeByteDecoder(appendUvarint(nil, 10))
	if _, err := d.VarBytes(); err == nil {
		t.Fatalf("VarBytes with a missing payload succeeded")
	}
}

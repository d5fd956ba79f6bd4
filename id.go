package itemdb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies an item or a persisted collection. IDs are never reused.
type ID = uuid.UUID

// NilID is the zero ID. It names the namespace root in children records.
var NilID = uuid.Nil

const (
	idSize          = 16
	versionedKeyLen = idSize + 8
)

// ParseID parses the canonical textual form of an ID.
func ParseID(s string) (ID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return NilID, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func newRandomID() ID {
	return uuid.New()
}

// versionedKey is the storage key of a versioned record: id, then the
// version in big-endian, so that a cursor seek finds the latest version at or
// below a given one.
func versionedKey(id ID, ver uint64) []byte {
	var buf [versionedKeyLen]byte
	copy(buf[:idSize], id[:])
	binary.BigEndian.PutUint64(buf[idSize:], ver)
	return buf[:]
}

func parseVersionedKey(k []byte) (ID, uint64, bool) {
	if len(k) != versionedKeyLen {
		return NilID, 0, false
	}
	var id ID
	copy(id[:], k[:idSize])
	return id, binary.BigEndian.Uint64(k[idSize:]), true
}

func versionKey(ver uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ver)
	return buf[:]
}

func appendIDs(buf []byte, ids []ID) []byte {
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeIDs(data []byte) ([]ID, error) {
	if len(data)%idSize != 0 {
		return nil, dataErrf(data, 0, nil, "id list length %d is not a multiple of %d", len(data), idSize)
	}
	ids := make([]ID, len(data)/idSize)
	for i := range ids {
		copy(ids[i][:], data[i*idSize:])
	}
	return ids, nil
}

func compareIDs(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

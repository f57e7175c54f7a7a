package core

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// An internal key is a user key followed by an 8-byte trailer holding the
// sequence number and entry type packed as (seq << 8) | type. Entries for the
// same user key sort newest-first, so the first match during a forward scan
// is always the most recent version.

const (
	// InternalTrailerLen is the length of the trailer appended to every user key.
	InternalTrailerLen = 8

	// MaxSequenceNumber is the highest sequence number that fits in the trailer.
	MaxSequenceNumber = (uint64(1) << 56) - 1
)

// EncodeInternalKey returns a new internal key combining userKey, seq and entryType.
func EncodeInternalKey(userKey []byte, seq uint64, entryType EntryType) []byte {
	return AppendInternalKey(make([]byte, 0, len(userKey)+InternalTrailerLen), userKey, seq, entryType)
}

// AppendInternalKey appends the encoded internal key to dst and returns the result.
func AppendInternalKey(dst, userKey []byte, seq uint64, entryType EntryType) []byte {
	dst = append(dst, userKey...)
	var trailer [InternalTrailerLen]byte
	binary.BigEndian.PutUint64(trailer[:], (seq<<8)|uint64(entryType))
	return append(dst, trailer[:]...)
}

// ParseInternalKey splits an internal key into its components.
func ParseInternalKey(ikey []byte) (userKey []byte, seq uint64, entryType EntryType, err error) {
	if len(ikey) < InternalTrailerLen {
		return nil, 0, 0, fmt.Errorf("internal key too short: %d bytes: %w", len(ikey), ErrCorrupted)
	}
	n := len(ikey) - InternalTrailerLen
	trailer := binary.BigEndian.Uint64(ikey[n:])
	return ikey[:n], trailer >> 8, EntryType(trailer & 0xff), nil
}

// UserKey returns the user-key portion of an internal key. The result aliases ikey.
func UserKey(ikey []byte) []byte {
	if len(ikey) < InternalTrailerLen {
		return ikey
	}
	return ikey[:len(ikey)-InternalTrailerLen]
}

// Comparator defines a total order over encoded keys, plus an equality test
// used by the merging iterator's duplicate suppression.
type Comparator interface {
	// Compare returns -1, 0, or 1 when a sorts before, equal to, or after b.
	Compare(a, b []byte) int
	// Equal reports whether a and b are the same key under this order.
	Equal(a, b []byte) bool
}

// InternalKeyComparator orders internal keys by user key ascending, then by
// trailer descending so that newer entries for the same user key come first.
type InternalKeyComparator struct{}

var _ Comparator = InternalKeyComparator{}

func (InternalKeyComparator) Compare(a, b []byte) int {
	ua, ub := UserKey(a), UserKey(b)
	if c := bytes.Compare(ua, ub); c != 0 {
		return c
	}
	ta := binary.BigEndian.Uint64(a[len(ua):])
	tb := binary.BigEndian.Uint64(b[len(ub):])
	// Larger trailer means newer entry, which sorts first.
	switch {
	case ta > tb:
		return -1
	case ta < tb:
		return 1
	default:
		return 0
	}
}

func (InternalKeyComparator) Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

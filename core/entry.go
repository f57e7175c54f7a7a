package core

// EntryType defines the type of an entry in a memtable or SSTable.
type EntryType byte

const (
	// EntryTypePut represents a regular key-value write.
	EntryTypePut EntryType = 'P'
	// EntryTypeDelete represents a tombstone for a single key (point deletion).
	EntryTypeDelete EntryType = 'D'
)

// String returns the string representation of the EntryType.
func (t EntryType) String() string {
	switch t {
	case EntryTypePut:
		return "put"
	case EntryTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

package memory

// Backend stores the serialized lines of date-keyed partitions.
// Partition keys are local dates in YYYY-MM-DD form, so lexicographic order
// is chronological order. Lines of a partition are returned in write order.
type Backend interface {
	// Keys lists existing partition keys in any order
	Keys() ([]string, error)

	// Append durably adds one line to the partition, creating it if needed
	Append(key string, line []byte) error

	// Lines returns the raw lines of the partition in write order.
	// A missing partition yields no lines and no error.
	Lines(key string) ([][]byte, error)

	// Remove deletes the whole partition; removing a missing one is a no-op
	Remove(key string) error

	// Location describes where partitions live, for diagnostics
	Location() string

	// Close releases backend resources
	Close() error
}

// Partition identifies one day of records
type Partition struct {
	Key string // YYYY-MM-DD
}

// PartitionKeyLayout is the time layout of partition keys
const PartitionKeyLayout = "2006-01-02"

// Backend names accepted by OpenBackend
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

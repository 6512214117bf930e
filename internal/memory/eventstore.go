package memory

import (
	"sort"
	"time"

	"github.com/hession/pepper/internal/logger"
)

// EventStore is the append-only, date-partitioned record log
type EventStore struct {
	backend   Backend
	now       func() time.Time
	loc       *time.Location
	sessionID string
}

// EventStoreOption configures an EventStore
type EventStoreOption func(*EventStore)

// WithClock sets the time source used for timestamps and partition keys
func WithClock(now func() time.Time) EventStoreOption {
	return func(s *EventStore) {
		s.now = now
	}
}

// WithLocation sets the zone whose calendar date names partitions
func WithLocation(loc *time.Location) EventStoreOption {
	return func(s *EventStore) {
		s.loc = loc
	}
}

// WithSessionTag tags every appended record with a session id
func WithSessionTag(id string) EventStoreOption {
	return func(s *EventStore) {
		s.sessionID = id
	}
}

// NewEventStore creates an event store over a partition backend
func NewEventStore(backend Backend, opts ...EventStoreOption) *EventStore {
	s := &EventStore{
		backend: backend,
		now:     time.Now,
		loc:     time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// todayKey returns the partition key for the local date at call time
func (s *EventStore) todayKey() string {
	return s.now().In(s.loc).Format(PartitionKeyLayout)
}

// Append writes one record to today's partition
func (s *EventStore) Append(role Role, content string) error {
	rec := Record{
		Timestamp: s.now().UTC().Truncate(time.Second),
		Role:      role,
		Content:   content,
		SessionID: s.sessionID,
	}
	line, err := MarshalRecord(rec)
	if err != nil {
		return err
	}
	return s.backend.Append(s.todayKey(), line)
}

// maxWindowDays bounds the calendar arithmetic; longer windows take every
// partition up to today
const maxWindowDays = 366 * 1000

// RecentPartitions returns the existing partitions among today and the
// previous days-1 local dates, oldest first
func (s *EventStore) RecentPartitions(days int) ([]Partition, error) {
	if days <= 0 {
		return nil, nil
	}

	keys, err := s.backend.Keys()
	if err != nil {
		return nil, err
	}

	today := s.now().In(s.loc)
	last := today.Format(PartitionKeyLayout)
	first := ""
	if days <= maxWindowDays {
		// AddDate keeps calendar arithmetic right across DST changes
		first = today.AddDate(0, 0, -(days - 1)).Format(PartitionKeyLayout)
	}

	// Keys share a fixed-width layout, so string order is date order
	sort.Strings(keys)
	var partitions []Partition
	for _, key := range keys {
		if key >= first && key <= last {
			partitions = append(partitions, Partition{Key: key})
		}
	}
	return partitions, nil
}

// LoadRecent returns the chronologically last limit records drawn from the
// last days partitions. Unparseable records are skipped. A storage failure
// yields an empty window together with the error.
func (s *EventStore) LoadRecent(limit, days int) ([]Record, error) {
	if limit <= 0 || days <= 0 {
		return []Record{}, nil
	}

	partitions, err := s.RecentPartitions(days)
	if err != nil {
		return []Record{}, err
	}

	collected := make([]Record, 0, min(limit, 64))
	for i := len(partitions) - 1; i >= 0 && len(collected) < limit; i-- {
		lines, err := s.backend.Lines(partitions[i].Key)
		if err != nil {
			return []Record{}, err
		}
		for j := len(lines) - 1; j >= 0 && len(collected) < limit; j-- {
			rec, err := ParseRecord(lines[j])
			if err != nil {
				logger.Debug("Skipping record %d of partition %s: %v", j+1, partitions[i].Key, err)
				continue
			}
			collected = append(collected, rec)
		}
	}

	reverseRecords(collected)
	return collected, nil
}

// ClearToday deletes today's partition if present
func (s *EventStore) ClearToday() error {
	return s.backend.Remove(s.todayKey())
}

// Location describes where the partitions live
func (s *EventStore) Location() string {
	return s.backend.Location()
}

// Close closes the backend
func (s *EventStore) Close() error {
	return s.backend.Close()
}

func reverseRecords(records []Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}

package metric

import "time"

// Set holds the records of one collection pass for one target. Keys are
// unique and records keep their first-insertion order.
type Set struct {
	Target    string
	Version   string
	Timestamp time.Time

	records []Record
	index   map[string]int
}

func NewSet(target, version string, timestamp time.Time) *Set {
	return &Set{
		Target:    target,
		Version:   version,
		Timestamp: timestamp,
		index:     map[string]int{},
	}
}

// Upsert inserts record unless its key is already present. The existing
// record always wins; when provenance is requested the loser's source is
// appended to the winner's Shadowed list. It reports whether record was
// inserted.
func (s *Set) Upsert(record Record, provenance bool) bool {
	if record.Key == "" {
		return false
	}

	if position, exists := s.index[record.Key]; exists {
		if provenance && record.Source != "" {
			winner := &s.records[position]
			for _, name := range winner.Shadowed {
				if name == record.Source {
					return false
				}
			}
			winner.Shadowed = append(winner.Shadowed, record.Source)
		}
		return false
	}

	s.index[record.Key] = len(s.records)
	s.records = append(s.records, record.Clone())
	return true
}

func (s *Set) Get(key string) (Record, bool) {
	position, exists := s.index[key]
	if !exists {
		return Record{}, false
	}
	return s.records[position].Clone(), true
}

func (s *Set) Records() []Record {
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	return records
}

func (s *Set) CategoryRecords(category Category) []Record {
	var records []Record
	for _, record := range s.records {
		if record.Category == category {
			records = append(records, record.Clone())
		}
	}
	return records
}

func (s *Set) Len() int {
	return len(s.records)
}

package core

// Sequence hands out monotonically increasing surrogate ids reserved from a
// database-backed counter. Values are consumed incrementally in memory; on
// commit the store advances the backing counter past everything consumed, on
// rollback the reserved values are simply abandoned.
type Sequence struct {
	value int64
}

func NewSequence(start int64) Sequence {
	return Sequence{value: start}
}

func (s *Sequence) Next() int64 {
	v := s.value
	s.value++

	return v
}

// Current returns the first value not yet handed out.
func (s *Sequence) Current() int64 {
	return s.value
}

// SequenceBlock holds one batch's reserved id counters, one per append-only
// table touched during a ledger extension.
type SequenceBlock struct {
	Entities         Sequence
	ResourceHistory  Sequence
	MetadataHistory  Sequence
	AggregateHistory Sequence
	SupplyHistory    Sequence
}

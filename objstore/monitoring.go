package objstore

// StoreStats reports the space an object store occupies. Index figures are
// summed over all of its indexes.
type StoreStats struct {
	Records      int
	IndexEntries int

	DataSize   int64
	DataAlloc  int64
	IndexSize  int64
	IndexAlloc int64
}

func (ss *StoreStats) TotalSize() int64 {
	return ss.DataSize + ss.IndexSize
}

func (ss *StoreStats) TotalAlloc() int64 {
	return ss.DataAlloc + ss.IndexAlloc
}

func (s *ObjectStore) Stats() StoreStats {
	data := s.dataBucket().Stats()
	result := StoreStats{
		Records:   data.Keys,
		DataSize:  data.Used,
		DataAlloc: data.Allocated,
	}
	for _, is := range s.state.sorted {
		idx := s.indexBucket(is).Stats()
		result.IndexEntries += idx.Keys
		result.IndexSize += idx.Used
		result.IndexAlloc += idx.Allocated
	}
	return result
}

// Size returns the size of the database file in bytes, if known.
func (tx *Tx) Size() int64 {
	return tx.stx.Size()
}

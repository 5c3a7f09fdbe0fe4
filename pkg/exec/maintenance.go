package exec

// Vacuum compacts one table's heap file, reclaiming space held by dead
// tombstones, and records the bytes freed against the session's
// metrics collector (if any).
func (s *Session) Vacuum(tableName string) (int64, error) {
	freed, err := s.Storage.Vacuum(tableName)
	if err == nil {
		s.Metrics.RecordVacuum(freed)
	}
	return freed, err
}

// Checkpoint snapshots every table's indices to disk so WAL replay on
// recovery can start from the checkpoint's LSN instead of the
// beginning of the log.
func (s *Session) Checkpoint() error {
	return s.Storage.CreateCheckpoint()
}

package model

// CollectHashes walks all blocks of a snapshot and returns the set of
// interned string hashes it references. The WAL writer filters the live
// interner with this set to make every WAL entry self-contained.
func (s *Snapshot) CollectHashes() map[uint64]struct{} {
	hashes := make(map[uint64]struct{}, 256)
	add := func(h uint64) {
		// zero marks an unset field, not an interned string
		if h == 0 {
			return
		}
		hashes[h] = struct{}{}
	}

	for _, block := range s.Blocks {
		switch b := block.(type) {
		case ProcessesBlock:
			for _, p := range b {
				add(p.NameHash)
				add(p.CmdlineHash)
				add(p.UserHash)
			}
		case SystemNetBlock:
			for _, n := range b {
				add(n.NameHash)
			}
		case SystemDiskBlock:
			for _, d := range b {
				add(d.DeviceHash)
			}
		case PgStatActivityBlock:
			for _, a := range b {
				add(a.DatnameHash)
				add(a.UsenameHash)
				add(a.ApplicationNameHash)
				add(a.StateHash)
				add(a.QueryHash)
				add(a.WaitEventTypeHash)
				add(a.WaitEventHash)
				add(a.BackendTypeHash)
			}
		case PgStatStatementsBlock:
			for _, st := range b {
				add(st.DatnameHash)
				add(st.UsenameHash)
				add(st.QueryHash)
			}
		case PgStorePlansBlock:
			for _, p := range b {
				add(p.DatnameHash)
				add(p.UsenameHash)
				add(p.PlanHash)
			}
		case PgStatDatabaseBlock:
			for _, d := range b {
				add(d.DatnameHash)
			}
		case PgStatUserTablesBlock:
			for _, t := range b {
				add(t.DatnameHash)
				add(t.SchemanameHash)
				add(t.RelnameHash)
			}
		case PgStatUserIndexesBlock:
			for _, i := range b {
				add(i.DatnameHash)
				add(i.SchemanameHash)
				add(i.RelnameHash)
				add(i.IndexnameHash)
			}
		case PgLockTreeBlock:
			for _, n := range b {
				add(n.DatnameHash)
				add(n.UsenameHash)
				add(n.StateHash)
				add(n.WaitEventTypeHash)
				add(n.WaitEventHash)
				add(n.QueryHash)
				add(n.ApplicationNameHash)
				add(n.BackendTypeHash)
				add(n.LockTypeHash)
				add(n.LockModeHash)
				add(n.LockTargetHash)
			}
		case PgLogErrorsBlock:
			for _, e := range b {
				add(e.PatternHash)
				add(e.SampleHash)
				add(e.StatementHash)
			}
		case PgStatProgressVacuumBlock:
			for _, v := range b {
				add(v.DatnameHash)
				add(v.PhaseHash)
			}
		}
	}

	return hashes
}

package history

// ResolveEnv is the identity material available when stamping records.
// Profile is set only when a fresh profile fetch succeeded this loading
// cycle; CachedProfile may be older.
type ResolveEnv struct {
	AuthedID      string
	Profile       *Identity
	CachedProfile *Identity
}

// rule is one (predicate, extractor) step of the ranked resolver. Precedence
// is the slice order in rules; the first rule that matches wins.
type rule struct {
	source Provenance
	apply  func(rec Record, env ResolveEnv) (Identity, bool)
}

var rules = []rule{
	// 1. Record owned by the authenticated student and a fresh profile is
	// available: the profile wins over anything embedded on the record.
	{SourceProfile, func(rec Record, env ResolveEnv) (Identity, bool) {
		if env.Profile != nil && rec.OwnerID != "" && rec.OwnerID == env.AuthedID {
			return *env.Profile, true
		}
		return Identity{}, false
	}},
	// 2. Embedded student-info object.
	{SourceEmbedded, func(rec Record, _ ResolveEnv) (Identity, bool) {
		if rec.Info != nil && (rec.Info.Name != "" || rec.Info.ID != "") {
			return Identity{Name: rec.Info.Name, ID: rec.Info.ID}, true
		}
		return Identity{}, false
	}},
	// 3. Structured student reference.
	{SourceReference, func(rec Record, _ ResolveEnv) (Identity, bool) {
		if rec.Ref != nil && (rec.Ref.DisplayName != "" || rec.Ref.ID != "") {
			return Identity{Name: rec.Ref.DisplayName, ID: rec.Ref.ID}, true
		}
		return Identity{}, false
	}},
	// 4. Bare id matched against a cached profile or the session's own id.
	{SourceMatched, func(rec Record, env ResolveEnv) (Identity, bool) {
		if rec.OwnerID == "" {
			return Identity{}, false
		}
		if env.CachedProfile != nil && env.CachedProfile.ID == rec.OwnerID {
			return Identity{Name: env.CachedProfile.Name, ID: env.CachedProfile.ID}, true
		}
		if rec.OwnerID == env.AuthedID {
			return Identity{Name: rec.OwnerID, ID: rec.OwnerID}, true
		}
		return Identity{}, false
	}},
}

// Resolve applies the ranked rules to one record.
func Resolve(rec Record, env ResolveEnv) (name, id string, source Provenance) {
	for _, r := range rules {
		if ident, ok := r.apply(rec, env); ok {
			return ident.Name, ident.ID, r.source
		}
	}
	return "", rec.OwnerID, SourceUnknown
}

// Stamp returns a copy of rec with its display identity resolved.
func Stamp(rec Record, env ResolveEnv) Record {
	rec.StudentName, rec.StudentID, rec.Provenance = Resolve(rec, env)
	return rec
}

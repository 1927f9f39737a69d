package gattcentral

// UUIDFilter restricts scan results and attribute discovery to a known subset
// of identifiers. An empty filter matches everything. The filter is a
// read-only view over caller-owned storage: it is never modified by this
// package and is copied whenever it has to outlive the call it was passed to.
type UUIDFilter []UUID

// Contains reports whether u is listed in the filter.
func (f UUIDFilter) Contains(u UUID) bool {
	for _, id := range f {
		if id == u {
			return true
		}
	}
	return false
}

// Matches reports whether a single attribute identifier passes the filter.
func (f UUIDFilter) Matches(u UUID) bool {
	return len(f) == 0 || f.Contains(u)
}

// MatchesAll reports whether every identifier of the filter is present in
// advertised. It is used for scanning: a device is only surfaced when it
// advertises all the services a caller asked for.
func (f UUIDFilter) MatchesAll(advertised []UUID) bool {
	for _, id := range f {
		found := false
		for _, a := range advertised {
			if a == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f UUIDFilter) clone() UUIDFilter {
	if len(f) == 0 {
		return nil
	}
	return append(UUIDFilter(nil), f...)
}

package notes

// Supersedes reports whether incoming may replace existing in the cache.
// Conflict resolution is last-write-wins by timestamp, not by arrival order:
// a change carrying an older UpdatedAt never overwrites newer state. Equal
// timestamps admit the incoming write so that a server echo of a local
// mutation (same stamp) settles on the server's copy.
func Supersedes(incoming, existing Note) bool {
	if existing.UpdatedAt.IsZero() {
		return true
	}
	if incoming.UpdatedAt.IsZero() {
		return false
	}
	return !incoming.UpdatedAt.Before(existing.UpdatedAt)
}

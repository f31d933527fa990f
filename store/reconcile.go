package store

// Reconciler picks the surviving copy when a local and a remote record share
// an id during a subsequent hydration.
type Reconciler[T Record] func(local, remote T) T

// LastWriterWins keeps the remote copy only when its timestamp is strictly
// greater, protecting in-flight local edits from stale snapshot echoes.
func LastWriterWins[T Record](local, remote T) T {
	if remote.RecordUpdatedAt() > local.RecordUpdatedAt() {
		return remote
	}
	return local
}

// DedupeByID keeps exactly one element per id. Insertion order among distinct
// ids is preserved for display; when an id repeats, the last occurrence wins.
func DedupeByID[T Record](items []T) []T {
	return DedupeByIDWith(items, func(_, latest T) T { return latest })
}

// DedupeByIDWith is DedupeByID with a domain tiebreak deciding which of two
// copies of the same id survives (first argument is the kept copy so far,
// second the newly seen one).
func DedupeByIDWith[T Record](items []T, pick func(kept, next T) T) []T {
	out := make([]T, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := item.RecordID()
		if i, ok := index[id]; ok {
			out[i] = pick(out[i], item)
			continue
		}
		index[id] = len(out)
		out = append(out, item)
	}
	return out
}

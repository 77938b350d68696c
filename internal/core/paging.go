package core

import "sort"

// Order is the processing direction for a run.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// NextBatch computes the ordered subset of candidate identifiers to process
// this run. sortedIDs must be sorted ascending; lastProcessed and oldestCached
// use 0 to mean "unset".
//
// Ascending returns everything strictly greater than lastProcessed, which
// gives resumable forward pagination across runs.
//
// Descending returns ids greater than lastProcessed newest-first (fresh
// messages), then ids less than oldestCached newest-first (older backlog),
// skipping the already-cached middle range. With no oldestCached boundary the
// cache is treated as empty and the entire set is returned descending.
func NextBatch(sortedIDs []int64, lastProcessed, oldestCached int64, order Order) []int64 {
	if order == OrderAsc {
		start := sort.Search(len(sortedIDs), func(i int) bool {
			return sortedIDs[i] > lastProcessed
		})
		out := make([]int64, len(sortedIDs)-start)
		copy(out, sortedIDs[start:])
		return out
	}

	var fresh, backlog []int64
	for i := len(sortedIDs) - 1; i >= 0; i-- {
		id := sortedIDs[i]
		switch {
		case id > lastProcessed:
			fresh = append(fresh, id)
		case oldestCached == 0:
			// No cached boundary known: everything not fresh is backlog.
			backlog = append(backlog, id)
		case id < oldestCached:
			backlog = append(backlog, id)
		}
	}
	return append(fresh, backlog...)
}

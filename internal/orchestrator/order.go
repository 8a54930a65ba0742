package orchestrator

import (
	"sort"

	"modelprobe/pkg/types"
)

// SortSpecs returns a copy of specs ordered by priority, then size, then id,
// all ascending.
func SortSpecs(specs []types.ModelSpec) []types.ModelSpec {
	out := append([]types.ModelSpec(nil), specs...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.SizeBytes != b.SizeBytes {
			return a.SizeBytes < b.SizeBytes
		}
		return a.ID < b.ID
	})
	return out
}

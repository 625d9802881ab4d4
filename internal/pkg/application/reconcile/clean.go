package reconcile

import (
	"sort"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// Clean returns a normalised copy of the log: per key, records sorted by
// timestamp, exact duplicates dropped, and partial phase measurements with
// identical timestamps coalesced into one record. Separate readings report
// the L1, L2 and L3 values of the same instant, so without coalescing each
// phase would overwrite the previous one at the broker.
func (l Log) Clean() Log {
	cleaned := Log{}

	for key, records := range l {
		if len(records) == 0 {
			cleaned[key] = []Record{}
			continue
		}

		sorted := make([]Record, len(records))
		copy(sorted, records)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].less(sorted[j]) })

		result := make([]Record, 0, len(sorted))

		for _, record := range sorted {
			if len(result) == 0 {
				result = append(result, record)
				continue
			}

			previous := &result[len(result)-1]

			if previous.Equal(record) {
				continue
			}

			if previous.Timestamp == record.Timestamp {
				if merged, ok := mergePhases(previous.Value, record.Value); ok {
					previous.Value = merged
					continue
				}
			}

			result = append(result, record)
		}

		cleaned[key] = result
	}

	return cleaned
}

// mergePhases combines two phase measurements, with the earlier record's
// values winning where both carry the same phase.
func mergePhases(previous, next types.Value) (types.Value, bool) {
	previousPhases, ok := previous.(types.Phases)
	if !ok {
		return nil, false
	}
	nextPhases, ok := next.(types.Phases)
	if !ok {
		return nil, false
	}
	return previousPhases.Merge(nextPhases), true
}

package sync

import (
	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
)

// Rounds slices the update log into dispatch rounds. Round n holds the n:th
// pending record of every key that still has one, so each round patches any
// given attribute at most once and updates are applied strictly oldest
// first. The records are deep copies.
func Rounds(log reconcile.Log) [][]reconcile.Record {
	rounds := [][]reconcile.Record{}

	for depth := 0; ; depth++ {
		round := []reconcile.Record{}

		for _, key := range log.Keys() {
			records := log[key]
			if depth >= len(records) {
				continue
			}

			record := records[depth]
			if record.Value != nil {
				record.Value = record.Value.Clone()
			}
			round = append(round, record)
		}

		if len(round) == 0 {
			return rounds
		}
		rounds = append(rounds, round)
	}
}

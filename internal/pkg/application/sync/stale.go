// Package sync turns a reconciled working set into context broker calls:
// it drops updates the broker already has, plans entity creations and
// append fragments, and dispatches the update log in rounds of patches.
package sync

import (
	"context"
	"errors"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
)

// RemoveStale filters the update log against the broker's current state.
// For each key the broker's attribute is fetched once and only records
// strictly newer than its timestamp metadata survive. Keys whose entity or
// attribute does not exist remotely keep all their records, and so do keys
// whose remote attribute carries no usable timestamp.
func RemoveStale(ctx context.Context, cb client.ContextBrokerClient, log reconcile.Log) reconcile.Log {
	logger := logging.GetFromContext(ctx)
	fresh := reconcile.Log{}

	for _, key := range log.Keys() {
		records := log[key]
		if len(records) == 0 {
			fresh[key] = []reconcile.Record{}
			continue
		}

		attribute, err := cb.RetrieveAttribute(ctx, key.EntityID, key.EntityType, key.Attribute)
		if err != nil {
			if !errors.Is(err, client.ErrNotFound) {
				logger.Warn("failed to check remote attribute, keeping pending updates",
					"entity", key.EntityID, "attribute", key.Attribute, "err", err.Error())
			}
			fresh[key] = cloneRecords(records)
			continue
		}

		remoteTimestamp, ok := attribute.ObservedMillis()
		if !ok {
			fresh[key] = cloneRecords(records)
			continue
		}

		kept := make([]reconcile.Record, 0, len(records))
		for _, record := range records {
			if record.Timestamp > remoteTimestamp {
				kept = append(kept, record)
			}
		}
		fresh[key] = cloneRecords(kept)
	}

	return fresh
}

func cloneRecords(records []reconcile.Record) []reconcile.Record {
	cloned := make([]reconcile.Record, 0, len(records))
	for _, r := range records {
		if r.Value != nil {
			r.Value = r.Value.Clone()
		}
		cloned = append(cloned, r)
	}
	return cloned
}

package client

import (
	"context"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// DeleteAllEntities removes every entity the broker currently holds for the
// configured service. Individual delete failures are logged and skipped, and
// the number of successfully deleted entities is returned.
func DeleteAllEntities(ctx context.Context, cb ContextBrokerClient) (int, error) {
	log := logging.GetFromContext(ctx)

	refs, err := cb.ListEntities(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, ref := range refs {
		if err := cb.DeleteEntity(ctx, ref.ID, ref.Type); err != nil {
			log.Warn("failed to delete entity", "entity", ref.ID, "err", err.Error())
			continue
		}

		deleted++
	}

	return deleted, nil
}

// DeleteAllSubscriptions removes every subscription registered with the
// broker for the configured service.
func DeleteAllSubscriptions(ctx context.Context, cb ContextBrokerClient) (int, error) {
	log := logging.GetFromContext(ctx)

	subs, err := cb.ListSubscriptions(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0

	for _, sub := range subs {
		if err := cb.DeleteSubscription(ctx, sub.ID); err != nil {
			log.Warn("failed to delete subscription", "subscription", sub.ID, "err", err.Error())
			continue
		}

		deleted++
	}

	return deleted, nil
}

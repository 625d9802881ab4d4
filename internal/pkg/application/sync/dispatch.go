package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// DefaultRoundDelay is the pause between update rounds, giving the broker
// time to notify subscribers of one round before the next one lands.
const DefaultRoundDelay = 15 * time.Second

// Dispatch pushes a planned synchronisation to the broker: new entities
// first, then the append fragments, then the update rounds oldest first
// with a delay between consecutive rounds.
func Dispatch(ctx context.Context, cb client.ContextBrokerClient, create, update []*types.Entity, rounds [][]reconcile.Record, roundDelay time.Duration) error {
	logger := logging.GetFromContext(ctx)

	if len(create) > 0 {
		if err := cb.CreateEntities(ctx, create); err != nil {
			return fmt.Errorf("failed to create entities: %w", err)
		}
		logger.Info("created entities", "count", len(create))
	}

	if len(update) > 0 {
		if err := cb.AppendToEntities(ctx, update); err != nil {
			return fmt.Errorf("failed to append entity fragments: %w", err)
		}
		logger.Info("appended entity fragments", "count", len(update))
	}

	for i, round := range rounds {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(roundDelay):
			}
		}

		if err := cb.UpdateAttributes(ctx, fragmentsForRound(round)); err != nil {
			return fmt.Errorf("failed to send update round %d of %d: %w", i+1, len(rounds), err)
		}

		logger.Info("sent update round", "round", i+1, "of", len(rounds), "patches", len(round))
	}

	return nil
}

// fragmentsForRound groups a round's records into one update fragment per
// entity, in the order the entities first appear in the round.
func fragmentsForRound(round []reconcile.Record) []*types.Entity {
	index := map[string]int{}
	fragments := []*types.Entity{}

	for _, record := range round {
		idx, ok := index[record.Key.EntityID]
		if !ok {
			idx = len(fragments)
			index[record.Key.EntityID] = idx
			fragments = append(fragments, &types.Entity{
				ID:         record.Key.EntityID,
				Type:       record.Key.EntityType,
				Attributes: map[string]types.Attribute{},
			})
		}
		fragments[idx].Attributes[record.Key.Attribute] = record.Attribute()
	}

	return fragments
}

package sync

import (
	"context"
	"errors"
	"strings"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"

	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// Plan compares the working set against the broker. Entities unknown to the
// broker are returned in full for creation. For known entities only the
// static attributes that differ are returned, as append fragments. Dynamic
// attributes are never part of a fragment since they flow through the
// update log.
func Plan(ctx context.Context, cb client.ContextBrokerClient, entities []*types.Entity) (create []*types.Entity, update []*types.Entity) {
	logger := logging.GetFromContext(ctx)

	create = []*types.Entity{}
	update = []*types.Entity{}

	for _, e := range entities {
		remote, err := cb.RetrieveEntity(ctx, e.ID, e.Type)
		if err != nil {
			if errors.Is(err, client.ErrNotFound) {
				create = append(create, e.Clone())
				continue
			}
			logger.Warn("failed to retrieve remote entity, skipping", "entity", e.ID, "err", err.Error())
			continue
		}

		if fragment := diffEntity(e, remote); fragment != nil {
			update = append(update, fragment)
		}
	}

	return create, update
}

// diffEntity returns an append fragment with the attributes of local that
// the remote entity lacks or stores differently, or nil when nothing
// changed. Reference attributes accumulate: values the broker already has
// are kept and local additions are merged in.
func diffEntity(local, remote *types.Entity) *types.Entity {
	dynamic := map[string]struct{}{}
	if schema, ok := streetlight.Schema(local.Type); ok {
		for _, name := range schema.DynamicFlat() {
			dynamic[name] = struct{}{}
		}
	}

	changed := map[string]types.Attribute{}

	for _, name := range local.AttributeNames() {
		if _, isDynamic := dynamic[name]; isDynamic {
			continue
		}

		attribute, _ := local.Attribute(name)
		if attribute.Value == nil {
			continue
		}

		remoteAttribute, ok := remote.Attribute(name)
		if !ok {
			changed[name] = attribute.Clone()
			continue
		}

		var merged types.Attribute
		var differs bool

		switch name {
		case streetlight.AttrRefCabinetController:
			merged, differs = mergeControllerList(attribute, remoteAttribute)
		case streetlight.AttrRefStreetlightGroup:
			merged, differs = mergeReferenceList(attribute, remoteAttribute)
		default:
			merged, differs = mergePlain(attribute, remoteAttribute)
		}

		if differs {
			changed[name] = merged
		}
	}

	if len(changed) == 0 {
		return nil
	}

	return &types.Entity{ID: local.ID, Type: local.Type, Attributes: changed}
}

// mergePlain reports a change when type or value differ. The fragment keeps
// the remote metadata entries the local attribute does not set, except the
// broker managed date stamps.
func mergePlain(local, remote types.Attribute) (types.Attribute, bool) {
	if local.Type == remote.Type && remote.Value != nil && local.Value.Equal(remote.Value) && metadataCovered(local, remote) {
		return types.Attribute{}, false
	}

	merged := local.Clone()
	carryRemoteMetadata(&merged, remote)
	return merged, true
}

// metadataCovered reports whether every local metadata entry already exists
// remotely with the same content.
func metadataCovered(local, remote types.Attribute) bool {
	for name, meta := range local.Metadata {
		remoteMeta, ok := remote.Metadata[name]
		if !ok || !meta.Equal(remoteMeta) {
			return false
		}
	}
	return true
}

func carryRemoteMetadata(merged *types.Attribute, remote types.Attribute) {
	for name, meta := range remote.Metadata {
		if name == "dateCreated" || name == "dateModified" {
			continue
		}
		if _, ok := merged.Metadata[name]; !ok {
			merged.Metadata[name] = meta
		}
	}
}

// mergeControllerList unions the delimited controller lists of a group. The
// broker's list is kept in order and locally known cabinets are appended,
// together with their relay metadata.
func mergeControllerList(local, remote types.Attribute) (types.Attribute, bool) {
	localValue, _ := local.Value.(types.Text)
	remoteValue, _ := remote.Value.(types.Text)

	localIDs := streetlight.SplitControllerList(string(localValue))
	remoteIDs := streetlight.SplitControllerList(string(remoteValue))

	localRelays, _ := local.Metadata[streetlight.MetadataRelays].Value.(types.NestedTextList)
	remoteRelays, _ := remote.Metadata[streetlight.MetadataRelays].Value.(types.NestedTextList)

	known := map[string]struct{}{}
	for _, id := range remoteIDs {
		known[id] = struct{}{}
	}

	mergedIDs := append([]string{}, remoteIDs...)
	mergedRelays := remoteRelays.Clone().(types.NestedTextList)

	added := false
	for i, id := range localIDs {
		if _, ok := known[id]; ok {
			continue
		}
		mergedIDs = append(mergedIDs, id)
		relays := []string{}
		if i < len(localRelays) {
			relays = append(relays, localRelays[i]...)
		}
		mergedRelays = append(mergedRelays, relays)
		added = true
	}

	if !added {
		return types.Attribute{}, false
	}

	merged := local.Clone()
	merged.Value = types.Text(strings.Join(mergedIDs, streetlight.ControllerDelimiter))
	merged.Metadata[streetlight.MetadataRelays] = types.Metadata{
		Type:  types.TypeStructuredValue,
		Value: mergedRelays,
	}
	carryRemoteMetadata(&merged, remote)
	return merged, true
}

// mergeReferenceList unions a text list reference, keeping the broker's
// order and appending local additions.
func mergeReferenceList(local, remote types.Attribute) (types.Attribute, bool) {
	localList, _ := local.Value.(types.TextList)
	remoteList, _ := remote.Value.(types.TextList)

	known := map[string]struct{}{}
	for _, id := range remoteList {
		known[id] = struct{}{}
	}

	mergedList := remoteList.Clone().(types.TextList)

	added := false
	for _, id := range localList {
		if _, ok := known[id]; ok {
			continue
		}
		mergedList = append(mergedList, id)
		added = true
	}

	if !added {
		return types.Attribute{}, false
	}

	merged := local.Clone()
	merged.Value = mergedList
	carryRemoteMetadata(&merged, remote)
	return merged, true
}

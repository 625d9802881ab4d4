package sync

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/cityiot/streetlight-sync/internal/pkg/application/reconcile"
	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/client"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/subscriptions"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

type mockBroker struct {
	retrieveEntity    func(ctx context.Context, entityID, entityType string) (*types.Entity, error)
	retrieveAttribute func(ctx context.Context, entityID, entityType, attributeName string) (*types.Attribute, error)
	createEntities    func(ctx context.Context, entities []*types.Entity) error
	appendToEntities  func(ctx context.Context, fragments []*types.Entity) error
	updateAttributes  func(ctx context.Context, fragments []*types.Entity) error
}

func (m *mockBroker) RetrieveEntity(ctx context.Context, entityID, entityType string) (*types.Entity, error) {
	return m.retrieveEntity(ctx, entityID, entityType)
}

func (m *mockBroker) RetrieveAttribute(ctx context.Context, entityID, entityType, attributeName string) (*types.Attribute, error) {
	return m.retrieveAttribute(ctx, entityID, entityType, attributeName)
}

func (m *mockBroker) CreateEntities(ctx context.Context, entities []*types.Entity) error {
	return m.createEntities(ctx, entities)
}

func (m *mockBroker) AppendToEntities(ctx context.Context, fragments []*types.Entity) error {
	return m.appendToEntities(ctx, fragments)
}

func (m *mockBroker) UpdateAttributes(ctx context.Context, fragments []*types.Entity) error {
	return m.updateAttributes(ctx, fragments)
}

func (m *mockBroker) ListEntities(context.Context) ([]client.EntityRef, error) { return nil, nil }
func (m *mockBroker) DeleteEntity(context.Context, string, string) error      { return nil }
func (m *mockBroker) ListSubscriptions(context.Context) ([]subscriptions.Subscription, error) {
	return nil, nil
}
func (m *mockBroker) CreateSubscription(context.Context, subscriptions.Subscription) error {
	return nil
}
func (m *mockBroker) DeleteSubscription(context.Context, string) error { return nil }

func record(key reconcile.UpdateKey, value float64, timestamp int64) reconcile.Record {
	return reconcile.Record{
		Key:       key,
		Type:      types.TypeNumber,
		Value:     types.Number(value),
		Timestamp: timestamp,
	}
}

func TestRemoveStaleKeepsOnlyStrictlyNewerRecords(t *testing.T) {
	is := is.New(t)

	key := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:Cab_1", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOn}
	log := reconcile.Log{key: {
		record(key, 40, 1000),
		record(key, 50, 2000),
		record(key, 60, 3000),
	}}

	remote := types.NewAttribute(types.TypeNumber, types.Number(50), types.Timestamp(2000))

	fresh := RemoveStale(context.Background(), &mockBroker{
		retrieveAttribute: func(_ context.Context, _, _, _ string) (*types.Attribute, error) {
			return &remote, nil
		},
	}, log)

	is.Equal(len(fresh[key]), 1)
	is.Equal(fresh[key][0].Timestamp, int64(3000))
}

func TestRemoveStaleKeepsEverythingForUnknownEntities(t *testing.T) {
	is := is.New(t)

	key := reconcile.UpdateKey{EntityID: "StreetlightGroup:KV_2", EntityType: streetlight.GroupTypeName, Attribute: streetlight.AttrIntensity}
	log := reconcile.Log{key: {record(key, 5.2, 1000), record(key, 4.8, 2000)}}

	fresh := RemoveStale(context.Background(), &mockBroker{
		retrieveAttribute: func(_ context.Context, _, _, _ string) (*types.Attribute, error) {
			return nil, client.ErrNotFound
		},
	}, log)

	is.Equal(len(fresh[key]), 2)
}

func TestRoundsTakeOneRecordPerKey(t *testing.T) {
	is := is.New(t)

	keyA := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:A", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOn}
	keyB := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:B", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOn}

	log := reconcile.Log{
		keyA: {record(keyA, 1, 1000), record(keyA, 2, 2000)},
		keyB: {record(keyB, 3, 1500)},
	}

	rounds := Rounds(log)

	is.Equal(len(rounds), 2)
	is.Equal(len(rounds[0]), 2)
	is.Equal(len(rounds[1]), 1)
	is.Equal(rounds[1][0].Key, keyA)
	is.Equal(rounds[1][0].Value, types.Number(2))
}

func TestPlanCreatesUnknownEntities(t *testing.T) {
	is := is.New(t)

	e := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)

	create, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return nil, client.ErrNotFound
		},
	}, []*types.Entity{e})

	is.Equal(len(create), 1)
	is.Equal(len(update), 0)
	is.Equal(create[0].ID, e.ID)
}

func TestPlanSkipsUnchangedEntities(t *testing.T) {
	is := is.New(t)

	e := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)

	create, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return e.Clone(), nil
		},
	}, []*types.Entity{e})

	is.Equal(len(create), 0)
	is.Equal(len(update), 0)
}

func TestPlanFragmentsChangedStaticAttributes(t *testing.T) {
	is := is.New(t)

	local := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)
	local.SetAttribute(streetlight.AttrAddress, streetlight.NewPostalAddress("Katukatu 1"))

	remote := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)

	_, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return remote, nil
		},
	}, []*types.Entity{local})

	is.Equal(len(update), 1)
	is.Equal(len(update[0].Attributes), 1)
	is.True(update[0].HasAttribute(streetlight.AttrAddress))
}

func TestPlanNeverFragmentsDynamicAttributes(t *testing.T) {
	is := is.New(t)

	local := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)
	local.SetAttribute(streetlight.AttrIlluminanceOn, types.NewAttribute(types.TypeNumber, types.Number(50), types.Timestamp(2000)))

	remote := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)

	_, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return remote, nil
		},
	}, []*types.Entity{local})

	is.Equal(len(update), 0)
}

func TestPlanUnionsControllerLists(t *testing.T) {
	is := is.New(t)

	local := streetlight.NewGroup("StreetlightGroup:KV_2", "StreetlightControlCabinet:Cab_2", []string{"R3"}, 1000)
	remote := streetlight.NewGroup("StreetlightGroup:KV_2", "StreetlightControlCabinet:Cab_1", []string{"R1", "R2"}, 1000)

	_, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return remote, nil
		},
	}, []*types.Entity{local})

	is.Equal(len(update), 1)

	controller, ok := update[0].Attribute(streetlight.AttrRefCabinetController)
	is.True(ok)
	is.Equal(controller.Value, types.Text("StreetlightControlCabinet:Cab_1___StreetlightControlCabinet:Cab_2"))

	relays := controller.Metadata[streetlight.MetadataRelays].Value.(types.NestedTextList)
	is.Equal(relays, types.NestedTextList{{"R1", "R2"}, {"R3"}})
}

func TestPlanUnionsGroupReferences(t *testing.T) {
	is := is.New(t)

	local := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)
	localRef, _ := local.Attribute(streetlight.AttrRefStreetlightGroup)
	localRef.Value = types.TextList{"StreetlightGroup:KV_2", "StreetlightGroup:KV_3"}
	local.SetAttribute(streetlight.AttrRefStreetlightGroup, localRef)

	remote := streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)
	remoteRef, _ := remote.Attribute(streetlight.AttrRefStreetlightGroup)
	remoteRef.Value = types.TextList{"StreetlightGroup:KV_1", "StreetlightGroup:KV_2"}
	remote.SetAttribute(streetlight.AttrRefStreetlightGroup, remoteRef)

	_, update := Plan(context.Background(), &mockBroker{
		retrieveEntity: func(_ context.Context, _, _ string) (*types.Entity, error) {
			return remote, nil
		},
	}, []*types.Entity{local})

	is.Equal(len(update), 1)

	ref, _ := update[0].Attribute(streetlight.AttrRefStreetlightGroup)
	is.Equal(ref.Value, types.TextList{"StreetlightGroup:KV_1", "StreetlightGroup:KV_2", "StreetlightGroup:KV_3"})
}

func TestDispatchSendsCreatesAppendsAndRounds(t *testing.T) {
	is := is.New(t)

	calls := []string{}
	broker := &mockBroker{
		createEntities: func(_ context.Context, entities []*types.Entity) error {
			calls = append(calls, "create")
			is.Equal(len(entities), 1)
			return nil
		},
		appendToEntities: func(_ context.Context, fragments []*types.Entity) error {
			calls = append(calls, "append")
			return nil
		},
		updateAttributes: func(_ context.Context, fragments []*types.Entity) error {
			calls = append(calls, "update")
			is.Equal(len(fragments), 1)
			is.Equal(len(fragments[0].Attributes), 2)
			return nil
		},
	}

	keyOn := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:Cab_1", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOn}
	keyOff := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:Cab_1", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOff}

	log := reconcile.Log{
		keyOn:  {record(keyOn, 50, 1000)},
		keyOff: {record(keyOff, 30, 1000)},
	}

	err := Dispatch(context.Background(),
		broker,
		[]*types.Entity{streetlight.NewControlCabinet("StreetlightControlCabinet:Cab_1", 1000)},
		[]*types.Entity{{ID: "StreetlightGroup:KV_2", Type: streetlight.GroupTypeName, Attributes: map[string]types.Attribute{}}},
		Rounds(log),
		0)

	is.NoErr(err)
	is.Equal(calls, []string{"create", "append", "update"})
}

func TestDispatchStopsWhenCancelledBetweenRounds(t *testing.T) {
	is := is.New(t)

	updates := 0
	broker := &mockBroker{
		updateAttributes: func(_ context.Context, _ []*types.Entity) error {
			updates++
			return nil
		},
	}

	key := reconcile.UpdateKey{EntityID: "StreetlightControlCabinet:Cab_1", EntityType: streetlight.CabinetTypeName, Attribute: streetlight.AttrIlluminanceOn}
	log := reconcile.Log{key: {record(key, 50, 1000), record(key, 60, 2000)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Dispatch(ctx, broker, nil, nil, Rounds(log), DefaultRoundDelay)

	is.True(err != nil)
	is.Equal(updates, 1)
}

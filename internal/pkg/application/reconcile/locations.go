package reconcile

import (
	"context"

	"github.com/cityiot/streetlight-sync/pkg/datamodels/streetlight"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
)

// GeocodeResolver resolves a street address to coordinates. A false result
// means the address could not be resolved and the entity goes without a
// location.
type GeocodeResolver interface {
	Resolve(ctx context.Context, street, city, country string) (types.Point, bool)
}

// EnrichLocations adds location attributes to entities that lack one.
// Cabinets and groups are geocoded from their street address, and devices
// inherit the location of the entity that owns them. Entities whose address
// cannot be resolved are left untouched.
func EnrichLocations(ctx context.Context, entities []*types.Entity, resolver GeocodeResolver) {
	for _, e := range entities {
		if e.Type == streetlight.DeviceTypeName || e.HasAttribute(streetlight.AttrLocation) {
			continue
		}

		address, ok := e.Attribute(streetlight.AttrAddress)
		if !ok {
			address = streetlight.NewPostalAddress("")
			e.SetAttribute(streetlight.AttrAddress, address)
		}

		postal, ok := address.Value.(types.PostalAddress)
		if !ok {
			continue
		}

		if point, ok := resolver.Resolve(ctx, postal.Street, postal.Locality, postal.Country); ok {
			e.SetAttribute(streetlight.AttrLocation, streetlight.NewLocation(point.Latitude, point.Longitude))
		}
	}

	for _, e := range entities {
		if e.Type != streetlight.DeviceTypeName || e.HasAttribute(streetlight.AttrLocation) {
			continue
		}

		owner, ok := e.Attribute(streetlight.AttrOwner)
		if !ok {
			continue
		}

		ownerID, ok := owner.Value.(types.Text)
		if !ok {
			continue
		}

		for _, other := range entities {
			if other.ID != string(ownerID) {
				continue
			}
			if location, ok := other.Attribute(streetlight.AttrLocation); ok {
				e.SetAttribute(streetlight.AttrLocation, location.Clone())
			}
			break
		}
	}
}

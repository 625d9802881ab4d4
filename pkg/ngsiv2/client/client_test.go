package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/subscriptions"
	"github.com/cityiot/streetlight-sync/pkg/ngsiv2/types"
	"github.com/matryer/is"
)

func TestRetrieveEntity(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/v2/entities/Device:doorsensor_G1")
		is.Equal(r.URL.Query().Get("type"), "Device")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"Device:doorsensor_G1","type":"Device","value":{"type":"Text","value":"open","metadata":{}}}`))
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	e, err := c.RetrieveEntity(context.Background(), "Device:doorsensor_G1", "Device")
	is.NoErr(err)
	is.Equal(e.ID, "Device:doorsensor_G1")

	value, ok := e.Attribute("value")
	is.True(ok)
	is.True(value.Value.Equal(types.Text("open")))
}

func TestRetrieveEntityNotFound(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"NotFound"}`))
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	_, err := c.RetrieveEntity(context.Background(), "Device:nope", "Device")
	is.True(errors.Is(err, ErrNotFound))
}

func TestRetrieveAttribute(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/v2/entities/StreetlightControlCabinet:Cab_1/attrs/illuminanceOn")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"type":"Number","value":50,"metadata":{"timestamp":{"type":"DateTime","value":"2020-01-01T10:00:00.00Z"}}}`))
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	a, err := c.RetrieveAttribute(context.Background(), "StreetlightControlCabinet:Cab_1", "StreetlightControlCabinet", "illuminanceOn")
	is.NoErr(err)
	is.True(a.Value.Equal(types.Number(50)))

	_, ok := a.ObservedMillis()
	is.True(ok)
}

func TestCreateEntitiesPostsOpUpdate(t *testing.T) {
	is := is.New(t)

	var received struct {
		ActionType string           `json:"actionType"`
		Entities   []map[string]any `json:"entities"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/v2/op/update")
		is.NoErr(json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	e := types.NewEntity("StreetlightGroup", "G1")
	e.SetAttribute("intensity", types.NewAttribute(types.TypeStructuredValue, types.Phases{}))

	is.NoErr(c.CreateEntities(context.Background(), []*types.Entity{e}))
	is.Equal(received.ActionType, "append")
	is.Equal(len(received.Entities), 1)
	is.Equal(received.Entities[0]["id"], "StreetlightGroup:G1")
}

func TestUpdateAttributesUsesUpdateAction(t *testing.T) {
	is := is.New(t)

	var actionType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := struct {
			ActionType string `json:"actionType"`
		}{}
		json.NewDecoder(r.Body).Decode(&payload)
		actionType = payload.ActionType
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	e := types.NewEntity("Device", "doorsensor_G1")
	e.SetAttribute("value", types.NewAttribute(types.TypeText, types.Text("open")))

	is.NoErr(c.UpdateAttributes(context.Background(), []*types.Entity{e}))
	is.Equal(actionType, "update")
}

func TestServiceHeadersAreSent(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.Header.Get("Fiware-Service"), "streetlights")
		is.Equal(r.Header.Get("Fiware-ServicePath"), "/tampere")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL+"/v2", Service("streetlights", "/tampere"))
	c.RetrieveEntity(context.Background(), "Device:x", "Device")
}

type refreshingProvider struct {
	applied   []string
	refreshed bool
}

func (p *refreshingProvider) Apply(r *http.Request) {
	token := "stale"
	if p.refreshed {
		token = "fresh"
	}
	p.applied = append(p.applied, token)
	r.Header.Set("apikey", token)
}

func (p *refreshingProvider) Refresh(ctx context.Context) bool {
	p.refreshed = true
	return true
}

func TestTokenRefreshRetriesExactlyOnce(t *testing.T) {
	is := is.New(t)

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("apikey") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid_token"}`))
			return
		}
		w.Write([]byte(`{"id":"Device:x","type":"Device"}`))
	}))
	defer server.Close()

	provider := &refreshingProvider{}
	c := NewContextBrokerClient(server.URL+"/v2", Tokens(provider))

	e, err := c.RetrieveEntity(context.Background(), "Device:x", "Device")
	is.NoErr(err)
	is.Equal(e.ID, "Device:x")
	is.Equal(calls, 2)
	is.Equal(provider.applied, []string{"stale", "fresh"})
}

func TestListSubscriptionsPages(t *testing.T) {
	is := is.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		w.Header().Set("Fiware-Total-Count", "3")
		w.Header().Set("Content-Type", "application/json")

		if offset == "0" {
			w.Write([]byte(`[{"id":"sub1"},{"id":"sub2"}]`))
			return
		}
		w.Write([]byte(`[{"id":"sub3"}]`))
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	subs, err := c.ListSubscriptions(context.Background())
	is.NoErr(err)
	is.Equal(len(subs), 3)
	is.Equal(subs[2].ID, "sub3")
}

func TestDeleteAllEntitiesSkipsFailures(t *testing.T) {
	is := is.New(t)

	deletes := []string{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Fiware-Total-Count", "3")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"Device:a","type":"Device"},{"id":"Device:b","type":"Device"},{"id":"Device:c","type":"Device"}]`))
			return
		}

		deletes = append(deletes, r.URL.Path)
		if r.URL.Path == "/v2/entities/Device:b" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"InternalError"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	deleted, err := DeleteAllEntities(context.Background(), c)
	is.NoErr(err)
	is.Equal(deleted, 2)
	is.Equal(len(deletes), 3)
}

func TestDeleteAllSubscriptions(t *testing.T) {
	is := is.New(t)

	deletes := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Fiware-Total-Count", "2")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`[{"id":"sub1"},{"id":"sub2"}]`))
			return
		}

		deletes++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	deleted, err := DeleteAllSubscriptions(context.Background(), c)
	is.NoErr(err)
	is.Equal(deleted, 2)
	is.Equal(deletes, 2)
}

func TestCreateSubscription(t *testing.T) {
	is := is.New(t)

	var received subscriptions.Subscription

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		is.Equal(r.URL.Path, "/v2/subscriptions")
		is.NoErr(json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := NewContextBrokerClient(server.URL + "/v2")

	sub := subscriptions.New("Device", []string{"value"}, []string{"value"}, false, subscriptions.Target{URL: "http://quantumleap:8668/v2/notify"})
	is.NoErr(c.CreateSubscription(context.Background(), sub))
	is.Equal(received.Subject.Entities[0].Type, "Device")
	is.Equal(received.Notification.Attrs, []string{"value"})
}
